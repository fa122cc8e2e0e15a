// ABOUTME: Fixed-width numeric values stored in record entries
// ABOUTME: 4-byte little-endian int32 encoding with wrapping addition

package record

import (
	"encoding/binary"
	"fmt"
)

// NumericSize is the only value width the numeric merge accepts.
const NumericSize = 4

// EncodeInt32 returns v as 4 little-endian bytes.
func EncodeInt32(v int32) []byte {
	b := make([]byte, NumericSize)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

// DecodeInt32 interprets exactly 4 bytes as a little-endian int32.
func DecodeInt32(b []byte) (int32, error) {
	if len(b) != NumericSize {
		return 0, fmt.Errorf("value is %d bytes, want %d: %w", len(b), NumericSize, ErrBadSize)
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

// AddInt32 adds two encoded int32 values. Overflow wraps around; it never
// saturates or fails.
func AddInt32(existing, incoming []byte) ([]byte, error) {
	a, err := DecodeInt32(existing)
	if err != nil {
		return nil, fmt.Errorf("existing %w", err)
	}
	b, err := DecodeInt32(incoming)
	if err != nil {
		return nil, fmt.Errorf("incoming %w", err)
	}
	return EncodeInt32(a + b), nil
}
