// ABOUTME: JSON form of record entries with explicit key and value encodings
// ABOUTME: Converts between api.Entry and record.DataEntry in both directions

package api

import (
	"encoding/base64"
	"fmt"
	"unicode/utf8"

	"github.com/2389/metasave/internal/record"
)

// Encodings for keys and values.
const (
	EncodingUTF8   = "utf8"
	EncodingBase64 = "base64"
)

// Entry is one key/value pair on the wire.
type Entry struct {
	Key           string `json:"key"`
	KeyEncoding   string `json:"key_encoding,omitempty"`
	Value         string `json:"value,omitempty"`
	ValueEncoding string `json:"value_encoding,omitempty"`

	// Int32 may be sent instead of Value; it is stored as 4 little-endian bytes.
	Int32 *int32 `json:"int32,omitempty"`

	// AsInt32 is set on responses when the value is exactly 4 bytes.
	AsInt32 *int32 `json:"as_int32,omitempty"`
}

// DecodeBytes decodes s according to encoding. An empty encoding means def.
func DecodeBytes(s, encoding, def string) ([]byte, error) {
	if encoding == "" {
		encoding = def
	}
	switch encoding {
	case EncodingUTF8:
		return []byte(s), nil
	case EncodingBase64:
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("decoding base64: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
}

// EncodeKey renders a key as UTF-8 when it is valid UTF-8, base64 otherwise.
func EncodeKey(key []byte) (string, string) {
	if utf8.Valid(key) {
		return string(key), ""
	}
	return base64.StdEncoding.EncodeToString(key), EncodingBase64
}

// DecodeKey decodes a key; keys default to UTF-8.
func DecodeKey(s, encoding string) ([]byte, error) {
	return DecodeBytes(s, encoding, EncodingUTF8)
}

// FromDataEntry converts a stored entry to its wire form.
func FromDataEntry(e record.DataEntry) Entry {
	key, keyEnc := EncodeKey(e.Key)
	out := Entry{
		Key:         key,
		KeyEncoding: keyEnc,
		Value:       base64.StdEncoding.EncodeToString(e.Value),
	}
	if n, err := record.DecodeInt32(e.Value); err == nil {
		out.AsInt32 = &n
	}
	return out
}

// FromDataRecord converts every entry of rec, preserving order.
func FromDataRecord(rec record.DataRecord) []Entry {
	out := make([]Entry, 0, len(rec))
	for _, e := range rec {
		out = append(out, FromDataEntry(e))
	}
	return out
}

// DataEntry decodes the wire entry. Values default to base64.
func (e Entry) DataEntry() (record.DataEntry, error) {
	key, err := DecodeKey(e.Key, e.KeyEncoding)
	if err != nil {
		return record.DataEntry{}, fmt.Errorf("key: %w", err)
	}
	if e.Int32 != nil {
		if e.Value != "" {
			return record.DataEntry{}, fmt.Errorf("entry %q sets both value and int32", e.Key)
		}
		return record.DataEntry{Key: key, Value: record.EncodeInt32(*e.Int32)}, nil
	}
	value, err := DecodeBytes(e.Value, e.ValueEncoding, EncodingBase64)
	if err != nil {
		return record.DataEntry{}, fmt.Errorf("value: %w", err)
	}
	return record.DataEntry{Key: key, Value: value}, nil
}
