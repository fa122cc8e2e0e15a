// ABOUTME: Binary codec for persisting records and permission lists
// ABOUTME: Protobuf wire format via protowire, order-preserving

package record

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers. A record is `repeated Entry entries = 1` with
// `Entry { bytes key = 1; bytes value = 2; }`; a permission list is
// `repeated Grant grants = 1` with `Grant { uint64 game = 1; uint32 access = 2; }`.
const (
	fieldItem   protowire.Number = 1
	fieldKey    protowire.Number = 1
	fieldValue  protowire.Number = 2
	fieldGame   protowire.Number = 1
	fieldAccess protowire.Number = 2
)

var errTruncated = errors.New("truncated record data")

// MarshalRecord encodes a record. An empty record encodes to an empty,
// non-nil slice so backends can tell it apart from a missing key.
func MarshalRecord(r DataRecord) []byte {
	out := []byte{}
	for _, e := range r {
		var item []byte
		item = protowire.AppendTag(item, fieldKey, protowire.BytesType)
		item = protowire.AppendBytes(item, e.Key)
		item = protowire.AppendTag(item, fieldValue, protowire.BytesType)
		item = protowire.AppendBytes(item, e.Value)

		out = protowire.AppendTag(out, fieldItem, protowire.BytesType)
		out = protowire.AppendBytes(out, item)
	}
	return out
}

// UnmarshalRecord decodes data written by MarshalRecord.
func UnmarshalRecord(data []byte) (DataRecord, error) {
	r := DataRecord{}
	err := eachItem(data, func(item []byte) error {
		var e DataEntry
		err := eachField(item, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			if typ != protowire.BytesType {
				return protowire.ConsumeFieldValue(num, typ, b), nil
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			switch num {
			case fieldKey:
				e.Key = append([]byte{}, v...)
			case fieldValue:
				e.Value = append([]byte{}, v...)
			}
			return n, nil
		})
		if err != nil {
			return err
		}
		if e.Key == nil {
			e.Key = []byte{}
		}
		if e.Value == nil {
			e.Value = []byte{}
		}
		r = append(r, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return r, nil
}

// MarshalPermissions encodes a permission list.
func MarshalPermissions(p Permissions) []byte {
	out := []byte{}
	for _, perm := range p {
		var item []byte
		item = protowire.AppendTag(item, fieldGame, protowire.VarintType)
		item = protowire.AppendVarint(item, uint64(perm.Game))
		item = protowire.AppendTag(item, fieldAccess, protowire.VarintType)
		item = protowire.AppendVarint(item, uint64(perm.Access))

		out = protowire.AppendTag(out, fieldItem, protowire.BytesType)
		out = protowire.AppendBytes(out, item)
	}
	return out
}

// UnmarshalPermissions decodes data written by MarshalPermissions.
func UnmarshalPermissions(data []byte) (Permissions, error) {
	p := Permissions{}
	err := eachItem(data, func(item []byte) error {
		var perm Permission
		err := eachField(item, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			if typ != protowire.VarintType {
				return protowire.ConsumeFieldValue(num, typ, b), nil
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return n, nil
			}
			switch num {
			case fieldGame:
				perm.Game = GameID(v)
			case fieldAccess:
				perm.Access = Access(v)
				if !perm.Access.Valid() {
					return 0, fmt.Errorf("unknown access level %d", v)
				}
			}
			return n, nil
		})
		if err != nil {
			return err
		}
		p = append(p, perm)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decoding permissions: %w", err)
	}
	return p, nil
}

// eachItem walks the repeated top-level field and hands each embedded
// message to fn. Unknown top-level fields are skipped.
func eachItem(data []byte, fn func(item []byte) error) error {
	return eachField(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != fieldItem || typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		item, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		return n, fn(item)
	})
}

// eachField iterates the fields of one message. fn consumes the field value
// and returns the number of bytes used, or a negative protowire error code.
func eachField(data []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		m, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		if m > len(data) {
			return errTruncated
		}
		data = data[m:]
	}
	return nil
}
