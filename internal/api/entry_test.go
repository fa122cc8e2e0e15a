package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/metasave/internal/record"
)

func TestEntry_DataEntry(t *testing.T) {
	seven := int32(7)
	tests := []struct {
		name    string
		in      Entry
		want    record.DataEntry
		wantErr string
	}{
		{"utf8 key base64 value", Entry{Key: "Time", Value: "AQAAAA=="},
			record.DataEntry{Key: []byte("Time"), Value: []byte{1, 0, 0, 0}}, ""},
		{"utf8 value", Entry{Key: "Motd", Value: "hi", ValueEncoding: EncodingUTF8},
			record.DataEntry{Key: []byte("Motd"), Value: []byte("hi")}, ""},
		{"base64 key", Entry{Key: "/w==", KeyEncoding: EncodingBase64, Value: ""},
			record.DataEntry{Key: []byte{0xff}, Value: []byte{}}, ""},
		{"int32", Entry{Key: "Kills", Int32: &seven},
			record.DataEntry{Key: []byte("Kills"), Value: record.EncodeInt32(7)}, ""},
		{"int32 and value", Entry{Key: "k", Value: "AA==", Int32: &seven}, record.DataEntry{}, "both"},
		{"bad base64", Entry{Key: "k", Value: "!!"}, record.DataEntry{}, "value"},
		{"unknown encoding", Entry{Key: "k", KeyEncoding: "hex"}, record.DataEntry{}, "unknown encoding"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.DataEntry()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Key, got.Key)
			assert.Equal(t, len(tt.want.Value), len(got.Value))
			if len(tt.want.Value) > 0 {
				assert.Equal(t, tt.want.Value, got.Value)
			}
		})
	}
}

func TestFromDataEntry(t *testing.T) {
	e := FromDataEntry(record.DataEntry{Key: []byte("Deaths"), Value: record.EncodeInt32(-2)})
	assert.Equal(t, "Deaths", e.Key)
	assert.Empty(t, e.KeyEncoding)
	require.NotNil(t, e.AsInt32)
	assert.Equal(t, int32(-2), *e.AsInt32)

	bin := FromDataEntry(record.DataEntry{Key: []byte{0xff, 0xfe}, Value: []byte("abc")})
	assert.Equal(t, EncodingBase64, bin.KeyEncoding)
	assert.Nil(t, bin.AsInt32)

	back, err := bin.DataEntry()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xfe}, back.Key)
	assert.Equal(t, []byte("abc"), back.Value)
}

func TestStruct_LargeGameIDSurvives(t *testing.T) {
	in := UpdateRequest{
		Game:  record.GameID(1<<63 + 5),
		Route: "external",
		Entry: Entry{Key: "k", Value: "AA=="},
	}
	s, err := ToStruct(in)
	require.NoError(t, err)
	assert.Equal(t, "9223372036854775813", s.Fields["game"].GetStringValue())

	var out UpdateRequest
	require.NoError(t, FromStruct(s, &out))
	assert.Equal(t, in, out)
}

func TestFromStruct_Nil(t *testing.T) {
	var req PermissionsRequest
	require.NoError(t, FromStruct(nil, &req))
	assert.Empty(t, req.Account)
}

func TestFullMethod(t *testing.T) {
	assert.Equal(t, "/metasave.v1.SaveData/RegisterGame", FullMethod(MethodRegisterGame))
	assert.Len(t, Methods, 13)
}
