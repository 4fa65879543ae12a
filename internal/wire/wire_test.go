package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemakeeper/internal/regerr"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		schemaID uint32
		payload  []byte
	}{
		{"small id", 1, []byte("hello")},
		{"zero id empty payload", 0, nil},
		{"max id", 0xFFFFFFFF, []byte{0x00, 0x01, 0x02}},
		{"payload starting with marker byte", 42, []byte{0x00, 0x00, 0x00, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := Encode(tt.schemaID, tt.payload)
			require.Len(t, encoded, HeaderLen+len(tt.payload))
			assert.Equal(t, FormatMarker, encoded[0])

			id, payload, err := Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.schemaID, id)
			assert.Equal(t, append([]byte{}, tt.payload...), append([]byte{}, payload...))
		})
	}
}

func TestEncode_HeaderIsBitExact(t *testing.T) {
	encoded := Encode(0x01020304, []byte("x"))
	assert.Equal(t, []byte{0x00, 0x01, 0x02, 0x03, 0x04, 'x'}, encoded)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte{0x00, 0x00, 0x00, 0x00}},
		{"unknown marker", []byte{0x7F, 0x00, 0x00, 0x00, 0x01, 'x'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.data)
			assert.ErrorIs(t, err, regerr.ErrMalformedEnvelope)
		})
	}
}

func TestDecode_PayloadUntouched(t *testing.T) {
	payload := make([]byte, 1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	id, decoded, err := Decode(Encode(7, payload))
	require.NoError(t, err)
	assert.Equal(t, uint32(7), id)
	assert.Equal(t, payload, decoded)
}
