// Package wire implements the message envelope that carries a schema ID
// alongside payload bytes: a fixed 5-byte header of one format marker byte
// and a big-endian uint32 schema ID, followed by the payload unchanged.
package wire

import (
	"encoding/binary"
	"fmt"

	"schemakeeper/internal/regerr"
)

// FormatMarker is the envelope marker for "schema ID + raw payload".
const FormatMarker byte = 0x00

// HeaderLen is the fixed envelope header size.
const HeaderLen = 5

// Encode prepends the envelope header to payload.
func Encode(schemaID uint32, payload []byte) []byte {
	buf := make([]byte, HeaderLen+len(payload))
	buf[0] = FormatMarker
	binary.BigEndian.PutUint32(buf[1:HeaderLen], schemaID)
	copy(buf[HeaderLen:], payload)
	return buf
}

// Decode strips the envelope header and returns the schema ID and payload.
// Inputs shorter than the header or carrying an unknown marker fail with
// ErrMalformedEnvelope; the payload is never inspected.
func Decode(data []byte) (schemaID uint32, payload []byte, err error) {
	if len(data) < HeaderLen {
		return 0, nil, fmt.Errorf("%w: %d bytes, need at least %d", regerr.ErrMalformedEnvelope, len(data), HeaderLen)
	}
	if data[0] != FormatMarker {
		return 0, nil, fmt.Errorf("%w: unknown format marker 0x%02x", regerr.ErrMalformedEnvelope, data[0])
	}
	return binary.BigEndian.Uint32(data[1:HeaderLen]), data[HeaderLen:], nil
}
