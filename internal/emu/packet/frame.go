package packet

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"math/rand"
)

// Encode turns m into one frame: type(2) | length(2) | json body, both big endian.
// A missing ident is generated and written back into m so the caller can
// correlate the acknowledgment.
func Encode(m Message) ([]byte, error) {
	t, ok := m.Type()
	if !ok || t < 0 || t > math.MaxUint16 {
		return nil, &EncodeError{Type: t, Err: ErrNoType}
	}
	if _, has := m["ident"]; !has && requiresIdent(t) {
		m["ident"] = rand.Intn(MAX_IDENT + 1)
	}

	body, err := marshalBody(m)
	if err != nil {
		return nil, &EncodeError{Type: t, Err: err}
	}
	if len(body) > MAX_BODY_LEN {
		return nil, &EncodeError{Type: t, Err: ErrBodyTooLarge}
	}

	frame := make([]byte, HEADER_LEN+len(body))
	binary.BigEndian.PutUint16(frame[0:2], uint16(t))
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(body)))
	copy(frame[HEADER_LEN:], body)
	return frame, nil
}

// marshalBody keeps non-ascii text and <>& as raw utf-8, like the devices do.
func marshalBody(m Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
