package packet

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

const (
	LOGIN     = 1
	HEARTBEAT = 3
	LOCATION  = 7
)

const (
	HEADER_LEN   = 4
	MAX_BODY_LEN = math.MaxUint16
	MAX_IDENT    = 9999999
)

var (
	ErrStreamClosed = errors.New("stream closed")
	ErrTruncated    = errors.New("stream ended inside a frame")
	ErrBodyTooLarge = errors.New("body exceeds 65535 bytes")
	ErrNoType       = errors.New("message has no usable type")
	ErrInvalidUTF8  = errors.New("body is not valid utf-8")
)

// Message is one JSON body. Numbers decoded off the wire are json.Number.
type Message map[string]interface{}

// Int reads an integral field regardless of how it got into the map.
func (m Message) Int(key string) (int, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}

func (m Message) Type() (int, bool) {
	return m.Int("type")
}

func (m Message) Ident() (int, bool) {
	return m.Int("ident")
}

// requiresIdent reports whether frames of type t expect an acknowledgment.
// Heartbeats are unsolicited and travel without ident.
func requiresIdent(t int) bool {
	return t != HEARTBEAT
}

type EncodeError struct {
	Type int
	Err  error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode type %d: %v", e.Type, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

type DecodeError struct {
	Length int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame (body %d bytes): %v", e.Length, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
