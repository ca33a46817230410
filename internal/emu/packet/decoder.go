package packet

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

const READ_CHUNK = 4096

var (
	errNotObject    = errors.New("body is not a json object")
	errTrailingData = errors.New("data after json body")
)

// Decoder reassembles frames from arbitrarily split reads. It keeps the bytes
// that do not yet form a frame, and the bytes past the last frame, between calls.
// One Decoder belongs to one connection.
type Decoder struct {
	buf   []byte
	chunk []byte
	rerr  error
}

// Feed appends chunk and cuts at most one frame off the buffer.
// A nil message with nil error means more data is needed. The int is the
// number of buffered bytes the returned frame occupied.
// An empty chunk is an end-of-stream signal: it still yields a frame that is
// already buffered, otherwise it fails with ErrTruncated.
func (d *Decoder) Feed(chunk []byte) (Message, int, error) {
	if len(chunk) == 0 {
		if _, ok := d.frameLen(); !ok {
			return nil, 0, &DecodeError{Length: len(d.buf), Err: ErrTruncated}
		}
	} else {
		d.buf = append(d.buf, chunk...)
	}
	return d.next()
}

// Buffered returns the carry-over size.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.rerr = nil
}

// ReadMessage reads from r until one message is complete.
func (d *Decoder) ReadMessage(r io.Reader) (Message, error) {
	if d.chunk == nil {
		d.chunk = make([]byte, READ_CHUNK)
	}
	for {
		msg, _, err := d.next()
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
		if d.rerr != nil {
			return nil, d.takeReadErr()
		}
		n, err := r.Read(d.chunk)
		if n > 0 {
			d.buf = append(d.buf, d.chunk[:n]...)
			d.rerr = err
			continue
		}
		d.rerr = err
		return nil, d.takeReadErr()
	}
}

func (d *Decoder) takeReadErr() error {
	err := d.rerr
	d.rerr = nil
	if err == nil || errors.Is(err, io.EOF) {
		return ErrStreamClosed
	}
	return fmt.Errorf("%w: %w", ErrStreamClosed, err)
}

// frameLen reports the full length of the frame at the head of the buffer and
// whether all of it has arrived.
func (d *Decoder) frameLen() (int, bool) {
	if len(d.buf) < HEADER_LEN {
		return 0, false
	}
	//bytes 0:2 carry the type, it is not read back, the body has its own
	n := HEADER_LEN + int(binary.BigEndian.Uint16(d.buf[2:4]))
	return n, len(d.buf) >= n
}

func (d *Decoder) next() (Message, int, error) {
	n, ok := d.frameLen()
	if !ok {
		return nil, 0, nil
	}
	msg, err := parseBody(d.buf[HEADER_LEN:n])
	d.buf = append(d.buf[:0], d.buf[n:]...)
	if err != nil {
		return nil, n, &DecodeError{Length: n - HEADER_LEN, Err: err}
	}
	return msg, n, nil
}

func parseBody(body []byte) (Message, error) {
	if !utf8.Valid(body) {
		return nil, ErrInvalidUTF8
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, errNotObject
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errTrailingData
	}
	return msg, nil
}
