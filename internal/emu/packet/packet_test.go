package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

func sampleMessages() []Message {
	return []Message{
		{"type": LOGIN, "imei": "355372020827303", "imsi": "460001515535328", "version": 1, "vendor": 20000, "iccid": "89860113859009347034", "modules": "L0P0"},
		{"type": HEARTBEAT},
		{"type": LOCATION, "ident": 42, "feedback": 1, "timestamp": 1697438400.25, "gps": map[string]interface{}{"lon": 113.4395958, "lat": 23.1659372}},
		{"type": 8, "ident": 0, "note": "广州 <tag> & co"},
	}
}

func mustEncode(t testing.TB, m Message) []byte {
	t.Helper()
	f, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode(%v) error = %v", m, err)
	}
	return f
}

func sameFields(t *testing.T, got, want Message) {
	t.Helper()
	g, err := marshalBody(got)
	if err != nil {
		t.Fatal(err)
	}
	w, err := marshalBody(want)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(g, w) {
		t.Errorf("message = %s, want %s", g, w)
	}
}

func TestFrameLayout(t *testing.T) {
	m := Message{"type": LOGIN, "imei": "355372020827303"}
	f := mustEncode(t, m)
	if typ := binary.BigEndian.Uint16(f[0:2]); typ != LOGIN {
		t.Errorf("header type = %d, want %d", typ, LOGIN)
	}
	if l := int(binary.BigEndian.Uint16(f[2:4])); l != len(f)-HEADER_LEN {
		t.Errorf("header length = %d, body is %d bytes", l, len(f)-HEADER_LEN)
	}
	if !bytes.Contains(f[HEADER_LEN:], []byte(`"imei":"355372020827303"`)) {
		t.Errorf("body %s does not carry imei", f[HEADER_LEN:])
	}
}

func TestRoundTrip(t *testing.T) {
	for _, m := range sampleMessages() {
		f := mustEncode(t, m)
		var d Decoder
		got, n, err := d.Feed(f)
		if err != nil {
			t.Fatalf("Feed error = %v", err)
		}
		if n != len(f) {
			t.Errorf("consumed = %d, want %d", n, len(f))
		}
		sameFields(t, got, m)
		if d.Buffered() != 0 {
			t.Errorf("carry-over = %d bytes, want 0", d.Buffered())
		}
	}
}

func TestFragmentation(t *testing.T) {
	for _, m := range sampleMessages() {
		f := mustEncode(t, m)
		for size := 1; size <= len(f); size++ {
			var d Decoder
			var got []Message
			for i := 0; i < len(f); i += size {
				end := i + size
				if end > len(f) {
					end = len(f)
				}
				msg, _, err := d.Feed(f[i:end])
				if err != nil {
					t.Fatalf("chunk %d: Feed error = %v", size, err)
				}
				if msg != nil {
					got = append(got, msg)
				}
			}
			if len(got) != 1 {
				t.Fatalf("chunk %d: decoded %d messages, want 1", size, len(got))
			}
			sameFields(t, got[0], m)
		}
	}
}

func TestCarryOver(t *testing.T) {
	m1 := Message{"type": 2, "ident": 1}
	m2 := Message{"type": LOCATION, "ident": 2, "feedback": 1}
	both := append(mustEncode(t, m1), mustEncode(t, m2)...)
	hb := mustEncode(t, Message{"type": HEARTBEAT})
	tail := hb[:3]

	var d Decoder
	got, _, err := d.Feed(append(both, tail...))
	if err != nil {
		t.Fatal(err)
	}
	sameFields(t, got, m1)

	got, _, err = d.Feed(nil)
	if err != nil {
		t.Fatal(err)
	}
	sameFields(t, got, m2)

	if d.Buffered() != len(tail) {
		t.Errorf("carry-over = %d bytes, want %d", d.Buffered(), len(tail))
	}
	// the partial header belongs to the next frame
	got, _, err = d.Feed(hb[3:])
	if err != nil {
		t.Fatal(err)
	}
	sameFields(t, got, Message{"type": HEARTBEAT})
}

func TestEmptyChunkOnPartialFrame(t *testing.T) {
	f := mustEncode(t, Message{"type": 2, "ident": 7})
	var d Decoder
	if msg, _, err := d.Feed(f[:5]); msg != nil || err != nil {
		t.Fatalf("Feed(partial) = %v, %v", msg, err)
	}
	_, _, err := d.Feed(nil)
	var de *DecodeError
	if !errors.As(err, &de) || !errors.Is(err, ErrTruncated) {
		t.Errorf("Feed(nil) error = %v, want truncated DecodeError", err)
	}
}

func TestIdentAssignment(t *testing.T) {
	m := Message{"type": LOCATION}
	mustEncode(t, m)
	id, ok := m.Ident()
	if !ok {
		t.Fatal("ident was not assigned")
	}
	if id < 0 || id > MAX_IDENT {
		t.Errorf("ident = %d out of range", id)
	}

	kept := Message{"type": 2, "ident": 1234}
	mustEncode(t, kept)
	if id, _ := kept.Ident(); id != 1234 {
		t.Errorf("ident = %d, want 1234", id)
	}

	hb := Message{"type": HEARTBEAT}
	f := mustEncode(t, hb)
	if _, ok := hb["ident"]; ok || bytes.Contains(f, []byte("ident")) {
		t.Errorf("heartbeat got an ident: %s", f[HEADER_LEN:])
	}
}

func TestEncodeErrors(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want error
	}{
		{name: "no type", msg: Message{"imei": "1"}, want: ErrNoType},
		{name: "type out of range", msg: Message{"type": 70000}, want: ErrNoType},
		{name: "body too large", msg: Message{"type": 2, "pad": strings.Repeat("x", MAX_BODY_LEN)}, want: ErrBodyTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Encode(tt.msg)
			var ee *EncodeError
			if !errors.As(err, &ee) || !errors.Is(err, tt.want) {
				t.Errorf("Encode error = %v, want %v", err, tt.want)
			}
			if f != nil {
				t.Errorf("Encode returned %d bytes along with an error", len(f))
			}
		})
	}

	t.Run("not serializable", func(t *testing.T) {
		_, err := Encode(Message{"type": 2, "ch": make(chan int)})
		var ee *EncodeError
		if !errors.As(err, &ee) {
			t.Errorf("Encode error = %v, want EncodeError", err)
		}
	})
}

func TestLargestBody(t *testing.T) {
	m := Message{"type": 2, "ident": 5, "pad": ""}
	base, _ := marshalBody(m)
	m["pad"] = strings.Repeat("x", MAX_BODY_LEN-len(base))
	f := mustEncode(t, m)
	if len(f) != HEADER_LEN+MAX_BODY_LEN {
		t.Fatalf("frame = %d bytes, want %d", len(f), HEADER_LEN+MAX_BODY_LEN)
	}
	var d Decoder
	got, _, err := d.Feed(f)
	if err != nil {
		t.Fatal(err)
	}
	sameFields(t, got, m)
}

func TestBadBodyKeepsNextFrame(t *testing.T) {
	good := Message{"type": 2, "ident": 9}
	bad := []byte{0, 2, 0, 5, '{', '"', 'a', 0xff, '}'}
	notObject := []byte{0, 2, 0, 4, 'n', 'u', 'l', 'l'}
	stream := append(append(bad, notObject...), mustEncode(t, good)...)

	var d Decoder
	_, n, err := d.Feed(stream)
	var de *DecodeError
	if !errors.As(err, &de) || !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("Feed error = %v, want invalid utf-8", err)
	}
	if n != len(bad) {
		t.Errorf("consumed = %d, want %d", n, len(bad))
	}
	if _, _, err = d.Feed(nil); !errors.As(err, &de) {
		t.Fatalf("Feed error = %v, want DecodeError for null body", err)
	}
	got, _, err := d.Feed(nil)
	if err != nil {
		t.Fatal(err)
	}
	sameFields(t, got, good)
}

func TestHeaderTypeNotReadBack(t *testing.T) {
	f := mustEncode(t, Message{"type": 4, "ident": 1})
	binary.BigEndian.PutUint16(f[0:2], 99)
	var d Decoder
	got, _, err := d.Feed(f)
	if err != nil {
		t.Fatal(err)
	}
	if typ, _ := got.Type(); typ != 4 {
		t.Errorf("type = %d, want 4 from the body", typ)
	}
}

type trickleReader struct {
	data []byte
	step int
}

func (r *trickleReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, nil
	}
	n := r.step
	if n > len(r.data) {
		n = len(r.data)
	}
	n = copy(p[:n], r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestReadMessage(t *testing.T) {
	msgs := sampleMessages()
	var stream []byte
	for _, m := range msgs {
		stream = append(stream, mustEncode(t, m)...)
	}
	r := &trickleReader{data: append(stream, 0, 1), step: 3}

	var d Decoder
	for i, m := range msgs {
		got, err := d.ReadMessage(r)
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		sameFields(t, got, m)
	}
	if _, err := d.ReadMessage(r); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("ReadMessage error = %v, want ErrStreamClosed", err)
	}
}

func TestReadMessageAllInOneRead(t *testing.T) {
	a, b := Message{"type": 2, "ident": 1}, Message{"type": 6, "ident": 2}
	r := bytes.NewReader(append(mustEncode(t, a), mustEncode(t, b)...))
	var d Decoder
	got, err := d.ReadMessage(r)
	if err != nil {
		t.Fatal(err)
	}
	sameFields(t, got, a)
	got, err = d.ReadMessage(r)
	if err != nil {
		t.Fatal(err)
	}
	sameFields(t, got, b)
	if _, err = d.ReadMessage(r); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("ReadMessage error = %v, want ErrStreamClosed", err)
	}
}

func TestMessageInt(t *testing.T) {
	m := Message{"a": 3, "b": 3.0, "c": 3.5, "d": "3", "e": nil, "f": int64(3)}
	for _, k := range []string{"a", "b", "f"} {
		if v, ok := m.Int(k); !ok || v != 3 {
			t.Errorf("Int(%q) = %d, %v", k, v, ok)
		}
	}
	for _, k := range []string{"c", "d", "e", "missing"} {
		if _, ok := m.Int(k); ok {
			t.Errorf("Int(%q) reported an integer", k)
		}
	}
}

func BenchmarkEncode(b *testing.B) {
	m := Message{"type": LOCATION, "ident": 1, "feedback": 1, "timestamp": 1697438400.25}
	for i := 0; i < b.N; i++ {
		_, _ = Encode(m)
	}
}

func BenchmarkDecode(b *testing.B) {
	f := mustEncode(b, Message{"type": LOCATION, "ident": 1, "feedback": 1, "timestamp": 1697438400.25})
	var d Decoder
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = d.Feed(f)
	}
}
