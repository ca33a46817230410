package dispatch

import (
	"sync"

	"nuha.dev/gpsemu/internal/emu/packet"
)

// Inbound is a received message with its routing fields already extracted.
type Inbound struct {
	Type     int
	Ident    int
	HasIdent bool
	Msg      packet.Message
}

// NewInbound extracts type and ident. ok is false when there is no type to route on.
func NewInbound(m packet.Message) (in Inbound, ok bool) {
	in.Msg = m
	in.Type, ok = m.Type()
	if !ok {
		return in, false
	}
	in.Ident, in.HasIdent = m.Ident()
	return in, true
}

type Sender interface {
	Send(m packet.Message) error
}

type Handler interface {
	Handle(s Sender, in Inbound) error
}

type HandlerFunc func(s Sender, in Inbound) error

func (f HandlerFunc) Handle(s Sender, in Inbound) error {
	return f(s, in)
}

// Ack is the generic reactor. Even types are plain request/acknowledge
// exchanges and get their type (and ident) echoed back; odd types are
// unsolicited or need a dedicated handler, so nothing is sent.
var Ack HandlerFunc = func(s Sender, in Inbound) error {
	if in.Type%2 != 0 {
		return nil
	}
	reply := packet.Message{"type": in.Type}
	if in.HasIdent {
		reply["ident"] = in.Ident
	}
	return s.Send(reply)
}

var Ignore HandlerFunc = func(Sender, Inbound) error {
	return nil
}

// Dispatcher routes by message type and falls back to Ack.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[int]Handler
}

func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[int]Handler)}
}

func (d *Dispatcher) Handle(typ int, h Handler) {
	d.mu.Lock()
	d.handlers[typ] = h
	d.mu.Unlock()
}

func (d *Dispatcher) HandleFunc(typ int, f func(s Sender, in Inbound) error) {
	d.Handle(typ, HandlerFunc(f))
}

// Lookup returns the handler registered for typ, or Ack.
func (d *Dispatcher) Lookup(typ int) Handler {
	d.mu.RLock()
	h, ok := d.handlers[typ]
	d.mu.RUnlock()
	if !ok {
		return Ack
	}
	return h
}

func (d *Dispatcher) Dispatch(s Sender, in Inbound) error {
	return d.Lookup(in.Type).Handle(s, in)
}
