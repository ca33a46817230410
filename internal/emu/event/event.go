package event

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mustafaturan/bus/v3"
	"github.com/mustafaturan/monoton/v2"
	"github.com/mustafaturan/monoton/v2/sequencer"
	"github.com/phuslu/log"
)

const (
	CONNECTED  = "session.connected"
	LOGGED_IN  = "session.logged_in"
	RUNNING    = "session.running"
	TERMINATED = "session.terminated"
)

var TOPICS = []string{CONNECTED, LOGGED_IN, RUNNING, TERMINATED}

// 2020-01-01 UTC in ms, monoton ids count from here
const EPOCH_MS uint64 = 1577836800000

type Lifecycle struct {
	SID  string    `json:"sid"`
	IMEI string    `json:"imei"`
	Addr string    `json:"addr"`
	Err  string    `json:"err,omitempty"`
	At   time.Time `json:"at"`
}

func (l Lifecycle) MarshalObject(e *log.Entry) {
	e.Str("sid", l.SID).Str("imei", l.IMEI).Str("addr", l.Addr)
	if l.Err != "" {
		e.Str("err", l.Err)
	}
}

// Bus carries session lifecycle events. A nil *Bus drops everything.
type Bus struct {
	b   *bus.Bus
	log log.Logger
}

func New(node uint64) (*Bus, error) {
	m, err := monoton.New(sequencer.NewMillisecond(), node, EPOCH_MS)
	if err != nil {
		return nil, err
	}
	var next bus.Next = m.Next
	b, err := bus.NewBus(next)
	if err != nil {
		return nil, err
	}
	b.RegisterTopics(TOPICS...)
	o := &Bus{b: b}
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "event").Value()
	return o, nil
}

// Emit runs the handlers matching topic on the calling goroutine.
func (eb *Bus) Emit(ctx context.Context, topic string, l Lifecycle) {
	if eb == nil {
		return
	}
	if l.At.IsZero() {
		l.At = time.Now()
	}
	if err := eb.b.Emit(ctx, topic, l); err != nil {
		eb.log.Error().Err(err).Str("topic", topic).EmbedObject(l).Msg("emit failed")
	}
}

// Subscribe registers fn under key for topics matching the matcher regexp.
func (eb *Bus) Subscribe(key string, matcher string, fn func(topic string, l Lifecycle)) {
	eb.b.RegisterHandler(key, bus.Handler{
		Matcher: matcher,
		Handle: func(_ context.Context, e bus.Event) {
			l, ok := e.Data.(Lifecycle)
			if !ok {
				return
			}
			fn(e.Topic, l)
		},
	})
}

func (eb *Bus) Unsubscribe(key string) {
	eb.b.DeregisterHandler(key)
}

type Publisher interface {
	Publish(subj string, data []byte) error
}

// ForwardNATS publishes every lifecycle event as JSON on <prefix>.<topic>.
// *nats.Conn satisfies Publisher.
func (eb *Bus) ForwardNATS(p Publisher, prefix string) {
	eb.Subscribe("nats-forwarder", ".*", func(topic string, l Lifecycle) {
		d, err := json.Marshal(l)
		if err != nil {
			eb.log.Error().Err(err).Msg("marshal lifecycle")
			return
		}
		if err = p.Publish(prefix+"."+topic, d); err != nil {
			eb.log.Warn().Err(err).Str("topic", topic).Msg("nats publish failed")
		}
	})
}

// Tracker counts sessions that reached Running and have not terminated yet.
type Tracker struct {
	mu      sync.Mutex
	running map[string]Lifecycle
	total   uint64
}

// Track subscribes a new Tracker to eb.
func Track(eb *Bus, key string) *Tracker {
	t := &Tracker{running: make(map[string]Lifecycle)}
	eb.Subscribe(key, "^session\\.(running|terminated)$", t.observe)
	return t
}

func (t *Tracker) observe(topic string, l Lifecycle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch topic {
	case RUNNING:
		t.running[l.SID] = l
		t.total++
	case TERMINATED:
		delete(t.running, l.SID)
	}
}

// Running returns the number of live sessions and how many ever ran.
func (t *Tracker) Running() (live int, total uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.running), t.total
}
