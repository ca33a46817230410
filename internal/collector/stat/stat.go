package stat

import (
	"sync"
	"time"
)

const (
	RING_LEN    = 10
	COUNTER_LEN = 100
)

type counter struct {
	base time.Time
	cnt  uint64
}

type time_event struct {
	list [RING_LEN]time.Time
	idx  int
	n    uint64
	mu   sync.Mutex
}

// Stat keeps per-interval frame counts and the latest connect, login and
// disconnect times of a collector.
type Stat struct {
	login      time_event
	connect    time_event
	disconnect time_event
	mu         sync.Mutex
	buf        [COUNTER_LEN]counter
	phead      int
	total      uint64
	dur        time.Duration

	created time.Time
}

func (s *Stat) LoginEv(t time.Time) {
	log(&s.login, t)
}
func (s *Stat) ConnectEv(t time.Time) {
	log(&s.connect, t)
}
func (s *Stat) DisconnectEv(t time.Time) {
	log(&s.disconnect, t)
}

func log(l *time_event, t time.Time) {
	l.mu.Lock()
	l.list[l.idx] = t
	l.idx = l.idx + 1
	if l.idx == len(l.list) {
		l.idx = 0
	}
	l.n++
	l.mu.Unlock()
}

// recent returns the logged times, newest first, and the all-time count.
func (l *time_event) recent() ([]time.Time, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]time.Time, 0, len(l.list))
	for i := 1; i <= len(l.list); i++ {
		t := l.list[(l.idx-i+len(l.list))%len(l.list)]
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, l.n
}

func NewStat() *Stat {
	return NewStatWithInterval(time.Minute)
}

func NewStatWithInterval(dur time.Duration) *Stat {
	o := &Stat{}
	o.dur = dur
	o.created = time.Now()
	return o
}

// CounterIncr adds amt to the interval t falls in. Times older than the
// current interval are counted in the total only.
func (s *Stat) CounterIncr(amt uint64, t time.Time) {
	s.mu.Lock()
	s.total += amt
	f := t.Truncate(s.dur)
	last := &s.buf[s.phead]
	if f.After(last.base) {
		if last.cnt != 0 {
			s.phead = s.phead + 1
			if s.phead == len(s.buf) {
				s.phead = 0
			}
		}
		s.buf[s.phead].base = f
		s.buf[s.phead].cnt = amt
	} else if f.Equal(last.base) {
		last.cnt = last.cnt + amt
	}
	s.mu.Unlock()
}

type Interval struct {
	Start time.Time `json:"start"`
	Count uint64    `json:"count"`
}

type Events struct {
	Count  uint64      `json:"count"`
	Recent []time.Time `json:"recent"`
}

type Snapshot struct {
	Created    time.Time  `json:"created"`
	Frames     uint64     `json:"frames"`
	Intervals  []Interval `json:"intervals"`
	Connect    Events     `json:"connect"`
	Login      Events     `json:"login"`
	Disconnect Events     `json:"disconnect"`
}

// Snapshot copies the counters, intervals newest first.
func (s *Stat) Snapshot() Snapshot {
	snap := Snapshot{Created: s.created}
	s.mu.Lock()
	snap.Frames = s.total
	for i := 0; i < len(s.buf); i++ {
		c := s.buf[(s.phead-i+len(s.buf))%len(s.buf)]
		if c.cnt == 0 {
			break
		}
		snap.Intervals = append(snap.Intervals, Interval{Start: c.base, Count: c.cnt})
	}
	s.mu.Unlock()
	snap.Connect.Recent, snap.Connect.Count = s.connect.recent()
	snap.Login.Recent, snap.Login.Count = s.login.recent()
	snap.Disconnect.Recent, snap.Disconnect.Count = s.disconnect.recent()
	return snap
}
