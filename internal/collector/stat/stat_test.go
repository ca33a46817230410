package stat

import (
	"testing"
	"time"
)

func TestCounterIntervals(t *testing.T) {
	s := NewStat()
	base := time.Date(2023, 10, 16, 12, 0, 0, 0, time.UTC)
	s.CounterIncr(1, base.Add(5*time.Second))
	s.CounterIncr(2, base.Add(50*time.Second))
	s.CounterIncr(4, base.Add(70*time.Second))
	// older than the current interval, total only
	s.CounterIncr(8, base.Add(10*time.Second))

	snap := s.Snapshot()
	if snap.Frames != 15 {
		t.Errorf("frames = %d, want 15", snap.Frames)
	}
	if len(snap.Intervals) != 2 {
		t.Fatalf("intervals = %+v", snap.Intervals)
	}
	if snap.Intervals[0].Count != 4 || !snap.Intervals[0].Start.Equal(base.Add(time.Minute)) {
		t.Errorf("newest interval = %+v", snap.Intervals[0])
	}
	if snap.Intervals[1].Count != 3 {
		t.Errorf("older interval = %+v", snap.Intervals[1])
	}
}

func TestCounterWraps(t *testing.T) {
	s := NewStatWithInterval(time.Second)
	base := time.Unix(1697438400, 0)
	for i := 0; i < COUNTER_LEN+5; i++ {
		s.CounterIncr(1, base.Add(time.Duration(i)*time.Second))
	}
	snap := s.Snapshot()
	if len(snap.Intervals) != COUNTER_LEN {
		t.Errorf("intervals = %d, want %d", len(snap.Intervals), COUNTER_LEN)
	}
	if snap.Frames != COUNTER_LEN+5 {
		t.Errorf("frames = %d", snap.Frames)
	}
}

func TestEventRing(t *testing.T) {
	s := NewStat()
	base := time.Unix(1697438400, 0)
	for i := 0; i < RING_LEN+3; i++ {
		s.LoginEv(base.Add(time.Duration(i) * time.Second))
	}
	s.ConnectEv(base)
	snap := s.Snapshot()
	if snap.Login.Count != RING_LEN+3 || len(snap.Login.Recent) != RING_LEN {
		t.Errorf("login = %d events, %d recent", snap.Login.Count, len(snap.Login.Recent))
	}
	if want := base.Add(time.Duration(RING_LEN+2) * time.Second); !snap.Login.Recent[0].Equal(want) {
		t.Errorf("newest login = %v, want %v", snap.Login.Recent[0], want)
	}
	if snap.Connect.Count != 1 || len(snap.Disconnect.Recent) != 0 {
		t.Errorf("connect = %+v, disconnect = %+v", snap.Connect, snap.Disconnect)
	}
}
