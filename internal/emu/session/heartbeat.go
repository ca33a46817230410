package session

import (
	"errors"
	"time"

	"nuha.dev/gpsemu/internal/emu/packet"
	"nuha.dev/gpsemu/internal/emu/report"
)

// HeartbeatPeriod is the wait between beats: half the interval plus one unit.
func HeartbeatPeriod(heartbeat int, unit time.Duration) time.Duration {
	return time.Duration(heartbeat)*unit/2 + unit
}

func (s *Session) heartbeat() {
	period := HeartbeatPeriod(s.conf.Heartbeat, s.conf.Unit)
	t := time.NewTimer(period)
	defer t.Stop()
	for {
		select {
		case <-t.C:
		case <-s.done:
			return
		}
		if s.Stopped() {
			return
		}
		if err := s.Send(packet.Message{"type": packet.HEARTBEAT}); err != nil {
			if errors.Is(err, ErrTerminated) {
				return
			}
			s.log.Warn().Err(err).Msg("heartbeat not sent")
		}
		if s.conf.Locator != nil {
			cells, gps := s.conf.Locator.Next()
			err := s.Send(report.Build(cells, gps, time.Time{}))
			if errors.Is(err, ErrTerminated) {
				return
			}
			if err != nil {
				s.log.Warn().Err(err).Msg("report not sent")
			} else {
				s.log.Trace().Int("cells", len(cells)).Bool("gps", gps != nil).Msg("report queued")
			}
		}
		t.Reset(period)
	}
}
