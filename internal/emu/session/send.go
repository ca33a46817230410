package session

import (
	"nuha.dev/gpsemu/internal/emu/packet"
)

// Send encodes m on the calling goroutine, so encode errors reach the caller.
//
// Before Loop the frame is written directly. Only one goroutine may send at
// that point; a second concurrent caller gets ErrConcurrentSend. Once Running,
// frames go through the outbound queue and hit the wire in Send order.
func (s *Session) Send(m packet.Message) error {
	if s.Stopped() {
		return ErrTerminated
	}
	switch s.State() {
	case DISCONNECTED:
		return ErrNotConnected
	case TERMINATED:
		return ErrTerminated
	}
	d, err := packet.Encode(m)
	if err != nil {
		s.log.Error().Err(err).Msg("encode failed")
		return err
	}
	if s.State() == RUNNING {
		return s.enqueue(d)
	}
	if !s.wmu.TryLock() {
		return ErrConcurrentSend
	}
	switch s.State() {
	case RUNNING:
		s.wmu.Unlock()
		return s.enqueue(d)
	case CONNECTED, LOGGED_IN:
	default:
		s.wmu.Unlock()
		return ErrTerminated
	}
	err = s.write(d)
	s.wmu.Unlock()
	if err != nil {
		s.terminate(err)
	}
	return err
}

func (s *Session) enqueue(d []byte) error {
	if s.Stopped() {
		return ErrTerminated
	}
	select {
	case s.queue <- d:
		return nil
	case <-s.senderDone:
		return ErrTerminated
	case <-s.done:
		return ErrTerminated
	}
}

func (s *Session) write(d []byte) error {
	if _, err := s.c.Write(d); err != nil {
		return &ConnectionError{Op: "write", Addr: s.conf.Addr, Err: err}
	}
	return nil
}

// sender is the only writer once the session runs. A nil frame ends it.
// Frames still queued after the stop flag is set are dropped.
func (s *Session) sender() {
	defer close(s.senderDone)
	for {
		select {
		case d := <-s.queue:
			if d == nil {
				s.setStopped()
				s.log.Debug().Msg("sender stopped")
				return
			}
			if s.Stopped() {
				continue
			}
			if err := s.write(d); err != nil {
				s.log.Error().Err(err).Msg("write failed")
				s.setStopped()
				s.setErr(err)
				s.c.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}
