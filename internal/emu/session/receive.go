package session

import (
	"errors"

	"nuha.dev/gpsemu/internal/emu/dispatch"
	"nuha.dev/gpsemu/internal/emu/packet"
)

// receive reads and dispatches until the stream ends. It returns nil for a
// closed stream and the decode error for a malformed frame, which drops the
// connection.
func (s *Session) receive() error {
	for {
		m, err := s.dec.ReadMessage(s.c)
		if err != nil {
			var de *packet.DecodeError
			if errors.As(err, &de) {
				s.log.Error().Err(err).Msg("bad frame, dropping connection")
				return err
			}
			if s.Stopped() {
				return nil
			}
			s.log.Info().Err(err).Msg("stream closed")
			return nil
		}
		in, ok := dispatch.NewInbound(m)
		if !ok {
			s.log.Debug().Msg("message without type skipped")
			continue
		}
		s.setLast(in)
		s.log.Trace().Int("type", in.Type).Int("ident", in.Ident).Msg("dispatch")
		if err = s.dispatcher.Dispatch(s, in); err != nil {
			if errors.Is(err, ErrTerminated) {
				return nil
			}
			s.log.Warn().Err(err).Int("type", in.Type).Msg("handler failed")
		}
	}
}
