package collector

import (
	"encoding/json"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nuha.dev/gpsemu/internal/emu/dispatch"
	"nuha.dev/gpsemu/internal/emu/packet"
	"nuha.dev/gpsemu/internal/store"
	"nuha.dev/gpsemu/internal/util/wc"
)

var errNotLoggedIn = errors.New("location report before login")

type client struct {
	s          *Server
	conn       *wc.Conn
	dec        packet.Decoder
	dispatcher *dispatch.Dispatcher
	logger     zerolog.Logger
	wmu        sync.Mutex

	mu     sync.Mutex
	imei   string
	frames uint64
	last   time.Time
}

func (s *Server) newClient(c *wc.Conn) *client {
	cl := &client{s: s, conn: c}
	cl.logger = s.logger.With().Uint64("cid", c.Cid()).Logger()
	d := dispatch.New()
	d.HandleFunc(packet.LOGIN, cl.handleLogin)
	d.Handle(packet.HEARTBEAT, dispatch.Ignore)
	d.HandleFunc(packet.LOCATION, cl.handleLocation)
	cl.dispatcher = d
	return cl
}

// Send writes one frame to the device.
func (cl *client) Send(m packet.Message) error {
	frame, err := packet.Encode(m)
	if err != nil {
		return err
	}
	cl.wmu.Lock()
	defer cl.wmu.Unlock()
	_, err = cl.conn.Write(frame)
	return err
}

func (cl *client) IMEI() string {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.imei
}

func (cl *client) status() ClientStatus {
	in, out := cl.conn.Stat()
	st := ClientStatus{
		Cid:        cl.conn.Cid(),
		RemoteAddr: cl.conn.KnownAddr(),
		Created:    cl.conn.Created(),
		ByteIn:     in,
		ByteOut:    out,
	}
	cl.mu.Lock()
	st.IMEI = cl.imei
	st.Frames = cl.frames
	st.LastFrame = cl.last
	cl.mu.Unlock()
	return st
}

func (cl *client) run() {
	defer cl.conn.Close()
	cl.logger = cl.logger.With().Str("remote_address", cl.conn.RemoteAddr()).Logger()
	for {
		if d := cl.s.config.IdleTimeout; d > 0 {
			_ = cl.conn.SetReadDeadline(time.Now().Add(d))
		}
		msg, err := cl.dec.ReadMessage(cl.conn)
		if err != nil {
			var de *packet.DecodeError
			if errors.As(err, &de) {
				cl.logger.Warn().Err(err).Msg("dropping connection on bad frame")
			} else {
				cl.logger.Debug().Err(err).Msg("stream ended")
			}
			return
		}
		now := time.Now()
		cl.s.stat.CounterIncr(1, now)
		cl.mu.Lock()
		cl.frames++
		cl.last = now
		cl.mu.Unlock()

		in, ok := dispatch.NewInbound(msg)
		if !ok {
			cl.logger.Warn().Msg("frame without type")
			continue
		}
		if cl.s.hook != nil {
			cl.s.hook(cl.conn.Cid(), in)
		}
		if err := cl.dispatcher.Dispatch(cl, in); err != nil {
			cl.logger.Error().Err(err).Int("type", in.Type).Msg("handler failed, closing")
			return
		}
	}
}

func (cl *client) handleLogin(s dispatch.Sender, in dispatch.Inbound) error {
	l := &store.Login{ServerTime: time.Now(), RemoteAddr: cl.conn.RemoteAddr()}
	l.IMEI, _ = in.Msg["imei"].(string)
	l.IMSI, _ = in.Msg["imsi"].(string)
	l.ICCID, _ = in.Msg["iccid"].(string)
	l.Modules, _ = in.Msg["modules"].(string)
	l.Version, _ = in.Msg.Int("version")
	l.Vendor, _ = in.Msg.Int("vendor")
	if l.IMEI == "" {
		return errors.New("login without imei")
	}
	cl.mu.Lock()
	cl.imei = l.IMEI
	cl.mu.Unlock()
	cl.logger = cl.logger.With().Str("imei", l.IMEI).Logger()
	cl.logger.Info().Str("event", LOGIN_MESSAGE).Str("imsi", l.IMSI).Int("version", l.Version).Msg("")
	cl.s.stat.LoginEv(l.ServerTime)
	if cl.s.misc_store != nil {
		cl.s.misc_store.SaveLogin(l)
	}
	return nil
}

func (cl *client) handleLocation(s dispatch.Sender, in dispatch.Inbound) error {
	imei := cl.IMEI()
	if imei == "" {
		return errNotLoggedIn
	}
	rec, err := parseLocation(in)
	if err != nil {
		cl.logger.Warn().Err(err).Int("ident", in.Ident).Msg("unreadable location report")
		return nil
	}
	rec.IMEI = imei
	if cl.s.store != nil {
		cl.s.store.Put(rec)
	}
	if fb, _ := in.Msg.Int("feedback"); fb == 1 && in.HasIdent {
		return s.Send(packet.Message{"type": packet.LOCATION, "ident": in.Ident})
	}
	return nil
}

// parseLocation reads a type 7 body. Cells are kept as sent.
func parseLocation(in dispatch.Inbound) (*store.Record, error) {
	rec := &store.Record{Ident: in.Ident, ServerTime: time.Now()}
	if cells, ok := in.Msg["cells"]; ok && cells != nil {
		b, err := json.Marshal(cells)
		if err != nil {
			return nil, err
		}
		rec.Cells = b
	}
	if g, ok := in.Msg["gps"].(map[string]interface{}); ok {
		lon, err1 := number(g["lon"])
		lat, err2 := number(g["lat"])
		if err1 != nil || err2 != nil {
			return nil, errors.New("gps without lon/lat")
		}
		rec.Lon, rec.Lat = &lon, &lat
	}
	ts, err := number(in.Msg["timestamp"])
	if err != nil {
		return nil, errors.New("missing timestamp")
	}
	sec, frac := math.Modf(ts)
	rec.DeviceTime = time.Unix(int64(sec), int64(frac*float64(time.Second)))
	return rec, nil
}

func number(v interface{}) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Float64()
	case float64:
		return n, nil
	}
	return 0, errors.New("not a number")
}
