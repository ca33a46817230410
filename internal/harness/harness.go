package harness

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"

	"nuha.dev/gpsemu/internal/emu/dispatch"
	"nuha.dev/gpsemu/internal/emu/event"
	"nuha.dev/gpsemu/internal/emu/fixture"
	"nuha.dev/gpsemu/internal/emu/session"
)

// Harness runs one session per configured device against the same collector.
type Harness struct {
	conf       *Config
	mode       fixture.Mode
	bus        *event.Bus
	tracker    *event.Tracker
	dispatcher *dispatch.Dispatcher
	log        log.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session
	failed   uint64
}

func New(conf *Config, eb *event.Bus) (*Harness, error) {
	mode, err := fixture.ParseMode(conf.Report)
	if err != nil {
		return nil, err
	}
	h := &Harness{conf: conf, mode: mode, bus: eb}
	h.log = log.DefaultLogger
	h.log.Level = log.ParseLevel(conf.LogLevel)
	h.log.Context = log.NewContext(nil).Str("module", "harness").Value()
	h.dispatcher = dispatch.New()
	h.sessions = make(map[string]*session.Session)
	if eb != nil {
		h.tracker = event.Track(eb, "harness")
	}
	return h, nil
}

func (h *Harness) sessionConfig(i int) session.Config {
	return session.Config{
		Addr: h.conf.Addr(),
		Identity: session.Identity{
			IMEI:    h.conf.DeviceIMEI(i),
			IMSI:    h.conf.IMSI,
			ICCID:   h.conf.ICCID,
			Version: h.conf.Version,
			Vendor:  h.conf.Vendor,
			Modules: h.conf.Modules,
		},
		Heartbeat:   h.conf.Heartbeat,
		Unit:        h.conf.Unit,
		DialTimeout: h.conf.DialTimeout,
		Grace:       h.conf.Grace,
		Locator:     fixture.NewAlternator(i, h.mode),
		Dispatcher:  h.dispatcher,
		Bus:         h.bus,
		Logger:      &h.log,
	}
}

// Run launches the devices, Stagger apart, and returns when every session
// has ended. Cancelling ctx closes all of them.
func (h *Harness) Run(ctx context.Context) error {
	h.log.Info().Str("addr", h.conf.Addr()).Int("devices", h.conf.Devices).Msg("starting devices")
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			h.closeAll()
		case <-stop:
		}
	}()

	var wg sync.WaitGroup
	launched := 0
launch:
	for i := 0; i < h.conf.Devices; i++ {
		if i > 0 && h.conf.Stagger > 0 {
			t := time.NewTimer(h.conf.Stagger)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				break launch
			}
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		launched++
		go func(i int) {
			defer wg.Done()
			h.runDevice(ctx, i)
		}(i)
	}
	wg.Wait()
	close(stop)

	failed := atomic.LoadUint64(&h.failed)
	h.log.Info().Int("launched", launched).Uint64("failed", failed).Msg("all devices stopped")
	if launched > 0 && failed == uint64(launched) {
		return fmt.Errorf("all %d devices failed to start", launched)
	}
	return nil
}

func (h *Harness) runDevice(ctx context.Context, i int) {
	s := session.New(h.sessionConfig(i))
	h.add(s)
	defer h.remove(s)
	if ctx.Err() != nil {
		s.Close()
		return
	}
	if err := s.Connect(ctx); err != nil {
		atomic.AddUint64(&h.failed, 1)
		s.Close()
		return
	}
	if err := s.Login(); err != nil {
		atomic.AddUint64(&h.failed, 1)
		h.log.Error().Err(err).EmbedObject(s).Msg("login failed")
		s.Close()
		return
	}
	if h.conf.InitialReport {
		cells, gps := fixture.Pick(0).Observe(h.mode)
		if err := s.Send(s.BuildReport(cells, gps, time.Time{})); err != nil {
			h.log.Warn().Err(err).EmbedObject(s).Msg("initial report not sent")
		}
	}
	if err := s.Loop(true); err != nil {
		h.log.Warn().Err(err).EmbedObject(s).Msg("session ended with error")
	}
}

func (h *Harness) add(s *session.Session) {
	h.mu.Lock()
	h.sessions[s.SID()] = s
	h.mu.Unlock()
}

func (h *Harness) remove(s *session.Session) {
	h.mu.Lock()
	delete(h.sessions, s.SID())
	h.mu.Unlock()
}

func (h *Harness) closeAll() {
	h.mu.Lock()
	list := make([]*session.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		list = append(list, s)
	}
	h.mu.Unlock()
	h.log.Info().Int("sessions", len(list)).Msg("closing sessions")
	for _, s := range list {
		s.Close()
	}
}

// Running reports live sessions and how many reached Running in total.
// It needs an event bus.
func (h *Harness) Running() (live int, total uint64) {
	if h.tracker == nil {
		return 0, 0
	}
	return h.tracker.Running()
}

func (h *Harness) Failed() uint64 {
	return atomic.LoadUint64(&h.failed)
}

func (h *Harness) Dispatcher() *dispatch.Dispatcher {
	return h.dispatcher
}
