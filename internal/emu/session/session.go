package session

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"nuha.dev/gpsemu/internal/emu/conn"
	"nuha.dev/gpsemu/internal/emu/dispatch"
	"nuha.dev/gpsemu/internal/emu/event"
	"nuha.dev/gpsemu/internal/emu/packet"
	"nuha.dev/gpsemu/internal/emu/report"
)

const (
	DEFAULT_HEARTBEAT = 160
	DEFAULT_UNIT      = time.Second
	DEFAULT_GRACE     = 100 * time.Millisecond
	DEFAULT_DIAL      = 10 * time.Second
	DEFAULT_QUEUE_LEN = 64
)

var cid_counter uint64

type Identity struct {
	IMEI    string
	IMSI    string
	ICCID   string
	Version int
	Vendor  int
	Modules string
}

func (id Identity) MarshalObject(e *log.Entry) {
	e.Str("imei", id.IMEI).Str("imsi", id.IMSI)
}

// Locator supplies the observations for the report that follows each heartbeat.
type Locator interface {
	Next() ([]report.Cell, *report.GPS)
}

type Config struct {
	Addr     string
	Identity Identity
	// Heartbeat is the nominal interval in Units. The session beats every
	// Heartbeat/2+1 Units.
	Heartbeat   int
	Unit        time.Duration
	DialTimeout time.Duration
	// Grace bounds how long shutdown waits for the sender to drain.
	Grace      time.Duration
	QueueLen   int
	Locator    Locator
	Dispatcher *dispatch.Dispatcher
	Bus        *event.Bus
	Logger     *log.Logger
}

// Dispatched is the routing info of the last message handed to the dispatcher.
type Dispatched struct {
	Type     int
	Ident    int
	HasIdent bool
	At       time.Time
}

type Session struct {
	sid        string
	conf       Config
	state      int32
	stopped    uint32
	looped     uint32
	c          *conn.Conn
	dec        packet.Decoder
	dispatcher *dispatch.Dispatcher
	log        log.Logger

	wmu        sync.Mutex
	queue      chan []byte
	senderDone chan struct{}
	done       chan struct{}
	term_once  sync.Once

	mu   sync.Mutex
	last Dispatched
	err  error
}

func New(conf Config) *Session {
	if conf.Heartbeat <= 0 {
		conf.Heartbeat = DEFAULT_HEARTBEAT
	}
	if conf.Unit <= 0 {
		conf.Unit = DEFAULT_UNIT
	}
	if conf.Grace <= 0 {
		conf.Grace = DEFAULT_GRACE
	}
	if conf.DialTimeout <= 0 {
		conf.DialTimeout = DEFAULT_DIAL
	}
	if conf.QueueLen <= 0 {
		conf.QueueLen = DEFAULT_QUEUE_LEN
	}
	o := &Session{sid: uuid.New().String(), conf: conf}
	o.dispatcher = conf.Dispatcher
	if o.dispatcher == nil {
		o.dispatcher = dispatch.New()
	}
	if conf.Logger != nil {
		o.log = *conf.Logger
	} else {
		o.log = log.DefaultLogger
	}
	o.log.Context = log.NewContext(nil).Str("module", "session").Str("sid", o.sid).Str("imei", conf.Identity.IMEI).Value()
	o.queue = make(chan []byte, conf.QueueLen)
	o.senderDone = make(chan struct{})
	o.done = make(chan struct{})
	return o
}

// Connect dials the collector. A failure is final for this session.
func (s *Session) Connect(ctx context.Context) error {
	if s.State() != DISCONNECTED {
		return ErrBadState
	}
	d := net.Dialer{Timeout: s.conf.DialTimeout}
	nc, err := d.DialContext(ctx, "tcp", s.conf.Addr)
	if err != nil {
		cerr := &ConnectionError{Op: "dial", Addr: s.conf.Addr, Err: err}
		s.log.Error().Err(cerr).Msg("connect failed")
		return cerr
	}
	c := conn.NewConn(nc, atomic.AddUint64(&cid_counter, 1))
	s.mu.Lock()
	s.c = c
	s.mu.Unlock()
	if !atomic.CompareAndSwapInt32(&s.state, int32(DISCONNECTED), int32(CONNECTED)) {
		c.Close()
		return ErrBadState
	}
	s.log.Info().EmbedObject(c).Msg("connected")
	s.emit(event.CONNECTED)
	return nil
}

// Login sends the identity frame on the caller's goroutine. No reply is awaited.
func (s *Session) Login() error {
	if s.State() != CONNECTED {
		return ErrBadState
	}
	id := s.conf.Identity
	m := packet.Message{
		"type":    packet.LOGIN,
		"imei":    id.IMEI,
		"imsi":    id.IMSI,
		"version": id.Version,
		"vendor":  id.Vendor,
		"iccid":   id.ICCID,
		"modules": id.Modules,
	}
	if err := s.Send(m); err != nil {
		return err
	}
	if !atomic.CompareAndSwapInt32(&s.state, int32(CONNECTED), int32(LOGGED_IN)) {
		return ErrBadState
	}
	ident, _ := m.Ident()
	s.log.Info().EmbedObject(id).Int("ident", ident).Msg("login sent")
	s.emit(event.LOGGED_IN)
	return nil
}

// Loop enters Running, starts the sender and heartbeat goroutines and runs the
// receive loop. With block set it returns once the session has terminated,
// otherwise the receive loop gets its own goroutine and Done reports the end.
func (s *Session) Loop(block bool) error {
	s.wmu.Lock()
	st := s.State()
	if st != CONNECTED && st != LOGGED_IN {
		s.wmu.Unlock()
		return ErrBadState
	}
	if !atomic.CompareAndSwapInt32(&s.state, int32(st), int32(RUNNING)) {
		s.wmu.Unlock()
		return ErrBadState
	}
	atomic.StoreUint32(&s.looped, 1)
	s.wmu.Unlock()

	s.log.Debug().Msg("running")
	s.emit(event.RUNNING)
	go s.sender()
	go s.heartbeat()
	if !block {
		go s.run()
		return nil
	}
	s.run()
	return s.Err()
}

func (s *Session) run() {
	s.terminate(s.receive())
}

// Close shuts the session down from outside. It is safe to call at any time
// and from any goroutine, including handlers.
func (s *Session) Close() {
	s.terminate(nil)
}

// terminate runs the shutdown sequence once: stop flag, sentinel, bounded
// drain, socket close, Terminated.
func (s *Session) terminate(cause error) {
	s.term_once.Do(func() {
		atomic.StoreUint32(&s.stopped, 1)
		s.setErr(cause)
		if atomic.LoadUint32(&s.looped) == 1 {
			ctx, cancel := context.WithTimeout(context.Background(), s.conf.Grace)
			select {
			case s.queue <- nil:
			case <-s.senderDone:
			case <-ctx.Done():
			}
			select {
			case <-s.senderDone:
			case <-ctx.Done():
				s.log.Warn().Msg("sender did not drain in time")
			}
			cancel()
		}
		c := s.conn()
		if c != nil {
			c.Close()
		}
		atomic.StoreInt32(&s.state, int32(TERMINATED))
		close(s.done)
		ev := s.log.Info()
		if cause != nil {
			ev = ev.Err(cause)
		}
		if c != nil {
			ev = ev.EmbedObject(c)
		}
		ev.Msg("terminated")
		s.emit(event.TERMINATED)
	})
}

func (s *Session) emit(topic string) {
	if s.conf.Bus == nil {
		return
	}
	l := event.Lifecycle{SID: s.sid, IMEI: s.conf.Identity.IMEI, Addr: s.conf.Addr}
	if err := s.Err(); err != nil {
		l.Err = err.Error()
	}
	s.conf.Bus.Emit(context.Background(), topic, l)
}

func (s *Session) BuildReport(cells []report.Cell, gps *report.GPS, ts time.Time) packet.Message {
	return report.Build(cells, gps, ts)
}

func (s *Session) SID() string {
	return s.sid
}

func (s *Session) Identity() Identity {
	return s.conf.Identity
}

func (s *Session) State() State {
	return State(atomic.LoadInt32(&s.state))
}

func (s *Session) Stopped() bool {
	return atomic.LoadUint32(&s.stopped) == 1
}

func (s *Session) setStopped() {
	atomic.StoreUint32(&s.stopped, 1)
}

// Done is closed once the session reached Terminated.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns what ended the session. A closed stream or a local Close
// leave it nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *Session) LastDispatched() (Dispatched, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, !s.last.At.IsZero()
}

func (s *Session) setLast(in dispatch.Inbound) {
	s.mu.Lock()
	s.last = Dispatched{Type: in.Type, Ident: in.Ident, HasIdent: in.HasIdent, At: time.Now()}
	s.mu.Unlock()
}

func (s *Session) conn() *conn.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c
}

func (s *Session) Stat() (byte_in uint64, byte_out uint64) {
	c := s.conn()
	if c == nil {
		return 0, 0
	}
	return c.Stat()
}

func (s *Session) MarshalObject(e *log.Entry) {
	e.Str("sid", s.sid).Str("imei", s.conf.Identity.IMEI).Str("state", s.State().String())
}
