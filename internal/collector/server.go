package collector

import (
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	proxyproto "github.com/pires/go-proxyproto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nuha.dev/gpsemu/internal/collector/stat"
	"nuha.dev/gpsemu/internal/emu/dispatch"
	"nuha.dev/gpsemu/internal/store"
	"nuha.dev/gpsemu/internal/util/wc"
)

const (
	NEW_CONNECTION    = "new_connection"
	LOGIN_MESSAGE     = "login_message"
	CONNECTION_CLOSED = "connection_closed"
)

var ErrServerClosed = errors.New("collector closed")

type ServerConfig struct {
	ListenerAddr string
	// IdleTimeout drops a connection that sent nothing for that long, zero disables it.
	IdleTimeout time.Duration
}

// FrameHook sees every routable frame before it is dispatched.
type FrameHook func(cid uint64, in dispatch.Inbound)

type client_list struct {
	mu   sync.Mutex
	list map[uint64]*client
}

// Server accepts emulated devices, acknowledges their frames and stores the
// location reports.
type Server struct {
	mu            sync.Mutex
	logger        zerolog.Logger
	config        *ServerConfig
	cid_counter   uint64
	listener      net.Listener
	proxylistener *proxyproto.Listener
	closed        bool
	wg            sync.WaitGroup
	hook          FrameHook
	client_list
	store      store.Store
	misc_store store.MiscStore
	stat       *stat.Stat
}

func NewServer(st store.Store, misc_store store.MiscStore, config *ServerConfig) *Server {
	s := &Server{}
	s.logger = log.With().Str("module", "collector").Logger()
	s.config = config
	s.store = st
	s.misc_store = misc_store
	s.stat = stat.NewStat()
	s.client_list = client_list{list: make(map[uint64]*client)}
	return s
}

// OnFrame installs a hook, it must be set before Serve.
func (s *Server) OnFrame(h FrameHook) {
	s.hook = h
}

func (s *Server) Stat() *stat.Stat {
	return s.stat
}

func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.config.ListenerAddr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.proxylistener = &proxyproto.Listener{Listener: ln}
	s.logger.Info().Msgf("collector listening on %s", ln.Addr())
	return nil
}

// Addr is the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Run() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Serve accepts until Close. It returns ErrServerClosed after Close.
func (s *Server) Serve() error {
	s.mu.Lock()
	pln := s.proxylistener
	s.mu.Unlock()
	if pln == nil {
		return errors.New("collector is not listening")
	}
	for {
		_c, err := pln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Temporary() {
				s.logger.Warn().Err(err).Msg("temporary accept error")
				time.Sleep(50 * time.Millisecond)
				continue
			}
			s.logger.Error().Err(err).Msg("failed to accept new connection")
			return err
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_c.Close()
			return ErrServerClosed
		}
		s.cid_counter = s.cid_counter + 1
		cl := s.newClient(wc.NewWrappedConn(_c, s.cid_counter, s.logger))
		s.client_list.mu.Lock()
		s.client_list.list[cl.conn.Cid()] = cl
		s.client_list.mu.Unlock()
		s.wg.Add(1)
		s.mu.Unlock()

		s.stat.ConnectEv(cl.conn.Created())
		s.logger.Info().Str("event", NEW_CONNECTION).Uint64("cid", cl.conn.Cid()).Msg("")
		go func() {
			defer s.wg.Done()
			cl.run()
			s.remove(cl)
		}()
	}
}

func (s *Server) remove(cl *client) {
	s.stat.DisconnectEv(time.Now())
	s.client_list.mu.Lock()
	delete(s.client_list.list, cl.conn.Cid())
	s.client_list.mu.Unlock()
	in, out := cl.conn.Stat()
	s.logger.Info().Str("event", CONNECTION_CLOSED).Uint64("cid", cl.conn.Cid()).
		Str("imei", cl.IMEI()).Uint64("byte_in", in).Uint64("byte_out", out).Msg("")
}

// Close stops accepting, drops every connection and waits for their handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.mu.Unlock()

	s.client_list.mu.Lock()
	for _, cl := range s.client_list.list {
		cl.conn.Close()
	}
	s.client_list.mu.Unlock()
	s.wg.Wait()
	return err
}

type ClientStatus struct {
	Cid        uint64    `json:"cid"`
	IMEI       string    `json:"imei"`
	RemoteAddr string    `json:"remote_addr"`
	Created    time.Time `json:"created"`
	ByteIn     uint64    `json:"byte_in"`
	ByteOut    uint64    `json:"byte_out"`
	Frames     uint64    `json:"frames"`
	LastFrame  time.Time `json:"last_frame"`
}

// Clients lists the open connections ordered by cid.
func (s *Server) Clients() []ClientStatus {
	s.client_list.mu.Lock()
	res := make([]ClientStatus, 0, len(s.client_list.list))
	for _, cl := range s.client_list.list {
		res = append(res, cl.status())
	}
	s.client_list.mu.Unlock()
	sort.Slice(res, func(i, j int) bool { return res[i].Cid < res[j].Cid })
	return res
}
