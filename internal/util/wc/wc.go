package wc

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Conn is an accepted collector connection with traffic counters.
type Conn struct {
	conn     net.Conn
	closed   uint32
	once     sync.Once
	raddr    atomic.Value
	cid      uint64
	created  time.Time
	byte_in  uint64
	byte_out uint64
	logger   zerolog.Logger
}

func NewWrappedConn(conn net.Conn, cid uint64, logger zerolog.Logger) *Conn {
	o := &Conn{conn: conn, cid: cid}
	o.created = time.Now()
	o.logger = logger.With().Str("module", "wconn").Uint64("cid", cid).Logger()
	o.logger.Debug().Msg("connection created")
	return o
}

func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.conn.Read(p)
	atomic.AddUint64(&c.byte_in, uint64(n))
	return n, err
}

func (c *Conn) Write(d []byte) (int, error) {
	n, err := c.conn.Write(d)
	atomic.AddUint64(&c.byte_out, uint64(n))
	return n, err
}

func (c *Conn) Close() {
	c.once.Do(func() {
		atomic.StoreUint32(&c.closed, 1)
		c.conn.Close()
		in, out := c.Stat()
		c.logger.Debug().Uint64("byte_in", in).Uint64("byte_out", out).Str("remote_address", c.KnownAddr()).Msg("connection closed")
	})
}

func (c *Conn) Stat() (byte_in uint64, byte_out uint64) {
	return atomic.LoadUint64(&c.byte_in), atomic.LoadUint64(&c.byte_out)
}

func (c *Conn) Cid() uint64 {
	return c.cid
}

func (c *Conn) Closed() bool {
	return atomic.LoadUint32(&c.closed) == 1
}

// RemoteAddr returns the peer address, taken from the PROXY header when the
// peer sent one. The first call blocks until the peer sends data.
func (c *Conn) RemoteAddr() string {
	if v, ok := c.raddr.Load().(string); ok {
		return v
	}
	a := c.conn.RemoteAddr().String()
	c.raddr.Store(a)
	return a
}

// KnownAddr is RemoteAddr without blocking, empty until it resolved.
func (c *Conn) KnownAddr() string {
	v, _ := c.raddr.Load().(string)
	return v
}

func (c *Conn) Created() time.Time {
	return c.created
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}
