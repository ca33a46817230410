package conn

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
)

// Conn counts traffic on a device socket and makes Close idempotent.
type Conn struct {
	cid      uint64
	tuple    []string
	conn     net.Conn
	closed   uint32
	once     sync.Once
	cerr     error
	created  time.Time
	byte_in  uint64
	byte_out uint64
}

func NewConn(c net.Conn, cid uint64) *Conn {
	localip, localport, _ := net.SplitHostPort(c.LocalAddr().String())
	remoteip, remoteport, _ := net.SplitHostPort(c.RemoteAddr().String())
	return &Conn{cid: cid, tuple: []string{localip, localport, remoteip, remoteport}, conn: c, created: time.Now()}
}

func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.conn.Read(p)
	atomic.AddUint64(&c.byte_in, uint64(n))
	return n, err
}

// Write loops until d is fully written or the socket fails.
func (c *Conn) Write(d []byte) (int, error) {
	total := 0
	for total < len(d) {
		n, err := c.conn.Write(d[total:])
		total += n
		atomic.AddUint64(&c.byte_out, uint64(n))
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (c *Conn) Close() error {
	c.once.Do(func() {
		atomic.StoreUint32(&c.closed, 1)
		c.cerr = c.conn.Close()
	})
	return c.cerr
}

func (c *Conn) Closed() bool {
	return atomic.LoadUint32(&c.closed) == 1
}

func (c *Conn) Stat() (byte_in uint64, byte_out uint64) {
	return atomic.LoadUint64(&c.byte_in), atomic.LoadUint64(&c.byte_out)
}

func (c *Conn) Cid() uint64 {
	return c.cid
}

func (c *Conn) Created() time.Time {
	return c.created
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

func (c *Conn) MarshalObject(e *log.Entry) {
	e.Uint64("cid", c.cid).Strs("socket", c.tuple)
}
