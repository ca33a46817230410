package pgstore

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/phuslu/log"

	"nuha.dev/gpsemu/internal/store"
)

var COLUMNS = []string{"imei", "ident", "cells", "longitude", "latitude", "device_time", "server_time"}

// Copier is the part of *pgxpool.Pool the store needs.
type Copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store batches location records and writes them with COPY, either when a
// batch is full or when its oldest record is older than MaxAgeFlush.
type Store struct {
	config *StoreConfig
	wlock  sync.Mutex
	wbuf   buffer
	closed bool
	flushq chan buffer
	done   chan struct{}
	stop   chan struct{}
	db     Copier
	log    log.Logger
	table  string
}

type StoreConfig struct {
	BufSize     int
	TickerDur   time.Duration
	MaxAgeFlush time.Duration
}

type buffer struct {
	seq uint64
	t1  time.Time
	t2  time.Time
	buf []*store.Record
}

func new_buffer(seq uint64, len int) buffer {
	return buffer{seq: seq, buf: make([]*store.Record, 0, len)}
}

func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{BufSize: 100, TickerDur: time.Second, MaxAgeFlush: 5 * time.Second}
}

// NewStore builds a store writing into table. A nil config means DefaultStoreConfig.
func NewStore(db Copier, table string, config *StoreConfig) *Store {
	if config == nil {
		config = DefaultStoreConfig()
	}
	o := &Store{}
	o.config = config
	o.table = table
	o.db = db
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "pgstore").Value()
	o.wbuf = new_buffer(0, o.config.BufSize)
	o.flushq = make(chan buffer, 4)
	o.done = make(chan struct{})
	o.stop = make(chan struct{})
	return o
}

func (st *Store) Run() {
	go st.timer_flusher()
	go st.handle()
}

func (st *Store) timer_flusher() {
	ticker := time.NewTicker(st.config.TickerDur)
	defer ticker.Stop()
	for {
		select {
		case t := <-ticker.C:
			st.wlock.Lock()
			if len(st.wbuf.buf) != 0 && t.Sub(st.wbuf.t1) > st.config.MaxAgeFlush {
				st.flush()
			}
			st.wlock.Unlock()
		case <-st.stop:
			return
		}
	}
}

func (st *Store) Put(rec *store.Record) {
	st.wlock.Lock()
	defer st.wlock.Unlock()
	if st.closed {
		st.log.Warn().Str("imei", rec.IMEI).Msg("put after close, record dropped")
		return
	}
	if len(st.wbuf.buf) == 0 {
		st.wbuf.t1 = time.Now().UTC()
	}
	st.wbuf.buf = append(st.wbuf.buf, rec)
	if len(st.wbuf.buf) >= st.config.BufSize {
		st.flush()
	}
}

// flush hands the write buffer to the flusher. wlock must be held.
func (st *Store) flush() {
	next := st.wbuf.seq + 1
	st.wbuf.t2 = time.Now().UTC()
	st.flushq <- st.wbuf
	st.wbuf = new_buffer(next, st.config.BufSize)
}

// Close writes what is buffered and waits for the flusher to finish.
func (st *Store) Close() {
	st.wlock.Lock()
	if st.closed {
		st.wlock.Unlock()
		return
	}
	st.closed = true
	if len(st.wbuf.buf) != 0 {
		st.flush()
	}
	close(st.stop)
	close(st.flushq)
	st.wlock.Unlock()
	<-st.done
}

func (st *Store) handle() {
	defer close(st.done)
	st.log.Info().Msg("starting flusher task")
	for buf := range st.flushq {
		t1 := time.Now()
		n, err := st.db.CopyFrom(context.Background(),
			pgx.Identifier{st.table},
			COLUMNS,
			pgx.CopyFromSlice(len(buf.buf), func(i int) ([]interface{}, error) {
				return row(buf.buf[i]), nil
			}))
		if err != nil {
			st.log.Error().Err(err).Uint64("seq", buf.seq).Int("length", len(buf.buf)).Msg("flush error")
		} else {
			st.log.Debug().Str("action", "flush").Uint64("seq", buf.seq).Int64("rows", n).Dur("time_taken", time.Since(t1)).Msg("flush successfull")
		}
	}
}

func row(d *store.Record) []interface{} {
	var cells interface{}
	if d.Cells != nil {
		cells = string(d.Cells)
	}
	return []interface{}{d.IMEI, d.Ident, cells, d.Lon, d.Lat, d.DeviceTime, d.ServerTime}
}
