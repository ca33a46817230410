package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/phuslu/log"

	"nuha.dev/gpsemu/internal/store"
)

// Execer is the part of *pgxpool.Pool the misc store needs.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
}

type PgMiscStore struct {
	db  Execer
	log log.Logger
}

func NewMiscStore(db Execer) *PgMiscStore {
	m := PgMiscStore{}
	m.db = db
	m.log = log.DefaultLogger
	m.log.Context = log.NewContext(nil).Str("module", "misc_store").Value()
	return &m
}

// SaveLogin upserts the device row keyed by imei.
func (st *PgMiscStore) SaveLogin(l *store.Login) {
	_, err := st.db.Exec(context.Background(),
		`INSERT INTO device (imei,imsi,iccid,version,vendor,modules,remote_addr,last_login) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (imei) DO UPDATE SET imsi = EXCLUDED.imsi, iccid = EXCLUDED.iccid, version = EXCLUDED.version,
		vendor = EXCLUDED.vendor, modules = EXCLUDED.modules, remote_addr = EXCLUDED.remote_addr, last_login = EXCLUDED.last_login`,
		l.IMEI, l.IMSI, l.ICCID, l.Version, l.Vendor, l.Modules, l.RemoteAddr, l.ServerTime)
	if err != nil {
		st.log.Error().Err(err).Str("imei", l.IMEI).Msg("error saving login")
	}
}

const DEVICE_TABLE = `CREATE TABLE IF NOT EXISTS device (
	imei text PRIMARY KEY,
	imsi text,
	iccid text,
	version integer,
	vendor integer,
	modules text,
	remote_addr text,
	last_login timestamptz
)`

const LOCATION_TABLE = `CREATE TABLE IF NOT EXISTS %s (
	imei text NOT NULL,
	ident integer,
	cells jsonb,
	longitude double precision,
	latitude double precision,
	device_time timestamptz,
	server_time timestamptz NOT NULL
)`

// InitSchema creates the device table and the location table named table.
func InitSchema(ctx context.Context, db Execer, table string) error {
	if _, err := db.Exec(ctx, DEVICE_TABLE); err != nil {
		return err
	}
	_, err := db.Exec(ctx, fmt.Sprintf(LOCATION_TABLE, pgx.Identifier{table}.Sanitize()))
	return err
}
