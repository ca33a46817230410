package logstore

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nuha.dev/gpsemu/internal/store"
)

// LogStore writes every record to the log instead of a database.
type LogStore struct {
	logger zerolog.Logger
}

func NewStore() *LogStore {
	return &LogStore{logger: log.With().Str("module", "logstore").Logger()}
}

func NewStoreWithLogger(logger zerolog.Logger) *LogStore {
	return &LogStore{logger: logger.With().Str("module", "logstore").Logger()}
}

func (l *LogStore) Put(rec *store.Record) {
	ev := l.logger.Info().Str("imei", rec.IMEI).Int("ident", rec.Ident)
	if rec.Cells != nil {
		ev = ev.RawJSON("cells", rec.Cells)
	}
	if rec.Lon != nil && rec.Lat != nil {
		ev = ev.Float64("lon", *rec.Lon).Float64("lat", *rec.Lat)
	}
	ev.Time("device_time", rec.DeviceTime).Time("server_time", rec.ServerTime).Msg("location")
}

func (l *LogStore) SaveLogin(lg *store.Login) {
	l.logger.Info().Str("imei", lg.IMEI).Str("imsi", lg.IMSI).Str("iccid", lg.ICCID).
		Int("version", lg.Version).Int("vendor", lg.Vendor).Str("modules", lg.Modules).
		Str("remote_address", lg.RemoteAddr).Msg("login")
}
