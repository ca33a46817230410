package store

import (
	"encoding/json"
	"time"
)

// Record is one location report as received by the collector.
type Record struct {
	IMEI  string
	Ident int
	// Cells is the cells array exactly as sent, nil when absent.
	Cells      json.RawMessage
	Lon        *float64
	Lat        *float64
	DeviceTime time.Time
	ServerTime time.Time
}

type Store interface {
	Put(rec *Record)
}

// Login is the identity a device announced on its connection.
type Login struct {
	IMEI       string
	IMSI       string
	ICCID      string
	Version    int
	Vendor     int
	Modules    string
	RemoteAddr string
	ServerTime time.Time
}

type MiscStore interface {
	SaveLogin(l *Login)
}
