package report

import (
	"time"

	"nuha.dev/gpsemu/internal/emu/packet"
)

// Cell is one serving or neighbour tower observation used for LBS fixes.
type Cell struct {
	MCC   int `json:"mcc"`
	MNC   int `json:"mnc"`
	LAC   int `json:"lac"`
	CI    int `json:"ci"`
	RxLev int `json:"rxlev"`
}

type GPS struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Build makes a location report. cells keep their order, a nil gps or empty
// cells are left out, a zero ts means now.
func Build(cells []Cell, gps *GPS, ts time.Time) packet.Message {
	m := packet.Message{
		"type":     packet.LOCATION,
		"feedback": 1,
	}
	if len(cells) > 0 {
		c := make([]Cell, len(cells))
		copy(c, cells)
		m["cells"] = c
	}
	if gps != nil {
		m["gps"] = *gps
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	m["timestamp"] = Timestamp(ts)
	return m
}

// Timestamp renders t as fractional unix seconds.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
