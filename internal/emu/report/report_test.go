package report

import (
	"encoding/json"
	"testing"
	"time"

	"nuha.dev/gpsemu/internal/emu/packet"
)

func decoded(t *testing.T, m packet.Message) packet.Message {
	t.Helper()
	f, err := packet.Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	var d packet.Decoder
	out, _, err := d.Feed(f)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestBuildCells(t *testing.T) {
	cells := []Cell{
		{MCC: 460, MNC: 0, LAC: 9475, CI: 44901, RxLev: 32},
		{MCC: 460, MNC: 0, LAC: 9475, CI: 17252, RxLev: 23},
	}
	ts := time.Unix(1697438400, 500000000)
	m := decoded(t, Build(cells, nil, ts))

	if typ, _ := m.Type(); typ != packet.LOCATION {
		t.Errorf("type = %d, want %d", typ, packet.LOCATION)
	}
	if fb, _ := m.Int("feedback"); fb != 1 {
		t.Errorf("feedback = %d, want 1", fb)
	}
	if _, ok := m["gps"]; ok {
		t.Error("gps present without a fix")
	}
	got, ok := m["cells"].([]interface{})
	if !ok || len(got) != 2 {
		t.Fatalf("cells = %v", m["cells"])
	}
	for i, c := range got {
		rec := packet.Message(c.(map[string]interface{}))
		if ci, _ := rec.Int("ci"); ci != cells[i].CI {
			t.Errorf("cells[%d].ci = %d, want %d", i, ci, cells[i].CI)
		}
		for _, k := range []string{"mcc", "mnc", "lac", "rxlev"} {
			if _, ok := rec.Int(k); !ok {
				t.Errorf("cells[%d] misses %s", i, k)
			}
		}
	}
	if v, _ := m["timestamp"].(json.Number).Float64(); v != 1697438400.5 {
		t.Errorf("timestamp = %v, want 1697438400.5", v)
	}
}

func TestBuildGPS(t *testing.T) {
	m := decoded(t, Build(nil, &GPS{Lon: 113.4395958, Lat: 23.1659372}, time.Time{}))
	if _, ok := m["cells"]; ok {
		t.Error("cells present without observations")
	}
	gps, ok := m["gps"].(map[string]interface{})
	if !ok {
		t.Fatalf("gps = %v", m["gps"])
	}
	if lon, _ := gps["lon"].(json.Number).Float64(); lon != 113.4395958 {
		t.Errorf("lon = %v", lon)
	}
	if lat, _ := gps["lat"].(json.Number).Float64(); lat != 23.1659372 {
		t.Errorf("lat = %v", lat)
	}
}

func TestBuildDefaultTimestamp(t *testing.T) {
	before := Timestamp(time.Now())
	m := Build(nil, nil, time.Time{})
	after := Timestamp(time.Now())
	ts, ok := m["timestamp"].(float64)
	if !ok || ts < before || ts > after {
		t.Errorf("timestamp = %v, want within [%v, %v]", m["timestamp"], before, after)
	}
	if _, ok := m["cells"]; ok {
		t.Error("empty report carries cells")
	}
}

func TestBuildCopiesCells(t *testing.T) {
	cells := []Cell{{MCC: 460, CI: 1}}
	m := Build(cells, nil, time.Unix(1, 0))
	cells[0].CI = 2
	if got := m["cells"].([]Cell)[0].CI; got != 1 {
		t.Errorf("report changed with caller slice, ci = %d", got)
	}
}
