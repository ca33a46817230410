package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nuha.dev/gpsemu/internal/collector"
	"nuha.dev/gpsemu/internal/collector/stat"
)

type fakeSource struct {
	st      *stat.Stat
	clients []collector.ClientStatus
}

func (f *fakeSource) Clients() []collector.ClientStatus { return f.clients }
func (f *fakeSource) Stat() *stat.Stat                   { return f.st }

func newApi(t *testing.T) (*MonitoringServer, *fakeSource) {
	t.Helper()
	src := &fakeSource{st: stat.NewStat()}
	src.clients = []collector.ClientStatus{
		{Cid: 1, IMEI: "355372020827303", Frames: 4},
		{Cid: 7, IMEI: "355372020827304"},
	}
	m, err := NewMonApi(src, &MonitoringConfig{IdSalt: "test"})
	if err != nil {
		t.Fatal(err)
	}
	return m, src
}

func get(t *testing.T, h http.Handler, path string, v interface{}) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if v != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
			t.Fatalf("%s: %v", path, err)
		}
	}
	return rec.Code
}

func TestStats(t *testing.T) {
	m, src := newApi(t)
	src.st.CounterIncr(3, time.Now())
	src.st.LoginEv(time.Now())

	var res Stats
	if code := get(t, m.GetHandler(), "/stats", &res); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if res.Clients != 2 || res.Frames != 3 || res.Login.Count != 1 {
		t.Errorf("stats = %+v", res)
	}
}

func TestClientIds(t *testing.T) {
	m, _ := newApi(t)
	var list []Client
	if code := get(t, m.GetHandler(), "/clients", &list); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(list) != 2 || len(list[0].Id) < 6 || list[0].Id == list[1].Id {
		t.Fatalf("clients = %+v", list)
	}

	var one Client
	if code := get(t, m.GetHandler(), "/clients/"+list[1].Id, &one); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if one.Cid != 7 || one.IMEI != "355372020827304" {
		t.Errorf("client = %+v", one)
	}
}

func TestClientLookupErrors(t *testing.T) {
	m, _ := newApi(t)
	if code := get(t, m.GetHandler(), "/clients/"+m.encodeId(99), nil); code != http.StatusNotFound {
		t.Errorf("unknown client: status %d", code)
	}
	if code := get(t, m.GetHandler(), "/clients/!!", nil); code != http.StatusBadRequest {
		t.Errorf("garbage id: status %d", code)
	}
}
