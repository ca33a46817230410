package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	hashids "github.com/speps/go-hashids/v2"

	"nuha.dev/gpsemu/internal/collector"
	"nuha.dev/gpsemu/internal/collector/stat"
	"nuha.dev/gpsemu/internal/util"
)

// Source is what the monitoring api reads from, *collector.Server in practice.
type Source interface {
	Clients() []collector.ClientStatus
	Stat() *stat.Stat
}

type MonitoringServer struct {
	src    Source
	ids    *hashids.HashID
	r      chi.Router
	server *http.Server
	log    zerolog.Logger
}

type MonitoringConfig struct {
	ListenAddr string
	IdSalt     string
}

type Client struct {
	Id string `json:"id"`
	collector.ClientStatus
}

type Stats struct {
	Clients int `json:"clients"`
	stat.Snapshot
}

func NewMonApi(src Source, config *MonitoringConfig) (*MonitoringServer, error) {
	hd := hashids.NewData()
	hd.Salt = config.IdSalt
	hd.MinLength = 6
	ids, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, err
	}
	m := &MonitoringServer{src: src, ids: ids}
	m.log = log.With().Str("module", "monitoring").Logger()

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(middleware.Recoverer)
	r.Get("/stats", m.stats)
	r.Get("/clients", m.clients)
	r.Get("/clients/{id}", m.client)
	m.r = r

	m.server = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return m, nil
}

func (m *MonitoringServer) Run() error {
	m.log.Info().Msgf("monitoring listening on %s", m.server.Addr)
	err := m.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (m *MonitoringServer) Shutdown(ctx context.Context) error {
	return m.server.Shutdown(ctx)
}

func (m *MonitoringServer) GetHandler() http.Handler {
	return m.r
}

func (m *MonitoringServer) encodeId(cid uint64) string {
	id, err := m.ids.EncodeInt64([]int64{int64(cid)})
	if err != nil {
		panic(err)
	}
	return id
}

func (m *MonitoringServer) stats(w http.ResponseWriter, r *http.Request) {
	util.JsonWrite(w, Stats{Clients: len(m.src.Clients()), Snapshot: m.src.Stat().Snapshot()})
}

func (m *MonitoringServer) clients(w http.ResponseWriter, r *http.Request) {
	list := m.src.Clients()
	res := make([]Client, 0, len(list))
	for _, c := range list {
		res = append(res, Client{Id: m.encodeId(c.Cid), ClientStatus: c})
	}
	util.JsonWrite(w, res)
}

func (m *MonitoringServer) client(w http.ResponseWriter, r *http.Request) {
	dec, err := m.ids.DecodeInt64WithError(chi.URLParam(r, "id"))
	if err != nil || len(dec) != 1 {
		util.JsonError(w, http.StatusBadRequest, "invalid client id")
		return
	}
	for _, c := range m.src.Clients() {
		if int64(c.Cid) == dec[0] {
			util.JsonWrite(w, Client{Id: m.encodeId(c.Cid), ClientStatus: c})
			return
		}
	}
	util.JsonError(w, http.StatusNotFound, "no such client")
}
