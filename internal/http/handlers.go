package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1Bouye/Ride-sub000/internal/config"
	"github.com/1Bouye/Ride-sub000/internal/dispatch"
	"github.com/1Bouye/Ride-sub000/internal/ingest"
	"github.com/1Bouye/Ride-sub000/internal/presence"
	"github.com/1Bouye/Ride-sub000/internal/session"
	"github.com/1Bouye/Ride-sub000/internal/storage"
)

type Server struct {
	Presence presence.Registry
	Sessions *session.Registry
	Dispatch *dispatch.Service
	Kafka    *ingest.KafkaProducer

	logger      *slog.Logger
	mux         *mux.Router
	readyChecks []func(context.Context) error
}

// NewServer wires the process from config: Redis presence and Postgres
// store when configured, in-memory fallbacks otherwise.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	var reg presence.Registry
	var checks []func(context.Context) error
	if cfg.RedisAddr != "" {
		rp := presence.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, cfg.PresenceGrace)
		reg = rp
		checks = append(checks, rp.Ping)
	} else {
		reg = presence.NewMemory(cfg.PresenceGrace)
	}

	var store storage.RideStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		store = ps
		checks = append(checks, ps.Ping)
	} else {
		store = storage.NewMemoryStore()
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	sessions := session.NewRegistry()
	d := dispatch.NewService(dispatch.Config{
		RadiusMeters:  cfg.DispatchRadiusMeters,
		AcceptTimeout: cfg.AcceptTimeout,
		RequestTTL:    cfg.RequestTTL,
		Retention:     cfg.RetentionWindow,
		DedupeWindow:  cfg.DedupeWindow,
	}, reg, dispatch.RegistrySessions{Registry: sessions}, store, logger)

	s := &Server{
		Presence:    reg,
		Sessions:    sessions,
		Dispatch:    d,
		Kafka:       kp,
		logger:      logger,
		mux:         mux.NewRouter(),
		readyChecks: checks,
	}
	s.registerMiddleware()
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, check := range s.readyChecks {
		if err := check(ctx); err != nil {
			http.Error(w, "dependency not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(200)
	w.Write([]byte("ready"))
}
