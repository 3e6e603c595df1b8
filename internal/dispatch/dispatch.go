// Package dispatch owns the live ride-request table: fan-out of new
// requests to nearby drivers and arbitration of concurrent claims.
//
// Every request's mutable state is guarded by its own mutex, so claim
// races on one request never serialize unrelated requests. In a
// multi-instance deployment this in-memory arbitration is only a fast
// path; the backing store's create-if-absent is the real arbiter.
package dispatch

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/1Bouye/Ride-sub000/internal/models"
	"github.com/1Bouye/Ride-sub000/internal/presence"
	"github.com/1Bouye/Ride-sub000/internal/session"
	"github.com/1Bouye/Ride-sub000/internal/storage"
)

var (
	ErrRequestNotFound = errors.New("ride request not found")
	ErrAlreadyClaimed  = errors.New("ride request already claimed")
	ErrCreateFailed    = errors.New("ride creation failed")
)

const (
	ReasonTaken       = "already accepted by another driver"
	ReasonExpired     = "ride request expired"
	ReasonRetryCreate = "ride creation failed, please retry"
)

type status int

const (
	statusPending status = iota
	statusProcessing
	statusAccepted
	statusExpired
)

// Sender is the one-way slice of a session the dispatcher writes to.
type Sender interface {
	Send(v any) error
}

// SessionResolver looks up the live session for a subject.
type SessionResolver interface {
	Sender(role, subjectID string) (Sender, bool)
}

// RegistrySessions adapts the session registry to SessionResolver.
type RegistrySessions struct {
	Registry *session.Registry
}

func (r RegistrySessions) Sender(role, subjectID string) (Sender, bool) {
	s, ok := r.Registry.For(role, subjectID)
	if !ok {
		return nil, false
	}
	return s, true
}

type Config struct {
	RadiusMeters  float64
	AcceptTimeout time.Duration // interactive countdown the driver sees
	RequestTTL    time.Duration // absolute ceiling against orphaned entries
	Retention     time.Duration // how long an accepted request lingers for late messages
	DedupeWindow  time.Duration // backing store recent-ride window
}

func DefaultConfig() Config {
	return Config{
		RadiusMeters:  5000,
		AcceptTimeout: 10 * time.Second,
		RequestTTL:    5 * time.Minute,
		Retention:     10 * time.Second,
		DedupeWindow:  90 * time.Second,
	}
}

// request is one live dispatch attempt. notified is write-once at
// broadcast time; status only ever advances pending → processing →
// {accepted | pending on rollback | expired}.
type request struct {
	mu sync.Mutex

	id       string
	riderID  string
	pickup   models.Coord
	dropoff  models.Coord
	distance float64
	vehicle  string

	status   status
	notified []string
	claimant string
	winner   string
	ride     models.Ride

	createdAt time.Time
	// the interactive deadline fired while a claim was in flight; the
	// claim resolves it: success means accepted, rollback means expired
	deadlinePassed bool
}

// Service is both the broadcaster and the acceptance coordinator; the
// two share the request table and its per-request locks.
type Service struct {
	cfg      Config
	presence presence.Registry
	sessions SessionResolver
	store    storage.RideStore
	logger   *slog.Logger

	mu       sync.Mutex
	requests map[string]*request
}

func NewService(cfg Config, reg presence.Registry, sessions SessionResolver, store storage.RideStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		presence: reg,
		sessions: sessions,
		store:    store,
		logger:   logger,
		requests: make(map[string]*request),
	}
}

func (s *Service) get(id string) (*request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	return r, ok
}

func (s *Service) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, id)
}

func (s *Service) sendTo(role, subjectID string, v any) {
	snd, ok := s.sessions.Sender(role, subjectID)
	if !ok {
		s.logger.Debug("no session for notification", "role", role, "subject", subjectID)
		return
	}
	if err := snd.Send(v); err != nil {
		s.logger.Warn("notification send failed", "role", role, "subject", subjectID, "error", err)
	}
}
