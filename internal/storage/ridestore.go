package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/1Bouye/Ride-sub000/internal/models"
)

// NewRide carries everything needed to persist one ride.
type NewRide struct {
	RiderID  string
	DriverID string
	Pickup   models.Coord
	Dropoff  models.Coord
	Charge   float64
}

// CreateResult reports what the store found or did. When Created is
// false the returned Ride is the pre-existing record and OwnerDriverID
// names the driver that holds it, which may or may not be the caller.
type CreateResult struct {
	Created       bool
	Ride          models.Ride
	OwnerDriverID string
}

// RideStore is the durable arbiter for "who actually won". It must be
// safe to call concurrently from multiple processes: at most one ride
// may exist per rider within the dedupe window.
type RideStore interface {
	CreateRideIfAbsent(ctx context.Context, nr NewRide, window time.Duration) (CreateResult, error)
}

// MemoryStore keeps rides in process memory. Suitable for tests and
// single-instance runs only; it arbitrates nothing across processes.
type MemoryStore struct {
	mu    sync.Mutex
	rides map[string]models.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]models.Ride)}
}

func (m *MemoryStore) CreateRideIfAbsent(ctx context.Context, nr NewRide, window time.Duration) (CreateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-window)
	for _, r := range m.rides {
		if r.RiderID == nr.RiderID && r.CreatedAt.After(cutoff) {
			return CreateResult{Created: false, Ride: r, OwnerDriverID: r.DriverID}, nil
		}
	}
	ride := models.Ride{
		ID:        NewID(),
		RiderID:   nr.RiderID,
		DriverID:  nr.DriverID,
		Pickup:    nr.Pickup,
		Dropoff:   nr.Dropoff,
		Status:    "accepted",
		Charge:    nr.Charge,
		CreatedAt: time.Now(),
	}
	m.rides[ride.ID] = ride
	return CreateResult{Created: true, Ride: ride, OwnerDriverID: nr.DriverID}, nil
}

func (m *MemoryStore) Get(id string) (models.Ride, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	return r, ok
}

// NewID returns a 16-char hex identifier.
func NewID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
