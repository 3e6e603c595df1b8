package presence

import (
	"sync"
	"time"

	"github.com/1Bouye/Ride-sub000/internal/geo"
	"github.com/1Bouye/Ride-sub000/internal/models"
	"github.com/1Bouye/Ride-sub000/internal/observability"
)

// Memory is the in-process registry: a flat map behind an RWMutex with
// a linear haversine scan. Good up to a few tens of thousands of
// drivers per instance; beyond that use the Redis registry.
type Memory struct {
	mu      sync.RWMutex
	drivers map[string]models.DriverPresence
	grace   time.Duration
}

func NewMemory(grace time.Duration) *Memory {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Memory{drivers: make(map[string]models.DriverPresence), grace: grace}
}

func (m *Memory) Upsert(driverID string, lat, lon float64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[driverID] = models.DriverPresence{
		DriverID:  driverID,
		Loc:       models.Coord{Lat: lat, Lon: lon},
		UpdatedAt: now,
		Fresh:     true,
	}
}

func (m *Memory) MarkStale(driverID string, now time.Time) {
	m.mu.Lock()
	d, ok := m.drivers[driverID]
	if !ok {
		m.mu.Unlock()
		return
	}
	d.Fresh = false
	d.DisconnectedAt = now
	m.drivers[driverID] = d
	m.mu.Unlock()

	// The timer re-reads current state: a refresh before the deadline
	// flips Fresh back and the delete is skipped; a later disconnect
	// re-arms with a newer DisconnectedAt and this timer stands down.
	time.AfterFunc(m.grace, func() { m.evictIfStale(driverID, now) })
}

func (m *Memory) evictIfStale(driverID string, disconnectedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok || d.Fresh || !d.DisconnectedAt.Equal(disconnectedAt) {
		return
	}
	delete(m.drivers, driverID)
	observability.PresenceEvictions.Inc()
}

func (m *Memory) FindWithin(center models.Coord, radiusMeters float64) []models.DriverPresence {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.DriverPresence, 0, len(m.drivers))
	for _, d := range m.drivers {
		if geo.Haversine(center.Lat, center.Lon, d.Loc.Lat, d.Loc.Lon) <= radiusMeters {
			out = append(out, d)
		}
	}
	return out
}
