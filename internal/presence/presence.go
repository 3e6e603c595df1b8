// Package presence tracks which drivers are online and where.
//
// A disconnected driver is not dropped immediately: its entry goes
// stale and stays matchable for a grace period, so a brief network
// blip does not remove the driver from dispatch. The broadcast layer
// only reaches drivers with an open session anyway.
package presence

import (
	"time"

	"github.com/1Bouye/Ride-sub000/internal/models"
)

// DefaultGrace is how long a stale entry survives after disconnect.
const DefaultGrace = 30 * time.Second

// Registry is the read/write surface the dispatch core needs.
type Registry interface {
	// Upsert sets or refreshes a driver's position and marks it fresh.
	Upsert(driverID string, lat, lon float64, now time.Time)
	// MarkStale flags a driver as disconnected and schedules eviction
	// once the grace period elapses without a refresh.
	MarkStale(driverID string, now time.Time)
	// FindWithin returns all entries, fresh or still-ungraced stale,
	// within radiusMeters of center. The boundary is inclusive.
	FindWithin(center models.Coord, radiusMeters float64) []models.DriverPresence
}
