package dispatch

import (
	"time"

	"github.com/1Bouye/Ride-sub000/internal/models"
	"github.com/1Bouye/Ride-sub000/internal/observability"
	"github.com/1Bouye/Ride-sub000/internal/protocol"
	"github.com/1Bouye/Ride-sub000/internal/storage"
)

// Submit fans a new ride request out to every driver within the
// configured radius of pickup that has an open session. Fan-out is
// best-effort: an unreachable driver is skipped and logged, never an
// error to the rider. Zero matches is a valid outcome.
//
// The returned presences let the caller answer the rider with the
// nearbyDrivers list.
func (s *Service) Submit(riderID string, pickup, dropoff models.Coord, distance float64, vehicle string) (string, []models.DriverPresence) {
	id := storage.NewID()
	matches := s.presence.FindWithin(pickup, s.cfg.RadiusMeters)

	req := &request{
		id:        id,
		riderID:   riderID,
		pickup:    pickup,
		dropoff:   dropoff,
		distance:  distance,
		vehicle:   vehicle,
		status:    statusPending,
		createdAt: time.Now(),
	}

	offer := protocol.NewRideRequestOffer(id, protocol.RideOfferPayload{
		RiderID:  riderID,
		Pickup:   pickup,
		Dropoff:  dropoff,
		Distance: distance,
		Vehicle:  vehicle,
	})
	for _, m := range matches {
		snd, ok := s.sessions.Sender(protocol.RoleDriver, m.DriverID)
		if !ok {
			s.logger.Debug("matched driver has no open session", "request", id, "driver", m.DriverID)
			continue
		}
		if err := snd.Send(offer); err != nil {
			s.logger.Warn("offer send failed", "request", id, "driver", m.DriverID, "error", err)
			continue
		}
		req.notified = append(req.notified, m.DriverID)
	}

	s.mu.Lock()
	s.requests[id] = req
	s.mu.Unlock()

	observability.BroadcastsTotal.Inc()
	observability.NotifiedDrivers.Observe(float64(len(req.notified)))
	s.logger.Info("ride request broadcast",
		"request", id, "rider", riderID, "matched", len(matches), "notified", len(req.notified))

	time.AfterFunc(s.cfg.AcceptTimeout, func() { s.expire(id, false) })
	time.AfterFunc(s.cfg.RequestTTL, func() { s.expire(id, true) })

	return id, matches
}

// expire drives the timeout transition. The interactive deadline only
// expires unclaimed requests; a request mid-claim is resolved by the
// in-flight create (success keeps it, rollback expires it). The
// absolute ceiling (force) removes the entry regardless of state.
func (s *Service) expire(id string, force bool) {
	req, ok := s.get(id)
	if !ok {
		return
	}
	req.mu.Lock()
	switch req.status {
	case statusPending:
		req.status = statusExpired
	case statusProcessing:
		if !force {
			req.deadlinePassed = true
			req.mu.Unlock()
			return
		}
		req.status = statusExpired
	case statusAccepted, statusExpired:
		req.mu.Unlock()
		if force {
			s.remove(id)
		}
		return
	}
	notified := req.notified
	riderID := req.riderID
	req.mu.Unlock()

	s.remove(id)
	observability.ExpiriesTotal.Inc()
	s.logger.Info("ride request expired", "request", id, "force", force)

	closed := protocol.NewRideRequestCancelled(id, ReasonExpired)
	for _, d := range notified {
		s.sendTo(protocol.RoleDriver, d, closed)
	}
	s.sendTo(protocol.RoleRider, riderID, closed)
}
