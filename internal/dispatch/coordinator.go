package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/1Bouye/Ride-sub000/internal/models"
	"github.com/1Bouye/Ride-sub000/internal/observability"
	"github.com/1Bouye/Ride-sub000/internal/protocol"
	"github.com/1Bouye/Ride-sub000/internal/storage"
)

// Accept arbitrates one driver's claim on a broadcast request.
//
// The pending→processing check-and-set happens under the request's own
// lock, so exactly one concurrent claimant passes it. The winner-to-be
// immediately cancels every other notified driver (before the durable
// write, trading a small rollback risk for loser latency), then calls
// the backing store's idempotent create. Every outcome ends in a typed
// notification to the sessions involved; the returned error is for the
// caller's logging only.
func (s *Service) Accept(ctx context.Context, requestID, driverID string) (models.Ride, error) {
	req, ok := s.get(requestID)
	if !ok {
		s.sendTo(protocol.RoleDriver, driverID, protocol.NewRideRequestCancelled(requestID, ReasonTaken))
		observability.ClaimsTotal.WithLabelValues("late").Inc()
		return models.Ride{}, ErrRequestNotFound
	}

	req.mu.Lock()
	switch req.status {
	case statusPending:
		// claim it below
	case statusAccepted:
		if req.winner == driverID {
			// duplicate accept from the winner; hand back the same ride
			ride := req.ride
			req.mu.Unlock()
			s.sendTo(protocol.RoleDriver, driverID, protocol.NewRideAcceptedConfirmation(requestID, ride))
			return ride, nil
		}
		fallthrough
	case statusProcessing, statusExpired:
		req.mu.Unlock()
		s.sendTo(protocol.RoleDriver, driverID, protocol.NewRideRequestCancelled(requestID, ReasonTaken))
		observability.ClaimsTotal.WithLabelValues("late").Inc()
		return models.Ride{}, ErrAlreadyClaimed
	}
	req.status = statusProcessing
	req.claimant = driverID
	notified := req.notified
	riderID := req.riderID
	nr := storage.NewRide{
		RiderID:  riderID,
		DriverID: driverID,
		Pickup:   req.pickup,
		Dropoff:  req.dropoff,
	}
	req.mu.Unlock()

	// optimistic cancellation: losers learn immediately, not after the
	// durable write; a later rollback does not un-send these
	cancel := protocol.NewRideRequestCancelled(requestID, ReasonTaken)
	for _, d := range notified {
		if d == driverID {
			continue
		}
		s.sendTo(protocol.RoleDriver, d, cancel)
	}

	res, err := s.store.CreateRideIfAbsent(ctx, nr, s.cfg.DedupeWindow)
	if err != nil {
		s.rollback(req, driverID)
		return models.Ride{}, fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}

	if res.Created || res.OwnerDriverID == driverID {
		req.mu.Lock()
		req.status = statusAccepted
		req.winner = driverID
		req.ride = res.Ride
		req.mu.Unlock()

		observability.ClaimsTotal.WithLabelValues("won").Inc()
		s.logger.Info("ride accepted", "request", requestID, "driver", driverID, "ride", res.Ride.ID)
		s.sendTo(protocol.RoleDriver, driverID, protocol.NewRideAcceptedConfirmation(requestID, res.Ride))
		s.sendTo(protocol.RoleRider, riderID, protocol.NewRideAccepted(requestID, res.Ride))

		// linger briefly so duplicate accepts still resolve locally
		time.AfterFunc(s.cfg.Retention, func() { s.remove(requestID) })
		return res.Ride, nil
	}

	// another process instance won at the store. The local winner field
	// stays unset: the winning instance holds the authoritative record.
	req.mu.Lock()
	req.status = statusAccepted
	req.mu.Unlock()
	observability.ClaimsTotal.WithLabelValues("lost").Inc()
	s.logger.Info("claim lost at backing store", "request", requestID, "driver", driverID, "owner", res.OwnerDriverID)
	s.sendTo(protocol.RoleDriver, driverID, protocol.NewRideRequestCancelled(requestID, ReasonTaken))
	time.AfterFunc(s.cfg.Retention, func() { s.remove(requestID) })
	return models.Ride{}, ErrAlreadyClaimed
}

// rollback returns a failed claim to pending so another driver may
// succeed, unless the interactive deadline already passed, in which
// case the request expires instead of resurrecting.
func (s *Service) rollback(req *request, driverID string) {
	req.mu.Lock()
	expired := req.deadlinePassed
	if expired {
		req.status = statusExpired
	} else {
		req.status = statusPending
	}
	req.claimant = ""
	id := req.id
	req.mu.Unlock()

	if expired {
		s.remove(id)
		observability.ExpiriesTotal.Inc()
	}
	observability.ClaimsTotal.WithLabelValues("rolled_back").Inc()
	s.logger.Warn("ride creation failed, claim rolled back", "request", id, "driver", driverID)
	s.sendTo(protocol.RoleDriver, driverID, protocol.NewRideRequestCancelled(id, ReasonRetryCreate))
}
