package storage

import (
	"context"
	"testing"
	"time"

	"github.com/1Bouye/Ride-sub000/internal/models"
)

func TestMemoryStoreCreatesOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	nr := NewRide{RiderID: "r1", DriverID: "d1", Pickup: models.Coord{Lat: 1, Lon: 1}}

	first, err := s.CreateRideIfAbsent(ctx, nr, time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !first.Created {
		t.Fatal("expected creation on empty store")
	}

	nr.DriverID = "d2"
	second, err := s.CreateRideIfAbsent(ctx, nr, time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if second.Created {
		t.Fatal("expected dedupe within window")
	}
	if second.Ride.ID != first.Ride.ID || second.OwnerDriverID != "d1" {
		t.Fatalf("expected the d1 ride back, got %+v", second)
	}
}

func TestMemoryStoreWindowExpires(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	nr := NewRide{RiderID: "r1", DriverID: "d1"}

	if _, err := s.CreateRideIfAbsent(ctx, nr, 10*time.Millisecond); err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	res, err := s.CreateRideIfAbsent(ctx, nr, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !res.Created {
		t.Fatal("expected a new ride once the window passed")
	}
}
