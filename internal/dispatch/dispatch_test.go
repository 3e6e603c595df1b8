package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/1Bouye/Ride-sub000/internal/models"
	"github.com/1Bouye/Ride-sub000/internal/presence"
	"github.com/1Bouye/Ride-sub000/internal/protocol"
	"github.com/1Bouye/Ride-sub000/internal/storage"
)

type fakeSender struct {
	mu   sync.Mutex
	msgs []any
}

func (f *fakeSender) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, v)
	return nil
}

func (f *fakeSender) confirmations() []protocol.RideAcceptedConfirmation {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.RideAcceptedConfirmation
	for _, m := range f.msgs {
		if c, ok := m.(protocol.RideAcceptedConfirmation); ok {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeSender) cancellations() []protocol.RideRequestCancelled {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.RideRequestCancelled
	for _, m := range f.msgs {
		if c, ok := m.(protocol.RideRequestCancelled); ok {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeSender) offers() []protocol.RideRequestOffer {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.RideRequestOffer
	for _, m := range f.msgs {
		if o, ok := m.(protocol.RideRequestOffer); ok {
			out = append(out, o)
		}
	}
	return out
}

type fakeSessions struct {
	mu sync.Mutex
	m  map[string]*fakeSender
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{m: make(map[string]*fakeSender)}
}

func (f *fakeSessions) add(role, subject string) *fakeSender {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSender{}
	f.m[role+"/"+subject] = s
	return s
}

func (f *fakeSessions) Sender(role, subjectID string) (Sender, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.m[role+"/"+subjectID]
	return s, ok
}

// flakyStore fails the first n creates, then delegates to a memory store.
type flakyStore struct {
	mu    sync.Mutex
	fails int
	inner *storage.MemoryStore
}

func (s *flakyStore) CreateRideIfAbsent(ctx context.Context, nr storage.NewRide, window time.Duration) (storage.CreateResult, error) {
	s.mu.Lock()
	if s.fails > 0 {
		s.fails--
		s.mu.Unlock()
		return storage.CreateResult{}, errors.New("store unavailable")
	}
	s.mu.Unlock()
	return s.inner.CreateRideIfAbsent(ctx, nr, window)
}

// foreignStore reports the ride as already owned by another driver, as
// a second service instance's claim path would have left it.
type foreignStore struct{ owner string }

func (s *foreignStore) CreateRideIfAbsent(ctx context.Context, nr storage.NewRide, window time.Duration) (storage.CreateResult, error) {
	return storage.CreateResult{
		Created:       false,
		Ride:          models.Ride{ID: "foreign", RiderID: nr.RiderID, DriverID: s.owner, Status: "accepted"},
		OwnerDriverID: s.owner,
	}, nil
}

func newTestService(cfg Config, sessions *fakeSessions, store storage.RideStore) (*Service, *presence.Memory) {
	reg := presence.NewMemory(time.Hour)
	return NewService(cfg, reg, sessions, store, nil), reg
}

func submitOne(s *Service, reg *presence.Memory, sessions *fakeSessions, drivers ...string) (string, map[string]*fakeSender) {
	now := time.Now()
	senders := make(map[string]*fakeSender, len(drivers))
	for _, d := range drivers {
		reg.Upsert(d, 0, 0, now)
		senders[d] = sessions.add(protocol.RoleDriver, d)
	}
	id, _ := s.Submit("rider1", models.Coord{}, models.Coord{Lat: 0.1, Lon: 0.1}, 1200, "")
	return id, senders
}

func TestBroadcastFanOut(t *testing.T) {
	sessions := newFakeSessions()
	s, reg := newTestService(DefaultConfig(), sessions, storage.NewMemoryStore())
	now := time.Now()

	near := sessions.add(protocol.RoleDriver, "near")
	far := sessions.add(protocol.RoleDriver, "far")
	reg.Upsert("near", 0, 0, now)
	reg.Upsert("far", 10, 10, now) // well outside 5km
	reg.Upsert("no-session", 0, 0.001, now)

	id, matches := s.Submit("rider1", models.Coord{}, models.Coord{Lat: 0.1, Lon: 0.1}, 1200, "")
	if id == "" {
		t.Fatal("expected a request id")
	}
	if len(matches) != 2 {
		t.Fatalf("expected near + no-session matched, got %d", len(matches))
	}
	if len(near.offers()) != 1 {
		t.Fatalf("near driver should get the offer, got %d", len(near.offers()))
	}
	if len(far.offers()) != 0 {
		t.Fatal("far driver must not be offered")
	}
	req, ok := s.get(id)
	if !ok {
		t.Fatal("request not stored")
	}
	if len(req.notified) != 1 || req.notified[0] != "near" {
		t.Fatalf("notified set should be exactly [near], got %v", req.notified)
	}
}

func TestBroadcastZeroMatches(t *testing.T) {
	sessions := newFakeSessions()
	s, _ := newTestService(DefaultConfig(), sessions, storage.NewMemoryStore())

	id, matches := s.Submit("rider1", models.Coord{Lat: 50, Lon: 50}, models.Coord{}, 0, "")
	if id == "" {
		t.Fatal("zero matches is not an error")
	}
	if len(matches) != 0 {
		t.Fatalf("expected no matches, got %d", len(matches))
	}
}

func TestExactlyOnceWinner(t *testing.T) {
	sessions := newFakeSessions()
	rider := sessions.add(protocol.RoleRider, "rider1")
	s, reg := newTestService(DefaultConfig(), sessions, storage.NewMemoryStore())

	drivers := []string{"d0", "d1", "d2", "d3", "d4", "d5", "d6", "d7"}
	id, senders := submitOne(s, reg, sessions, drivers...)

	var wg sync.WaitGroup
	errs := make(chan error, len(drivers))
	for _, d := range drivers {
		wg.Add(1)
		go func(did string) {
			defer wg.Done()
			_, err := s.Accept(context.Background(), id, did)
			errs <- err
		}(d)
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		if !errors.Is(err, ErrAlreadyClaimed) && !errors.Is(err, ErrRequestNotFound) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winning claim, got %d", wins)
	}

	confirmed := 0
	for d, snd := range senders {
		c := snd.confirmations()
		confirmed += len(c)
		if len(c) == 0 && len(snd.cancellations()) == 0 {
			t.Fatalf("driver %s heard nothing back", d)
		}
	}
	if confirmed != 1 {
		t.Fatalf("expected exactly 1 rideAcceptedConfirmation, got %d", confirmed)
	}
	if got := len(rider.msgs); got == 0 {
		t.Fatal("rider never told the ride was accepted")
	}
}

func TestIdempotentRetrySameDriver(t *testing.T) {
	sessions := newFakeSessions()
	sessions.add(protocol.RoleRider, "rider1")
	s, reg := newTestService(DefaultConfig(), sessions, storage.NewMemoryStore())
	id, _ := submitOne(s, reg, sessions, "d1")

	first, err := s.Accept(context.Background(), id, "d1")
	if err != nil {
		t.Fatalf("first accept: %v", err)
	}
	second, err := s.Accept(context.Background(), id, "d1")
	if err != nil {
		t.Fatalf("retry accept: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("retry must return the same durable ride, got %s then %s", first.ID, second.ID)
	}
}

func TestLoserGetsCancelledPromptly(t *testing.T) {
	sessions := newFakeSessions()
	sessions.add(protocol.RoleRider, "rider1")
	s, reg := newTestService(DefaultConfig(), sessions, storage.NewMemoryStore())
	id, senders := submitOne(s, reg, sessions, "d1", "d2")

	if _, err := s.Accept(context.Background(), id, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	cancels := senders["d2"].cancellations()
	if len(cancels) == 0 {
		t.Fatal("other notified driver must be cancelled")
	}
	if cancels[0].Reason != ReasonTaken {
		t.Fatalf("expected reason %q, got %q", ReasonTaken, cancels[0].Reason)
	}

	// a late claim after resolution is rejected, not fatal
	if _, err := s.Accept(context.Background(), id, "d2"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed for the late claim, got %v", err)
	}
}

func TestRollbackAllowsReclaim(t *testing.T) {
	sessions := newFakeSessions()
	sessions.add(protocol.RoleRider, "rider1")
	store := &flakyStore{fails: 1, inner: storage.NewMemoryStore()}
	s, reg := newTestService(DefaultConfig(), sessions, store)
	id, senders := submitOne(s, reg, sessions, "d1", "d2")

	_, err := s.Accept(context.Background(), id, "d1")
	if !errors.Is(err, ErrCreateFailed) {
		t.Fatalf("expected ErrCreateFailed, got %v", err)
	}
	cancels := senders["d1"].cancellations()
	if len(cancels) == 0 || cancels[len(cancels)-1].Reason != ReasonRetryCreate {
		t.Fatalf("claimant must get a retryable cancellation, got %v", cancels)
	}

	req, ok := s.get(id)
	if !ok {
		t.Fatal("request must survive the rollback")
	}
	req.mu.Lock()
	st, claimant := req.status, req.claimant
	req.mu.Unlock()
	if st != statusPending || claimant != "" {
		t.Fatalf("expected pending with no claimant after rollback, got %v %q", st, claimant)
	}

	if _, err := s.Accept(context.Background(), id, "d2"); err != nil {
		t.Fatalf("another driver must be able to claim after rollback: %v", err)
	}
}

func TestLossToOtherInstanceOwner(t *testing.T) {
	sessions := newFakeSessions()
	sessions.add(protocol.RoleRider, "rider1")
	s, reg := newTestService(DefaultConfig(), sessions,
		&foreignStore{owner: "remote-driver"})
	id, senders := submitOne(s, reg, sessions, "d1")

	_, err := s.Accept(context.Background(), id, "d1")
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed when the store names another owner, got %v", err)
	}
	if len(senders["d1"].cancellations()) == 0 {
		t.Fatal("claimant must be told it lost")
	}
	req, ok := s.get(id)
	if !ok {
		t.Fatal("request retained briefly after resolution")
	}
	req.mu.Lock()
	st, winner := req.status, req.winner
	req.mu.Unlock()
	if st != statusAccepted || winner != "" {
		t.Fatalf("expected accepted with no local winner, got %v %q", st, winner)
	}
}

func TestExpiryUnclaimed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AcceptTimeout = 30 * time.Millisecond
	sessions := newFakeSessions()
	rider := sessions.add(protocol.RoleRider, "rider1")
	s, reg := newTestService(cfg, sessions, storage.NewMemoryStore())
	id, senders := submitOne(s, reg, sessions, "d1")

	time.Sleep(80 * time.Millisecond)

	if _, ok := s.get(id); ok {
		t.Fatal("expired request must be removed")
	}
	cancels := senders["d1"].cancellations()
	if len(cancels) == 0 || cancels[0].Reason != ReasonExpired {
		t.Fatalf("notified driver must learn the opportunity closed, got %v", cancels)
	}
	if len(rider.cancellations()) == 0 {
		t.Fatal("rider must learn the request expired")
	}

	if _, err := s.Accept(context.Background(), id, "d1"); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("claims against an expired request are rejected, got %v", err)
	}
}

func TestExpiryDoesNotTouchAcceptedRequests(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AcceptTimeout = 40 * time.Millisecond
	sessions := newFakeSessions()
	sessions.add(protocol.RoleRider, "rider1")
	s, reg := newTestService(cfg, sessions, storage.NewMemoryStore())
	id, senders := submitOne(s, reg, sessions, "d1")

	if _, err := s.Accept(context.Background(), id, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	time.Sleep(80 * time.Millisecond)

	// the timer fired after acceptance: no expiry notice may reach the winner
	for _, c := range senders["d1"].cancellations() {
		if c.Reason == ReasonExpired {
			t.Fatal("accepted request must not expire")
		}
	}
}
