package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/1Bouye/Ride-sub000/internal/models"
)

// PostgresStore is the production backing store. The create-if-absent
// path takes a per-rider advisory lock for the transaction, so two
// service instances racing on the same rider serialize here and only
// one insert can happen inside the dedupe window.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresStore) CreateRideIfAbsent(ctx context.Context, nr NewRide, window time.Duration) (CreateResult, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return CreateResult{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, nr.RiderID); err != nil {
		return CreateResult{}, err
	}

	cutoff := time.Now().Add(-window)
	var r models.Ride
	err = tx.QueryRowContext(ctx,
		`SELECT id, rider_id, driver_id, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, status, charge, created_at
		   FROM rides WHERE rider_id=$1 AND created_at > $2
		  ORDER BY created_at DESC LIMIT 1`,
		nr.RiderID, cutoff,
	).Scan(&r.ID, &r.RiderID, &r.DriverID, &r.Pickup.Lat, &r.Pickup.Lon, &r.Dropoff.Lat, &r.Dropoff.Lon, &r.Status, &r.Charge, &r.CreatedAt)
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return CreateResult{}, err
		}
		return CreateResult{Created: false, Ride: r, OwnerDriverID: r.DriverID}, nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through to insert
	default:
		return CreateResult{}, err
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
	_, err = tx.ExecContext(ctx,
		`INSERT INTO rides(id, rider_id, driver_id, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, status, charge, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		ride.ID, ride.RiderID, ride.DriverID, ride.Pickup.Lat, ride.Pickup.Lon, ride.Dropoff.Lat, ride.Dropoff.Lon, ride.Status, ride.Charge, ride.CreatedAt)
	if err != nil {
		return CreateResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return CreateResult{}, err
	}
	return CreateResult{Created: true, Ride: ride, OwnerDriverID: ride.DriverID}, nil
}
