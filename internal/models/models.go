package models

import "time"

type Coord struct {
    Lat float64 `json:"lat"`
    Lon float64 `json:"lon"`
}

// DriverPresence is the live view of one driver: last reported position
// plus freshness. A driver that drops its connection stays matchable
// (Fresh=false) until the grace period runs out or it reconnects.
type DriverPresence struct {
    DriverID       string    `json:"id"`
    Loc            Coord     `json:"loc"`
    UpdatedAt      time.Time `json:"last_update"`
    Fresh          bool      `json:"fresh"`
    DisconnectedAt time.Time `json:"disconnected_at,omitempty"`
}

// DriverLocation is the shape published to the location ingest topic.
type DriverLocation struct {
    DriverID string    `json:"driver_id"`
    Loc      Coord     `json:"loc"`
    SentAt   time.Time `json:"sent_at"`
}

// Ride is the durable record owned by the backing store. The dispatch
// core reads it back from CreateRideIfAbsent; it never owns it.
type Ride struct {
    ID        string    `json:"id"`
    RiderID   string    `json:"rider_id"`
    DriverID  string    `json:"driver_id"`
    Pickup    Coord     `json:"pickup"`
    Dropoff   Coord     `json:"dropoff"`
    Status    string    `json:"status"` // accepted, ongoing, completed, canceled
    Charge    float64   `json:"charge"`
    CreatedAt time.Time `json:"created_at"`
}
