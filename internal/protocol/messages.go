// Package protocol defines the JSON message envelope spoken over the
// persistent client connection. Inbound messages form a closed union:
// Decode returns one of the concrete types below and routing code
// switches over them, so an unhandled kind is a compile-time hole
// rather than a silently ignored string.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/1Bouye/Ride-sub000/internal/models"
)

const (
	TypeIdentify       = "identify"
	TypeLocationUpdate = "locationUpdate"
	TypeRequestRide    = "requestRide"
	TypeDriverAccept   = "driverAccept"
	TypeNotifyDriver   = "notifyDriver"

	TypeConnected                = "connected"
	TypeNearbyDrivers            = "nearbyDrivers"
	TypeRideRequest              = "rideRequest"
	TypeRideAccepted             = "rideAccepted"
	TypeRideAcceptedConfirmation = "rideAcceptedConfirmation"
	TypeRideRequestCancelled     = "rideRequestCancelled"
)

const (
	RoleDriver = "driver"
	RoleRider  = "rider"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrBadPayload  = errors.New("malformed message payload")
)

// Inbound is implemented by every client→server message kind.
type Inbound interface{ inbound() }

type Identify struct {
	Role     string `json:"role"`
	DriverID string `json:"driverId,omitempty"`
	UserID   string `json:"userId,omitempty"`
}

func (Identify) inbound() {}

// SubjectID returns the stable identifier for the declared role.
func (m Identify) SubjectID() string {
	if m.Role == RoleDriver {
		return m.DriverID
	}
	return m.UserID
}

type LocationUpdate struct {
	DriverID string `json:"driver"`
	Data     struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"data"`
}

func (LocationUpdate) inbound() {}

type RequestRide struct {
	UserID      string  `json:"userId"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Destination struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"destination"`
	Distance float64 `json:"distance"`
	Vehicle  string  `json:"vehicle,omitempty"`
}

func (RequestRide) inbound() {}

type DriverAccept struct {
	RequestID string          `json:"requestId"`
	DriverID  string          `json:"driverId"`
	UserID    string          `json:"userId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func (DriverAccept) inbound() {}

type NotifyDriver struct {
	DriverID string          `json:"driverId"`
	Payload  json.RawMessage `json:"payload"`
}

func (NotifyDriver) inbound() {}

// Decode parses one raw frame into its concrete inbound type. Validation
// is limited to the fields routing depends on; everything else is the
// handler's business.
func Decode(raw []byte) (Inbound, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	switch env.Type {
	case TypeIdentify:
		var m Identify
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: identify: %v", ErrBadPayload, err)
		}
		if m.Role != RoleDriver && m.Role != RoleRider {
			return nil, fmt.Errorf("%w: identify: role %q", ErrBadPayload, m.Role)
		}
		if m.SubjectID() == "" {
			return nil, fmt.Errorf("%w: identify: missing subject id", ErrBadPayload)
		}
		return m, nil
	case TypeLocationUpdate:
		var m LocationUpdate
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: locationUpdate: %v", ErrBadPayload, err)
		}
		if m.DriverID == "" {
			return nil, fmt.Errorf("%w: locationUpdate: missing driver", ErrBadPayload)
		}
		return m, nil
	case TypeRequestRide:
		var m RequestRide
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: requestRide: %v", ErrBadPayload, err)
		}
		return m, nil
	case TypeDriverAccept:
		var m DriverAccept
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: driverAccept: %v", ErrBadPayload, err)
		}
		if m.RequestID == "" || m.DriverID == "" {
			return nil, fmt.Errorf("%w: driverAccept: missing requestId or driverId", ErrBadPayload)
		}
		return m, nil
	case TypeNotifyDriver:
		var m NotifyDriver
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: notifyDriver: %v", ErrBadPayload, err)
		}
		if m.DriverID == "" {
			return nil, fmt.Errorf("%w: notifyDriver: missing driverId", ErrBadPayload)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// Outbound envelopes. Each constructor fixes the type tag so handlers
// can only emit well-formed frames.

type Connected struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewConnected() Connected {
	return Connected{Type: TypeConnected, Message: "connected to dispatch"}
}

type NearbyDriver struct {
	ID         string  `json:"id"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	LastUpdate string  `json:"lastUpdate"`
}

type NearbyDrivers struct {
	Type    string         `json:"type"`
	Drivers []NearbyDriver `json:"drivers"`
}

func NewNearbyDrivers(present []models.DriverPresence) NearbyDrivers {
	out := NearbyDrivers{Type: TypeNearbyDrivers, Drivers: make([]NearbyDriver, 0, len(present))}
	for _, p := range present {
		out.Drivers = append(out.Drivers, NearbyDriver{
			ID:         p.DriverID,
			Latitude:   p.Loc.Lat,
			Longitude:  p.Loc.Lon,
			LastUpdate: p.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return out
}

type RideOfferPayload struct {
	RiderID  string       `json:"rider"`
	Pickup   models.Coord `json:"pickup"`
	Dropoff  models.Coord `json:"dropoff"`
	Distance float64      `json:"distance"`
	Vehicle  string       `json:"vehicle,omitempty"`
}

type RideRequestOffer struct {
	Type      string           `json:"type"`
	RequestID string           `json:"requestId"`
	Payload   RideOfferPayload `json:"payload"`
}

func NewRideRequestOffer(requestID string, p RideOfferPayload) RideRequestOffer {
	return RideRequestOffer{Type: TypeRideRequest, RequestID: requestID, Payload: p}
}

type RideAcceptedConfirmation struct {
	Type      string      `json:"type"`
	RequestID string      `json:"requestId"`
	Ride      models.Ride `json:"ride"`
}

func NewRideAcceptedConfirmation(requestID string, ride models.Ride) RideAcceptedConfirmation {
	return RideAcceptedConfirmation{Type: TypeRideAcceptedConfirmation, RequestID: requestID, Ride: ride}
}

type RideRequestCancelled struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Reason    string `json:"reason"`
}

func NewRideRequestCancelled(requestID, reason string) RideRequestCancelled {
	return RideRequestCancelled{Type: TypeRideRequestCancelled, RequestID: requestID, Reason: reason}
}

type RideAccepted struct {
	Type      string      `json:"type"`
	RequestID string      `json:"requestId"`
	Payload   models.Ride `json:"payload"`
}

func NewRideAccepted(requestID string, ride models.Ride) RideAccepted {
	return RideAccepted{Type: TypeRideAccepted, RequestID: requestID, Payload: ride}
}
