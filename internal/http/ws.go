package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1Bouye/Ride-sub000/internal/models"
	"github.com/1Bouye/Ride-sub000/internal/observability"
	"github.com/1Bouye/Ride-sub000/internal/protocol"
	"github.com/1Bouye/Ride-sub000/internal/storage"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn serializes writes to one gorilla connection; the library
// allows a single concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error { return c.conn.Close() }

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	conn := &wsConn{conn: raw}
	connID := storage.NewID()
	observability.Connections.Inc()
	defer observability.Connections.Dec()
	defer conn.Close()

	_ = conn.WriteJSON(protocol.NewConnected())
	s.logger.Info("ws connected", "conn", connID, "remote", r.RemoteAddr)

	defer s.disconnect(connID)

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			s.logger.Info("ws closed", "conn", connID, "error", err)
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			// protocol errors never kill the connection
			s.logger.Warn("dropping unroutable message", "conn", connID, "error", err)
			continue
		}
		s.route(connID, conn, msg)
	}
}

// route handles one decoded message. The switch is exhaustive over the
// closed inbound union.
func (s *Server) route(connID string, conn *wsConn, msg protocol.Inbound) {
	switch m := msg.(type) {
	case protocol.Identify:
		s.Sessions.Identify(connID, m.Role, m.SubjectID(), conn)
		s.logger.Info("identified", "conn", connID, "role", m.Role, "subject", m.SubjectID())

	case protocol.LocationUpdate:
		now := time.Now()
		s.Sessions.Identify(connID, protocol.RoleDriver, m.DriverID, conn)
		s.Presence.Upsert(m.DriverID, m.Data.Latitude, m.Data.Longitude, now)
		if s.Kafka != nil {
			if err := s.Kafka.PublishPresence(models.DriverLocation{
				DriverID: m.DriverID,
				Loc:      models.Coord{Lat: m.Data.Latitude, Lon: m.Data.Longitude},
				SentAt:   now,
			}); err != nil {
				s.logger.Warn("presence publish failed", "driver", m.DriverID, "error", err)
			}
		}

	case protocol.RequestRide:
		riderID := m.UserID
		if riderID == "" {
			if sess, ok := s.Sessions.ForConn(connID); ok {
				riderID = sess.SubjectID
			}
		}
		if riderID == "" {
			s.logger.Warn("requestRide with no rider identity", "conn", connID)
			return
		}
		s.Sessions.Identify(connID, protocol.RoleRider, riderID, conn)
		pickup := models.Coord{Lat: m.Latitude, Lon: m.Longitude}
		dropoff := models.Coord{Lat: m.Destination.Latitude, Lon: m.Destination.Longitude}
		_, matches := s.Dispatch.Submit(riderID, pickup, dropoff, m.Distance, m.Vehicle)
		if err := conn.WriteJSON(protocol.NewNearbyDrivers(matches)); err != nil {
			s.logger.Warn("nearbyDrivers reply failed", "conn", connID, "error", err)
		}

	case protocol.DriverAccept:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.Dispatch.Accept(ctx, m.RequestID, m.DriverID); err != nil {
			// contention losses are expected outcomes, already answered
			// with a typed cancellation by the coordinator
			s.logger.Info("accept not granted", "request", m.RequestID, "driver", m.DriverID, "error", err)
		}

	case protocol.NotifyDriver:
		// out-of-band ping, outside the atomic protocol; best effort
		if sess, ok := s.Sessions.For(protocol.RoleDriver, m.DriverID); ok {
			_ = sess.Send(map[string]any{"type": protocol.TypeNotifyDriver, "payload": json.RawMessage(m.Payload)})
		}
	}
}

func (s *Server) disconnect(connID string) {
	sess, ok := s.Sessions.Remove(connID)
	if !ok {
		return
	}
	if sess.Role == protocol.RoleDriver {
		s.Presence.MarkStale(sess.SubjectID, time.Now())
		s.logger.Info("driver presence marked stale", "driver", sess.SubjectID)
	}
}
