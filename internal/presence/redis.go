package presence

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/1Bouye/Ride-sub000/internal/models"
	"github.com/1Bouye/Ride-sub000/internal/observability"
)

// Redis implements Registry on Redis GEO commands so multiple service
// instances can share one presence view. Position lives in a geo set,
// freshness in a per-driver hash.
type Redis struct {
	client *redis.Client
	key    string
	grace  time.Duration
	ctx    context.Context
}

func NewRedis(addr, password, key string, grace time.Duration) *Redis {
	if grace <= 0 {
		grace = DefaultGrace
	}
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &Redis{client: c, key: key, grace: grace, ctx: context.Background()}
}

// NewRedisWithClient is used by the ingest consumer which owns its client.
func NewRedisWithClient(c *redis.Client, key string, grace time.Duration) *Redis {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Redis{client: c, key: key, grace: grace, ctx: context.Background()}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Upsert(driverID string, lat, lon float64, now time.Time) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: lon, Latitude: lat, Name: driverID}).Result()
	_ = r.client.HSet(r.ctx, metaKey(driverID), map[string]interface{}{
		"fresh":   "true",
		"updated": now.Format(time.RFC3339Nano),
	}).Err()
	_ = r.client.HDel(r.ctx, metaKey(driverID), "disconnected").Err()
}

func (r *Redis) MarkStale(driverID string, now time.Time) {
	stamp := strconv.FormatInt(now.UnixNano(), 10)
	_ = r.client.HSet(r.ctx, metaKey(driverID), map[string]interface{}{
		"fresh":        "false",
		"disconnected": stamp,
	}).Err()

	time.AfterFunc(r.grace, func() { r.evictIfStale(driverID, stamp) })
}

func (r *Redis) evictIfStale(driverID, stamp string) {
	m, err := r.client.HGetAll(r.ctx, metaKey(driverID)).Result()
	if err != nil || len(m) == 0 {
		return
	}
	if m["fresh"] != "false" || m["disconnected"] != stamp {
		return
	}
	_ = r.client.ZRem(r.ctx, r.key, driverID).Err()
	_ = r.client.Del(r.ctx, metaKey(driverID)).Err()
	observability.PresenceEvictions.Inc()
}

func (r *Redis) FindWithin(center models.Coord, radiusMeters float64) []models.DriverPresence {
	res, err := r.client.GeoRadius(r.ctx, r.key, center.Lon, center.Lat, &redis.GeoRadiusQuery{
		Radius: radiusMeters, Unit: "m", WithCoord: true, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.DriverPresence, 0, len(res))
	for _, g := range res {
		d := models.DriverPresence{DriverID: g.Name, Loc: models.Coord{Lat: g.Latitude, Lon: g.Longitude}}
		if m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result(); err == nil {
			d.Fresh = m["fresh"] == "true"
			if v, ok := m["updated"]; ok {
				if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
					d.UpdatedAt = t
				}
			}
			if v, ok := m["disconnected"]; ok {
				if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
					d.DisconnectedAt = time.Unix(0, ns)
				}
			}
		}
		out = append(out, d)
	}
	return out
}

func metaKey(id string) string { return "driver:presence:" + id }
