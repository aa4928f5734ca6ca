// README: Redis GEO index of scheduled ride origins for proximity search.
package ride

import (
	"context"

	"github.com/redis/go-redis/v9"

	"carshare/internal/types"
)

const rideGeoKey = "rides:origins"

type GeoHit struct {
	ID         types.ID
	DistanceKm float64
}

type RedisGeoIndex struct {
	redis *redis.Client
}

func NewRedisGeoIndex(client *redis.Client) *RedisGeoIndex {
	return &RedisGeoIndex{redis: client}
}

func (g *RedisGeoIndex) Add(ctx context.Context, r *Ride) error {
	return g.redis.GeoAdd(ctx, rideGeoKey, &redis.GeoLocation{
		Name:      string(r.ID),
		Longitude: r.Origin.Point.Lng,
		Latitude:  r.Origin.Point.Lat,
	}).Err()
}

func (g *RedisGeoIndex) Remove(ctx context.Context, id types.ID) error {
	return g.redis.ZRem(ctx, rideGeoKey, string(id)).Err()
}

// Search returns ride ids within radiusKm of p, nearest first.
func (g *RedisGeoIndex) Search(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]GeoHit, error) {
	locs, err := g.redis.GeoSearchLocation(ctx, rideGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  p.Lng,
			Latitude:   p.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	hits := make([]GeoHit, len(locs))
	for i, l := range locs {
		hits[i] = GeoHit{ID: types.ID(l.Name), DistanceKm: l.Dist}
	}
	return hits, nil
}
