// README: Ride service: publishing, proximity search and completion.
package ride

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"carshare/internal/types"
)

const (
	DefaultRadiusKm = 10.0
	MaxRadiusKm     = 100.0
	defaultLimit    = 20
	maxLimit        = 100
)

type Repository interface {
	Create(ctx context.Context, r *Ride) error
	Get(ctx context.Context, id types.ID) (*Ride, error)
	ListByIDs(ctx context.Context, ids []types.ID) ([]Ride, error)
	ListOpenWithin(ctx context.Context, b bounds, after time.Time, limit int) ([]Ride, error)
	ListByDriver(ctx context.Context, driverID types.ID, limit int) ([]Ride, error)
	MarkCompleted(ctx context.Context, id types.ID, at time.Time) (bool, error)
}

// GeoIndex is an optional proximity index; *RedisGeoIndex satisfies it.
type GeoIndex interface {
	Add(ctx context.Context, r *Ride) error
	Remove(ctx context.Context, id types.ID) error
	Search(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]GeoHit, error)
}

// Places resolves addresses; *maps.Client satisfies it.
type Places interface {
	Geocode(ctx context.Context, address string) (types.Point, string, error)
	TravelEstimate(ctx context.Context, origin, destination types.Point) (time.Duration, error)
}

type Service struct {
	repo   Repository
	index  GeoIndex
	places Places
	now    func() time.Time
}

// NewService wires the ride service. index and places may be nil.
func NewService(repo Repository, index GeoIndex, places Places) *Service {
	return &Service{repo: repo, index: index, places: places, now: time.Now}
}

type CreateCommand struct {
	DriverID     types.ID
	Origin       Place
	Destination  Place
	DepartureAt  time.Time
	Seats        int
	PricePerSeat types.Money
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Ride, error) {
	now := s.now().UTC()
	if cmd.DriverID == "" {
		return nil, ErrBadRequest
	}
	if cmd.Seats < 1 || cmd.Seats > MaxSeats {
		return nil, fmt.Errorf("%w: seats must be between 1 and %d", ErrBadRequest, MaxSeats)
	}
	if cmd.PricePerSeat.Amount <= 0 {
		return nil, fmt.Errorf("%w: price per seat must be positive", ErrBadRequest)
	}
	if !cmd.DepartureAt.After(now) {
		return nil, fmt.Errorf("%w: departure must be in the future", ErrBadRequest)
	}
	if cmd.PricePerSeat.Currency == "" {
		cmd.PricePerSeat.Currency = types.DefaultCurrency
	}

	origin, err := s.resolve(ctx, cmd.Origin)
	if err != nil {
		return nil, err
	}
	destination, err := s.resolve(ctx, cmd.Destination)
	if err != nil {
		return nil, err
	}

	r := &Ride{
		ID:             types.NewID(),
		DriverID:       cmd.DriverID,
		Origin:         origin,
		Destination:    destination,
		DepartureAt:    cmd.DepartureAt.UTC(),
		SeatsTotal:     cmd.Seats,
		SeatsAvailable: cmd.Seats,
		PricePerSeat:   cmd.PricePerSeat,
		Status:         StatusScheduled,
		CreatedAt:      now,
	}
	if s.places != nil {
		if d, err := s.places.TravelEstimate(ctx, origin.Point, destination.Point); err != nil {
			log.Printf("[ride] travel estimate unavailable: %v", err)
		} else {
			r.Duration = d
		}
	}

	if err := s.repo.Create(ctx, r); err != nil {
		return nil, err
	}
	if s.index != nil {
		if err := s.index.Add(ctx, r); err != nil {
			log.Printf("[ride] geo index add failed ride=%s: %v", r.ID, err)
		}
	}
	log.Printf("[ride] created ride=%s driver=%s seats=%d departure=%s", r.ID, r.DriverID, r.SeatsTotal, r.DepartureAt.Format(time.RFC3339))
	return r, nil
}

func (s *Service) resolve(ctx context.Context, p Place) (Place, error) {
	p.Label = strings.TrimSpace(p.Label)
	if p.Point != (types.Point{}) {
		if !validPoint(p.Point) {
			return p, fmt.Errorf("%w: coordinates out of range", ErrBadRequest)
		}
		return p, nil
	}
	if p.Label == "" {
		return p, fmt.Errorf("%w: address or coordinates required", ErrBadRequest)
	}
	if s.places == nil {
		return p, fmt.Errorf("%w: coordinates required", ErrBadRequest)
	}
	pt, formatted, err := s.places.Geocode(ctx, p.Label)
	if err != nil {
		return p, fmt.Errorf("%w: geocode %q: %v", ErrBadRequest, p.Label, err)
	}
	p.Point = pt
	if formatted != "" {
		p.Label = formatted
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Ride, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListByDriver(ctx context.Context, driverID types.ID) ([]Ride, error) {
	return s.repo.ListByDriver(ctx, driverID, maxLimit)
}

// Nearby lists bookable rides whose origin lies within radiusKm of p,
// nearest first. The redis index answers when present; the database
// bounding-box query is the fallback.
func (s *Service) Nearby(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]Nearby, error) {
	if !validPoint(p) {
		return nil, fmt.Errorf("%w: coordinates out of range", ErrBadRequest)
	}
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}
	radiusKm = min(radiusKm, MaxRadiusKm)
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}
	now := s.now().UTC()

	if s.index != nil {
		out, err := s.nearbyIndexed(ctx, p, radiusKm, limit, now)
		if err == nil {
			return out, nil
		}
		log.Printf("[ride] geo index search failed, falling back to db: %v", err)
	}

	rides, err := s.repo.ListOpenWithin(ctx, boundingBox(p.Lat, p.Lng, radiusKm), now, maxLimit)
	if err != nil {
		return nil, err
	}
	out := make([]Nearby, 0, len(rides))
	for _, r := range rides {
		d := haversineKm(p.Lat, p.Lng, r.Origin.Point.Lat, r.Origin.Point.Lng)
		if d <= radiusKm {
			out = append(out, Nearby{Ride: r, DistanceKm: d})
		}
	}
	sortByDistance(out, func(n Nearby) float64 { return n.DistanceKm })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Service) nearbyIndexed(ctx context.Context, p types.Point, radiusKm float64, limit int, now time.Time) ([]Nearby, error) {
	hits, err := s.index.Search(ctx, p, radiusKm, maxLimit)
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	rides, err := s.repo.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[types.ID]Ride, len(rides))
	for _, r := range rides {
		byID[r.ID] = r
	}

	out := make([]Nearby, 0, limit)
	for _, h := range hits {
		r, ok := byID[h.ID]
		if !ok || r.Status != StatusScheduled {
			continue
		}
		if r.SeatsAvailable <= 0 || r.Departed(now) {
			continue
		}
		out = append(out, Nearby{Ride: r, DistanceKm: h.DistanceKm})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Complete marks a scheduled ride completed. Only its driver may do so.
func (s *Service) Complete(ctx context.Context, id, driverID types.ID) (*Ride, error) {
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.DriverID != driverID {
		return nil, ErrForbidden
	}
	if r.Status != StatusScheduled {
		return nil, ErrNotActive
	}
	now := s.now().UTC()
	ok, err := s.repo.MarkCompleted(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotActive
	}
	if s.index != nil {
		if err := s.index.Remove(ctx, id); err != nil {
			log.Printf("[ride] geo index remove failed ride=%s: %v", id, err)
		}
	}
	r.Status = StatusCompleted
	r.CompletedAt = &now
	return r, nil
}

func validPoint(p types.Point) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}
