// README: Ride handlers: publish, search nearby, detail.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"carshare/internal/modules/ride"
	"carshare/internal/types"
)

// RideService is satisfied by *ride.Service.
type RideService interface {
	Create(ctx context.Context, cmd ride.CreateCommand) (*ride.Ride, error)
	Get(ctx context.Context, id types.ID) (*ride.Ride, error)
	ListByDriver(ctx context.Context, driverID types.ID) ([]ride.Ride, error)
	Nearby(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]ride.Nearby, error)
}

type RideHandler struct {
	rides RideService
}

func NewRideHandler(svc RideService) *RideHandler {
	return &RideHandler{rides: svc}
}

type placeReq struct {
	Label string   `json:"label"`
	Lat   *float64 `json:"lat"`
	Lng   *float64 `json:"lng"`
}

func (p placeReq) place() ride.Place {
	out := ride.Place{Label: p.Label}
	if p.Lat != nil && p.Lng != nil {
		out.Point = types.Point{Lat: *p.Lat, Lng: *p.Lng}
	}
	return out
}

type createRideReq struct {
	Origin       placeReq  `json:"origin"`
	Destination  placeReq  `json:"destination"`
	DepartureAt  time.Time `json:"departure_at"`
	Seats        int       `json:"seats"`
	PricePerSeat float64   `json:"price_per_seat"`
}

type placeResp struct {
	Label string  `json:"label"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
}

type rideResp struct {
	ID              types.ID    `json:"id"`
	DriverID        types.ID    `json:"driver_id"`
	Origin          placeResp   `json:"origin"`
	Destination     placeResp   `json:"destination"`
	DepartureAt     time.Time   `json:"departure_at"`
	DurationMinutes int         `json:"duration_minutes,omitempty"`
	SeatsTotal      int         `json:"seats_total"`
	SeatsAvailable  int         `json:"seats_available"`
	PricePerSeat    float64     `json:"price_per_seat"`
	Currency        string      `json:"currency"`
	Status          ride.Status `json:"status"`
	DistanceKm      *float64    `json:"distance_km,omitempty"`
}

func (h *RideHandler) Create(c *gin.Context) {
	var req createRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.PricePerSeat <= 0 {
		writeError(c, http.StatusBadRequest, "price_per_seat must be positive")
		return
	}
	r, err := h.rides.Create(c.Request.Context(), ride.CreateCommand{
		DriverID:     caller(c),
		Origin:       req.Origin.place(),
		Destination:  req.Destination.place(),
		DepartureAt:  req.DepartureAt,
		Seats:        req.Seats,
		PricePerSeat: types.FromMajor(req.PricePerSeat, types.DefaultCurrency),
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toRideResp(r, nil))
}

func (h *RideHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	r, err := h.rides.Get(c.Request.Context(), id)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toRideResp(r, nil))
}

func (h *RideHandler) ListMine(c *gin.Context) {
	list, err := h.rides.ListByDriver(c.Request.Context(), caller(c))
	if err != nil {
		writeBookingError(c, err)
		return
	}
	out := make([]rideResp, 0, len(list))
	for i := range list {
		out = append(out, toRideResp(&list[i], nil))
	}
	writeJSON(c, http.StatusOK, gin.H{"rides": out})
}

func (h *RideHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	radius := 0.0
	if v := c.Query("radius_km"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid radius_km")
			return
		}
		radius = r
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	list, err := h.rides.Nearby(c.Request.Context(), types.Point{Lat: lat, Lng: lng}, radius, limit)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	out := make([]rideResp, 0, len(list))
	for i := range list {
		d := list[i].DistanceKm
		out = append(out, toRideResp(&list[i].Ride, &d))
	}
	writeJSON(c, http.StatusOK, gin.H{"rides": out})
}

func toRideResp(r *ride.Ride, distanceKm *float64) rideResp {
	return rideResp{
		ID:              r.ID,
		DriverID:        r.DriverID,
		Origin:          placeResp{Label: r.Origin.Label, Lat: r.Origin.Point.Lat, Lng: r.Origin.Point.Lng},
		Destination:     placeResp{Label: r.Destination.Label, Lat: r.Destination.Point.Lat, Lng: r.Destination.Point.Lng},
		DepartureAt:     r.DepartureAt,
		DurationMinutes: int(r.Duration / time.Minute),
		SeatsTotal:      r.SeatsTotal,
		SeatsAvailable:  r.SeatsAvailable,
		PricePerSeat:    r.PricePerSeat.Major(),
		Currency:        r.PricePerSeat.Currency,
		Status:          r.Status,
		DistanceKm:      distanceKm,
	}
}
