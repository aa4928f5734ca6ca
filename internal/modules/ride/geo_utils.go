package ride

import "math"

const earthRadiusKm = 6371.0

// haversineKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(degreesToRadians(lat1))*math.Cos(degreesToRadians(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// bounds is a lat/lng rectangle enclosing a search circle; SQL narrows with it
// before the exact distance filter.
type bounds struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

func boundingBox(lat, lng, radiusKm float64) bounds {
	dLat := radiusKm / earthRadiusKm * 180 / math.Pi
	cos := math.Cos(degreesToRadians(lat))
	dLng := 180.0
	if cos > 1e-9 {
		dLng = math.Min(180, dLat/cos)
	}
	return bounds{
		MinLat: math.Max(-90, lat-dLat),
		MaxLat: math.Min(90, lat+dLat),
		MinLng: lng - dLng,
		MaxLng: lng + dLng,
	}
}

// sortByDistance is an insertion sort; result sets are small.
func sortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
