package forecast

import "context"

// GeoResolver resolves a free-text city name to coordinates.
// Failures are classified as *ResolveError (not found vs transient).
type GeoResolver interface {
	Resolve(ctx context.Context, city string) (Coordinates, error)
}

// Fetcher returns a forecast snapshot for the given coordinates.
// Failures are classified as *FetchError (network, decode, server).
type Fetcher interface {
	Fetch(ctx context.Context, coord Coordinates) (*WeatherSnapshot, error)
}
