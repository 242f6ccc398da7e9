// Package forecast holds the weather domain types, the external ports the
// engine consumes, and the OpenWeather-backed implementations of those ports.
package forecast

import (
	"strings"
	"time"
)

// Coordinates is a (latitude, longitude) pair in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ForecastPoint is one 3-hourly forecast sample.
type ForecastPoint struct {
	Time          int64   `json:"time"` // unix seconds
	Temperature   float64 `json:"temperature"`
	TempMin       float64 `json:"temp_min"`
	TempMax       float64 `json:"temp_max"`
	FeelsLike     float64 `json:"feels_like"`
	Humidity      int     `json:"humidity"`
	Pressure      int     `json:"pressure"`
	WindSpeed     float64 `json:"wind_speed"`
	WindDeg       int     `json:"wind_deg"`
	WindGust      float64 `json:"wind_gust"`
	Visibility    int     `json:"visibility"` // meters
	ConditionCode int     `json:"condition_code"`
	ConditionText string  `json:"condition_text"`
}

// WeatherSnapshot is the result of one forecast fetch: the resolved city plus
// an ordered (ascending by Time) series of forecast points, typically 3-hourly
// over ~5 days.
type WeatherSnapshot struct {
	CityName string          `json:"city_name"`
	Coord    Coordinates     `json:"coord"`
	Sunrise  int64           `json:"sunrise"`
	Sunset   int64           `json:"sunset"`
	Points   []ForecastPoint `json:"points"`
}

// Current returns the earliest point in the snapshot, which by ascending
// ordering is the sample closest to now. Returns nil for an empty snapshot.
func (s *WeatherSnapshot) Current() *ForecastPoint {
	if s == nil || len(s.Points) == 0 {
		return nil
	}
	return &s.Points[0]
}

// LastLocation is the single persisted slot describing the most recently
// displayed non-favorited location.
type LastLocation struct {
	Coord     Coordinates `json:"coord"`
	CityName  string      `json:"city_name"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// CityKey normalizes a city name into the identity used by the favorite and
// schedule stores. Case-insensitive, surrounding whitespace ignored.
func CityKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Clock abstracts time.Now so TTL and trigger logic is testable.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
