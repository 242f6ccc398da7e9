package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const httpTimeout = 10 * time.Second

// newHTTPClient returns an http.Client with a 10-second timeout.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: httpTimeout}
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
	})
}

// statusError marks a non-200 response so callers can classify it.
type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("unexpected status %d", e.code) }

// doGet performs a rate-limited GET through the circuit breaker and returns
// the raw body. Non-200 responses come back as *statusError.
func doGet(ctx context.Context, client *http.Client, limiter *rate.Limiter, cb *gobreaker.CircuitBreaker, rawURL string) ([]byte, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := cb.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("GET %s: %w", rawURL, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, &statusError{code: resp.StatusCode}
		}

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading response from %s: %w", rawURL, err)
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}

	return body.([]byte), nil
}

// ---- geocoding ----

const geoDefaultURL = "https://api.openweathermap.org/geo/1.0/direct"

// GeoClient resolves city names through the OpenWeather geocoding API.
type GeoClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewGeoClient constructs a GeoClient with the given API key and request budget.
func NewGeoClient(apiKey string, rps float64, burst int) *GeoClient {
	return &GeoClient{
		apiKey:  apiKey,
		baseURL: geoDefaultURL,
		client:  newHTTPClient(),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		breaker: newBreaker("geocoding"),
	}
}

// NewGeoClientWithURL constructs a GeoClient pointing at a custom base URL (for tests).
func NewGeoClientWithURL(baseURL, apiKey string) *GeoClient {
	c := NewGeoClient(apiKey, 100, 100)
	c.baseURL = baseURL
	return c
}

type geoEntry struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// Resolve returns the coordinates of the best match for the given city name.
// An empty result set classifies as not found; everything else as transient.
func (c *GeoClient) Resolve(ctx context.Context, city string) (Coordinates, error) {
	endpoint := c.baseURL + "?q=" + url.QueryEscape(city) + "&limit=1&appid=" + c.apiKey

	body, err := doGet(ctx, c.client, c.limiter, c.breaker, endpoint)
	if err != nil {
		return Coordinates{}, &ResolveError{City: city, Kind: ResolveTransient, Err: err}
	}

	var entries []geoEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return Coordinates{}, &ResolveError{City: city, Kind: ResolveTransient, Err: err}
	}

	if len(entries) == 0 {
		return Coordinates{}, &ResolveError{City: city, Kind: ResolveNotFound}
	}

	return Coordinates{Lat: entries[0].Lat, Lon: entries[0].Lon}, nil
}

// ---- forecast ----

const forecastDefaultURL = "https://api.openweathermap.org/data/2.5/forecast"

// WeatherClient fetches 5-day/3-hour forecasts from OpenWeather.
type WeatherClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewWeatherClient constructs a WeatherClient with the given API key and request budget.
func NewWeatherClient(apiKey string, rps float64, burst int) *WeatherClient {
	return &WeatherClient{
		apiKey:  apiKey,
		baseURL: forecastDefaultURL,
		client:  newHTTPClient(),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		breaker: newBreaker("forecast"),
	}
}

// NewWeatherClientWithURL constructs a WeatherClient pointing at a custom base URL (for tests).
func NewWeatherClientWithURL(baseURL, apiKey string) *WeatherClient {
	c := NewWeatherClient(apiKey, 100, 100)
	c.baseURL = baseURL
	return c
}

type owmForecastResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp      float64 `json:"temp"`
			FeelsLike float64 `json:"feels_like"`
			TempMin   float64 `json:"temp_min"`
			TempMax   float64 `json:"temp_max"`
			Pressure  int     `json:"pressure"`
			Humidity  int     `json:"humidity"`
		} `json:"main"`
		Weather []struct {
			ID          int    `json:"id"`
			Description string `json:"description"`
		} `json:"weather"`
		Wind struct {
			Speed float64 `json:"speed"`
			Deg   int     `json:"deg"`
			Gust  float64 `json:"gust"`
		} `json:"wind"`
		Visibility int `json:"visibility"`
	} `json:"list"`
	City struct {
		Name  string `json:"name"`
		Coord struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"coord"`
		Sunrise int64 `json:"sunrise"`
		Sunset  int64 `json:"sunset"`
	} `json:"city"`
}

// Fetch retrieves the forecast for the given coordinates.
func (c *WeatherClient) Fetch(ctx context.Context, coord Coordinates) (*WeatherSnapshot, error) {
	endpoint := fmt.Sprintf("%s?lat=%f&lon=%f&units=metric&appid=%s", c.baseURL, coord.Lat, coord.Lon, c.apiKey)

	body, err := doGet(ctx, c.client, c.limiter, c.breaker, endpoint)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return nil, &FetchError{Kind: FetchServer, StatusCode: se.code, Err: err}
		}
		return nil, &FetchError{Kind: FetchNetwork, Err: err}
	}

	var raw owmForecastResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &FetchError{Kind: FetchDecode, Err: err}
	}

	snap := &WeatherSnapshot{
		CityName: raw.City.Name,
		Coord:    Coordinates{Lat: raw.City.Coord.Lat, Lon: raw.City.Coord.Lon},
		Sunrise:  raw.City.Sunrise,
		Sunset:   raw.City.Sunset,
		Points:   make([]ForecastPoint, 0, len(raw.List)),
	}

	for _, item := range raw.List {
		p := ForecastPoint{
			Time:        item.Dt,
			Temperature: item.Main.Temp,
			TempMin:     item.Main.TempMin,
			TempMax:     item.Main.TempMax,
			FeelsLike:   item.Main.FeelsLike,
			Humidity:    item.Main.Humidity,
			Pressure:    item.Main.Pressure,
			WindSpeed:   item.Wind.Speed,
			WindDeg:     item.Wind.Deg,
			WindGust:    item.Wind.Gust,
			Visibility:  item.Visibility,
		}
		if len(item.Weather) > 0 {
			p.ConditionCode = item.Weather[0].ID
			p.ConditionText = item.Weather[0].Description
		}
		snap.Points = append(snap.Points, p)
	}

	// The API returns points in chronological order, but the ascending
	// invariant is load-bearing for Current(), so enforce it.
	sort.Slice(snap.Points, func(i, j int) bool { return snap.Points[i].Time < snap.Points[j].Time })

	return snap, nil
}
