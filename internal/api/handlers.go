package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Ruslan-Po/final-weather/internal/forecast"
	"github.com/Ruslan-Po/final-weather/internal/notify"
)

// Handlers holds the dependencies for all HTTP handlers.
type Handlers struct {
	store     FavoriteStore
	cache     SnapshotCache
	geo       forecast.GeoResolver
	fetcher   forecast.Fetcher
	refresher Refresher
	notifier  Notifier
	local     LocalWeather
	lastLoc   LastLocationStore
	validate  *validator.Validate
	log       *slog.Logger
}

// NewHandlers constructs Handlers with all required dependencies.
func NewHandlers(store FavoriteStore, cache SnapshotCache, geo forecast.GeoResolver, fetcher forecast.Fetcher, refresher Refresher, notifier Notifier, local LocalWeather, lastLoc LastLocationStore, log *slog.Logger) *Handlers {
	return &Handlers{
		store:     store,
		cache:     cache,
		geo:       geo,
		fetcher:   fetcher,
		refresher: refresher,
		notifier:  notifier,
		local:     local,
		lastLoc:   lastLoc,
		validate:  validator.New(),
		log:       log,
	}
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// portStatus maps a port error to an HTTP status for single-city operations.
func portStatus(err error) int {
	var rerr *forecast.ResolveError
	if errors.As(err, &rerr) {
		if rerr.Kind == forecast.ResolveNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	}
	var ferr *forecast.FetchError
	if errors.As(err, &ferr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

type favoriteResponse struct {
	Key                  string               `json:"key"`
	DisplayName          string               `json:"display_name"`
	Coord                forecast.Coordinates `json:"coord"`
	CachedAt             *time.Time           `json:"cached_at,omitempty"`
	NotificationsEnabled bool                 `json:"notifications_enabled"`
}

// ListFavorites handles GET /api/v1/favorites.
func (h *Handlers) ListFavorites(w http.ResponseWriter, r *http.Request) {
	cities, err := h.store.ListAll(r.Context())
	if err != nil {
		h.log.Error("listing favorites failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]favoriteResponse, 0, len(cities))
	for _, c := range cities {
		enabled, err := h.notifier.IsEnabled(r.Context(), c.Key)
		if err != nil {
			h.log.Warn("reading notification state failed", "city", c.Key, "err", err)
		}
		out = append(out, favoriteResponse{
			Key:                  c.Key,
			DisplayName:          c.DisplayName,
			Coord:                c.Coord,
			CachedAt:             c.CachedAt,
			NotificationsEnabled: enabled,
		})
	}

	writeJSON(w, http.StatusOK, out)
}

// AddFavorite handles PUT /api/v1/favorites/{city}.
// Resolves the name, fetches a fresh snapshot, and stores it.
func (h *Handlers) AddFavorite(w http.ResponseWriter, r *http.Request) {
	city := chi.URLParam(r, "city")
	cityKey := forecast.CityKey(city)

	coord, err := h.geo.Resolve(r.Context(), city)
	if err != nil {
		h.log.Warn("resolve failed", "city", city, "err", err)
		writeError(w, portStatus(err), err.Error())
		return
	}

	snap, err := h.fetcher.Fetch(r.Context(), coord)
	if err != nil {
		h.log.Warn("fetch failed", "city", city, "err", err)
		writeError(w, portStatus(err), err.Error())
		return
	}

	fav, err := h.store.Upsert(r.Context(), cityKey, snap)
	if err != nil {
		h.log.Error("upsert failed", "city", cityKey, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to store favorite")
		return
	}

	if err := h.store.Flush(r.Context()); err != nil {
		h.log.Warn("flush after add failed", "city", cityKey, "err", err)
	}
	if err := h.cache.Set(r.Context(), cityKey, snap); err != nil {
		h.log.Warn("cache set after add failed", "city", cityKey, "err", err)
	}

	writeJSON(w, http.StatusOK, fav)
}

// RemoveFavorite handles DELETE /api/v1/favorites/{city}.
// Alerts are disabled before the city row goes away: the schedule store does
// not observe favorite deletions itself.
func (h *Handlers) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	cityKey := forecast.CityKey(chi.URLParam(r, "city"))

	tracked, err := h.store.IsTracked(r.Context(), cityKey)
	if err != nil {
		h.log.Error("tracked check failed", "city", cityKey, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !tracked {
		writeError(w, http.StatusNotFound, "city is not a favorite")
		return
	}

	if err := h.notifier.Disable(r.Context(), cityKey); err != nil {
		h.log.Error("disabling alerts before removal failed", "city", cityKey, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to disable alerts")
		return
	}

	if err := h.store.Remove(r.Context(), cityKey); err != nil {
		h.log.Error("remove failed", "city", cityKey, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to remove favorite")
		return
	}

	if err := h.store.Flush(r.Context()); err != nil {
		h.log.Warn("flush after remove failed", "city", cityKey, "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// ClearFavorites handles DELETE /api/v1/favorites.
func (h *Handlers) ClearFavorites(w http.ResponseWriter, r *http.Request) {
	cities, err := h.store.ListAll(r.Context())
	if err != nil {
		h.log.Error("listing favorites failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	for _, c := range cities {
		if err := h.notifier.Disable(r.Context(), c.Key); err != nil {
			h.log.Error("disabling alerts before removal failed", "city", c.Key, "err", err)
			writeError(w, http.StatusInternalServerError, "failed to disable alerts")
			return
		}
	}

	if err := h.store.RemoveAll(r.Context()); err != nil {
		h.log.Error("remove all failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to remove favorites")
		return
	}

	if err := h.store.Flush(r.Context()); err != nil {
		h.log.Warn("flush after remove all failed", "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// RefreshAll handles POST /api/v1/favorites/refresh and returns the batch report.
func (h *Handlers) RefreshAll(w http.ResponseWriter, r *http.Request) {
	report, err := h.refresher.RefreshAll(r.Context())
	if err != nil {
		h.log.Error("batch refresh failed", "err", err)
		if report == nil {
			writeError(w, http.StatusInternalServerError, "refresh failed")
			return
		}
	}

	writeJSON(w, http.StatusOK, report)
}

// GetFavoriteWeather handles GET /api/v1/favorites/{city}/weather.
// Cache hit → return. DB hit → cache + return. Neither → 404.
func (h *Handlers) GetFavoriteWeather(w http.ResponseWriter, r *http.Request) {
	cityKey := forecast.CityKey(chi.URLParam(r, "city"))

	cached, err := h.cache.Get(r.Context(), cityKey)
	if err != nil {
		h.log.Error("cache get failed", "city", cityKey, "err", err)
	}
	if cached != nil {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	city, err := h.store.Get(r.Context(), cityKey)
	if err != nil {
		h.log.Error("db get failed", "city", cityKey, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if city == nil {
		writeError(w, http.StatusNotFound, "city is not a favorite")
		return
	}

	snap := city.Snapshot()
	if err := h.cache.Set(r.Context(), cityKey, snap); err != nil {
		h.log.Warn("cache set after db hit failed", "city", cityKey, "err", err)
	}

	writeJSON(w, http.StatusOK, snap)
}

// enableRequest is the PUT notifications body.
type enableRequest struct {
	Mode   string `json:"mode" validate:"required,oneof=daily once"`
	Hour   int    `json:"hour" validate:"gte=0,lte=23"`
	Minute int    `json:"minute" validate:"gte=0,lte=59"`
	FireAt string `json:"fire_at" validate:"required_if=Mode once,omitempty"`
}

// EnableNotification handles PUT /api/v1/favorites/{city}/notifications.
func (h *Handlers) EnableNotification(w http.ResponseWriter, r *http.Request) {
	cityKey := forecast.CityKey(chi.URLParam(r, "city"))

	var req enableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var err error
	switch req.Mode {
	case "daily":
		err = h.notifier.EnableDaily(r.Context(), cityKey, req.Hour, req.Minute)
	case "once":
		var fireAt time.Time
		fireAt, err = time.Parse(time.RFC3339, req.FireAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "fire_at must be RFC 3339")
			return
		}
		err = h.notifier.EnableOnce(r.Context(), cityKey, fireAt)
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"city_key": cityKey, "enabled": true})
	case errors.Is(err, notify.ErrNoData):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, notify.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		h.log.Error("enabling alert failed", "city", cityKey, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to schedule alert")
	}
}

// DisableNotification handles DELETE /api/v1/favorites/{city}/notifications.
func (h *Handlers) DisableNotification(w http.ResponseWriter, r *http.Request) {
	cityKey := forecast.CityKey(chi.URLParam(r, "city"))

	if err := h.notifier.Disable(r.Context(), cityKey); err != nil {
		h.log.Error("disabling alert failed", "city", cityKey, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to disable alert")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetLocalWeather handles GET /api/v1/weather?lat=..&lon=..&force=..
// using the single-slot location cache.
func (h *Handlers) GetLocalWeather(w http.ResponseWriter, r *http.Request) {
	lat, latErr := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if latErr != nil || lonErr != nil {
		writeError(w, http.StatusBadRequest, "lat and lon are required decimal degrees")
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	snap, err := h.local.Fetch(r.Context(), forecast.Coordinates{Lat: lat, Lon: lon}, force)
	if err != nil {
		h.log.Warn("local weather fetch failed", "lat", lat, "lon", lon, "err", err)
		writeError(w, portStatus(err), err.Error())
		return
	}

	// Tell the client whether this location is already a tracked favorite.
	fav, err := h.store.GetByCoordinates(r.Context(), lat, lon)
	if err != nil {
		h.log.Warn("favorite lookup by coordinates failed", "lat", lat, "lon", lon, "err", err)
	}

	resp := localWeatherResponse{Snapshot: snap, IsFavorite: fav != nil}
	if fav != nil {
		resp.CityKey = fav.Key
	}
	writeJSON(w, http.StatusOK, resp)
}

type localWeatherResponse struct {
	Snapshot   *forecast.WeatherSnapshot `json:"snapshot"`
	IsFavorite bool                      `json:"is_favorite"`
	CityKey    string                    `json:"city_key,omitempty"`
}

// GetLastLocationWeather handles GET /api/v1/weather/last, serving the
// home-screen default from the persisted last-location slot.
func (h *Handlers) GetLastLocationWeather(w http.ResponseWriter, r *http.Request) {
	loc, err := h.lastLoc.LastLocation(r.Context())
	if err != nil {
		h.log.Error("loading last location failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if loc == nil {
		writeError(w, http.StatusNotFound, "no last location recorded")
		return
	}

	snap, err := h.local.Fetch(r.Context(), loc.Coord, false)
	if err != nil {
		h.log.Warn("last location weather fetch failed", "city", loc.CityName, "err", err)
		writeError(w, portStatus(err), err.Error())
		return
	}

	fav, err := h.store.GetByCoordinates(r.Context(), loc.Coord.Lat, loc.Coord.Lon)
	if err != nil {
		h.log.Warn("favorite lookup by coordinates failed", "city", loc.CityName, "err", err)
	}

	resp := localWeatherResponse{Snapshot: snap, IsFavorite: fav != nil}
	if fav != nil {
		resp.CityKey = fav.Key
	}
	writeJSON(w, http.StatusOK, resp)
}

// ClearLastLocation handles DELETE /api/v1/weather/last.
func (h *Handlers) ClearLastLocation(w http.ResponseWriter, r *http.Request) {
	if err := h.lastLoc.ClearLastLocation(r.Context()); err != nil {
		h.log.Error("clearing last location failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to clear last location")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /api/v1/health.
// Pings DB and Redis; returns 200 if both ok, 503 otherwise.
type dbPinger interface {
	Ping(ctx context.Context) error
}

type redisPinger interface {
	Ping(ctx context.Context) error
}

// HealthHandlerFunc returns an http.HandlerFunc that checks db and redis connectivity.
func HealthHandlerFunc(db dbPinger, redis redisPinger, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		dbStatus := "ok"
		redisStatus := "ok"

		if err := db.Ping(ctx); err != nil {
			log.Error("health check: db ping failed", "err", err)
			dbStatus = "error"
			status = http.StatusServiceUnavailable
		}

		if err := redis.Ping(ctx); err != nil {
			log.Error("health check: redis ping failed", "err", err)
			redisStatus = "error"
			status = http.StatusServiceUnavailable
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}

		writeJSON(w, status, map[string]string{
			"status": overall,
			"db":     dbStatus,
			"redis":  redisStatus,
		})
	}
}
