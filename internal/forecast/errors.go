package forecast

import "fmt"

// ResolveErrorKind classifies a geocoding failure.
type ResolveErrorKind string

const (
	ResolveNotFound  ResolveErrorKind = "not_found"
	ResolveTransient ResolveErrorKind = "transient"
)

// ResolveError is returned by GeoResolver implementations.
type ResolveError struct {
	City string
	Kind ResolveErrorKind
	Err  error
}

func (e *ResolveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolving %q (%s): %v", e.City, e.Kind, e.Err)
	}
	return fmt.Sprintf("resolving %q: %s", e.City, e.Kind)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// FetchErrorKind classifies a forecast fetch failure.
type FetchErrorKind string

const (
	FetchNetwork FetchErrorKind = "network"
	FetchDecode  FetchErrorKind = "decode"
	FetchServer  FetchErrorKind = "server"
)

// FetchError is returned by Fetcher implementations. StatusCode is set only
// for FetchServer.
type FetchError struct {
	Kind       FetchErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchServer {
		return fmt.Sprintf("fetching forecast: server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("fetching forecast (%s): %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
