package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport marks timeouts, connection failures and non-success
	// responses from a single endpoint.
	ErrTransport = errors.New("transport error")

	// ErrSourceExhausted means every endpoint of a source failed.
	ErrSourceExhausted = errors.New("all sources failed")

	// ErrDecodeDegraded marks a payload that could not be decoded.
	ErrDecodeDegraded = errors.New("payload decode degraded")

	// ErrInvalidRequest marks a caller error such as non-positive grid
	// dimensions or an archive query outside the declared bounds.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrTileNotFound means the server reported the tile absent. It is not a
	// failure.
	ErrTileNotFound = errors.New("tile not found")

	// ErrCacheMiss is returned by cache stores for unknown keys.
	ErrCacheMiss = errors.New("cache miss")
)

// TransportError describes one failed try against an endpoint.
type TransportError struct {
	Endpoint  string
	Status    int // HTTP status, 0 when no response was received
	Retryable bool
	Err       error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s: HTTP %d: %v", e.Endpoint, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s: HTTP %d", e.Endpoint, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Endpoint, e.Err)
	}
	return e.Endpoint + ": transport error"
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ExhaustedError is returned when a source (or every source) ran out of
// endpoints. Last holds the final underlying cause, if one was observed.
type ExhaustedError struct {
	Source string
	Last   error
}

func (e *ExhaustedError) Error() string {
	prefix := ErrSourceExhausted.Error()
	if e.Source != "" {
		prefix = e.Source + ": " + prefix
	}
	if e.Last == nil {
		return prefix
	}
	return prefix + ": " + e.Last.Error()
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *ExhaustedError) Is(target error) bool { return target == ErrSourceExhausted }

// InvalidRequestf builds an error wrapping ErrInvalidRequest.
func InvalidRequestf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
