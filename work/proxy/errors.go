package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors returned by the engine. Callers test them with errors.Is and
// turn them into responses with StatusFor; wrapped context is kept for logs only.
var (
	ErrAuthentication     = errors.New("invalid credentials")
	ErrAuthorization      = errors.New("access denied")
	ErrNotFound           = errors.New("channel not found")
	ErrUnsupported        = errors.New("timeshift unsupported")
	ErrUpstreamTimeout    = errors.New("provider timeout")
	ErrUpstreamConnection = errors.New("provider connection error")
	ErrUpstreamStatus     = errors.New("provider error")
	ErrTimestamp          = errors.New("invalid timestamp")
	ErrBodyConsumed       = errors.New("upstream body already consumed")
)

// UnsupportedError is returned when a channel cannot be replayed. It matches
// ErrUnsupported, and its Reason is sent to the client verbatim as the 400
// body, so it must stay free of provider credentials.
type UnsupportedError struct {
	Reason string
}

// Error returns the client-facing reason.
func (e *UnsupportedError) Error() string { return e.Reason }

// Is reports whether target is ErrUnsupported.
func (e *UnsupportedError) Is(target error) bool { return target == ErrUnsupported }

var (
	ErrArchiveDisabled = &UnsupportedError{Reason: "Timeshift not supported for this channel"}
	ErrNotXtreamCodes  = &UnsupportedError{Reason: "Channel not from Xtream Codes provider"}
)

// UpstreamStatusError carries a non-200/206 provider status. It matches ErrUpstreamStatus.
type UpstreamStatusError struct {
	Status int
}

// Error reports the provider status.
func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("provider error: %d", e.Status)
}

// Is reports whether target is ErrUpstreamStatus.
func (e *UpstreamStatusError) Is(target error) bool { return target == ErrUpstreamStatus }

// StatusFor maps an engine error to the HTTP status and body returned to the client.
//
// Authentication and authorization failures are 403, unknown channels 404 and
// anything the provider refused or could not answer 400. Errors the engine
// does not recognise are 500 with a generic body so internal details never
// reach the client.
func StatusFor(err error) (int, string) {
	var statusErr *UpstreamStatusError
	var unsupported *UnsupportedError

	switch {
	case errors.Is(err, ErrAuthentication):
		return http.StatusForbidden, "Invalid credentials"
	case errors.Is(err, ErrAuthorization):
		return http.StatusForbidden, "Access denied"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "Channel not found"
	case errors.As(err, &unsupported):
		return http.StatusBadRequest, unsupported.Reason
	case errors.Is(err, ErrUpstreamTimeout):
		return http.StatusBadRequest, "Provider timeout"
	case errors.Is(err, ErrUpstreamConnection):
		return http.StatusBadRequest, "Provider connection error"
	case errors.As(err, &statusErr):
		return http.StatusBadRequest, fmt.Sprintf("Provider error: %d", statusErr.Status)
	default:
		return http.StatusInternalServerError, "Timeshift error"
	}
}

// outcomeLabel classifies an error for the requests metric
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAuthentication), errors.Is(err, ErrAuthorization):
		return "auth"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrUpstreamTimeout), errors.Is(err, ErrUpstreamConnection), errors.Is(err, ErrUpstreamStatus):
		return "upstream"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
