package relay

import (
	"errors"
	"net/http"
)

type Kind string

const (
	KindNone                  Kind = ""
	KindValidation            Kind = "validation"
	KindUpstreamRejection     Kind = "upstream_rejection"
	KindUpstreamStreamFailure Kind = "upstream_stream_failure"
	KindClientDisconnect      Kind = "client_disconnect"
)

// ValidationError is a malformed or incomplete inbound request. It never reaches upstream.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string { return e.Reason }
func (e *ValidationError) Unwrap() error { return e.Err }

// UpstreamRejection is an upstream failure before the response committed to streaming.
type UpstreamRejection struct {
	Err error
}

func (e *UpstreamRejection) Error() string { return "upstream rejected request: " + e.Err.Error() }
func (e *UpstreamRejection) Unwrap() error { return e.Err }

// UpstreamStreamFailure is an upstream failure after the response committed to streaming.
type UpstreamStreamFailure struct {
	Err       error
	Fragments int
}

func (e *UpstreamStreamFailure) Error() string { return "upstream stream failed: " + e.Err.Error() }
func (e *UpstreamStreamFailure) Unwrap() error { return e.Err }

// ClientDisconnect means the caller went away; nothing is reported to it.
type ClientDisconnect struct {
	Err error
}

func (e *ClientDisconnect) Error() string { return "client disconnected: " + e.Err.Error() }
func (e *ClientDisconnect) Unwrap() error { return e.Err }

// KindOf classifies err.
func KindOf(err error) Kind {
	var (
		validation *ValidationError
		rejection  *UpstreamRejection
		failure    *UpstreamStreamFailure
		disconnect *ClientDisconnect
	)
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &rejection):
		return KindUpstreamRejection
	case errors.As(err, &failure):
		return KindUpstreamStreamFailure
	case errors.As(err, &disconnect):
		return KindClientDisconnect
	}
	return KindNone
}

// StatusCode maps a pre-stream error to the HTTP status reported to the caller.
func StatusCode(err error) int {
	if KindOf(err) == KindValidation {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
