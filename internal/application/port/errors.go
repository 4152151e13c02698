package port

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when an operation runs before a successful
// Connect. Match with errors.Is.
var ErrNotConnected = errors.New("broker not connected")

// AuthenticationError means the venue rejected the credentials. Fatal for
// the adapter instance until a new Connect succeeds.
type AuthenticationError struct {
	Venue string
	Err   error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: authentication failed: %v", e.Venue, e.Err)
	}
	return fmt.Sprintf("%s: authentication failed", e.Venue)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// VenueUnavailableError means the venue could not be reached or answered
// with a server error. Callers may retry.
type VenueUnavailableError struct {
	Venue      string
	StatusCode int // 0 when the failure was transport-level
	Err        error
}

func (e *VenueUnavailableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: venue unavailable (http %d): %v", e.Venue, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: venue unavailable: %v", e.Venue, e.Err)
}

func (e *VenueUnavailableError) Unwrap() error { return e.Err }

// MappingError means the venue returned a payload the codec cannot parse.
// It is logged and surfaced as a generic failure; it must never crash the
// process.
type MappingError struct {
	Venue string
	What  string // which payload failed, e.g. "account response"
	Err   error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("%s: cannot parse %s: %v", e.Venue, e.What, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

func IsAuthentication(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}

func IsVenueUnavailable(err error) bool {
	var ve *VenueUnavailableError
	return errors.As(err, &ve)
}

func IsMapping(err error) bool {
	var me *MappingError
	return errors.As(err, &me)
}
