package types

import "errors"

// Record and period validation errors
var (
	// ErrUnknownEventType is returned for a type outside the closed event type set
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrMissingID is returned when a stored record has no id
	ErrMissingID = errors.New("event id is required")

	// ErrMissingTimestamp is returned when a stored record has no timestamp
	ErrMissingTimestamp = errors.New("event timestamp is required")

	// ErrMalformedRecord wraps any decode or validation failure of a stored line
	ErrMalformedRecord = errors.New("malformed event record")

	// ErrInvalidPeriod is returned when a period key is not "YYYY-MM"
	ErrInvalidPeriod = errors.New("invalid period")
)
