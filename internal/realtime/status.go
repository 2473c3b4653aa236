// Package realtime keeps subscribers attached to table change streams. Each
// subscription reconnects with capped exponential backoff until it is
// unsubscribed or its retries are exhausted.
package realtime

import "strings"

// Status is the normalized connection state of a subscription.
type Status string

const (
	StatusConnecting Status = "CONNECTING"
	StatusOpen       Status = "OPEN"
	StatusError      Status = "ERROR"
	StatusTimedOut   Status = "TIMED_OUT"
	StatusClosed     Status = "CLOSED"
)

// NormalizeStatus maps a transport status to a Status. Unknown values return "".
func NormalizeStatus(raw string) Status {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CONNECTING", "JOINING":
		return StatusConnecting
	case "OPEN", "SUBSCRIBED", "JOINED":
		return StatusOpen
	case "ERROR", "CHANNEL_ERROR":
		return StatusError
	case "TIMED_OUT", "TIMEOUT":
		return StatusTimedOut
	case "CLOSED":
		return StatusClosed
	}
	return ""
}

// IsFailure reports whether s ends a connection attempt.
func (s Status) IsFailure() bool {
	return s == StatusError || s == StatusTimedOut || s == StatusClosed
}
