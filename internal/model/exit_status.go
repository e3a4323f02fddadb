package model

import (
	"encoding/json"
	"fmt"
)

// ExitStatus is the reason a crawl terminated.
// Exactly one status is committed per crawl.
type ExitStatus int

const (
	// ExitUnknown is the zero value; no reason has been committed yet.
	ExitUnknown ExitStatus = iota

	// ExitMaxStates means the configured maximum number of states was reached.
	ExitMaxStates

	// ExitMaxTime means the configured maximum runtime elapsed.
	ExitMaxTime

	// ExitExhausted means every candidate action of every state was fired.
	ExitExhausted

	// ExitError means the crawl could not continue, e.g. every browser was lost.
	ExitError

	// ExitStopped means the crawl was stopped manually.
	ExitStopped
)

// String returns a human-readable description of the status.
func (s ExitStatus) String() string {
	switch s {
	case ExitMaxStates:
		return "Maximum states passed"
	case ExitMaxTime:
		return "Maximum time passed"
	case ExitExhausted:
		return "Exhausted"
	case ExitError:
		return "Errored"
	case ExitStopped:
		return "Stopped manually"
	default:
		return "Unknown"
	}
}

// Code returns the stable identifier used in JSON output and storage.
func (s ExitStatus) Code() string {
	switch s {
	case ExitMaxStates:
		return "MAX_STATES"
	case ExitMaxTime:
		return "MAX_TIME"
	case ExitExhausted:
		return "EXHAUSTED"
	case ExitError:
		return "ERROR"
	case ExitStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// ParseExitStatus converts a Code back into an ExitStatus.
func ParseExitStatus(code string) (ExitStatus, error) {
	for _, s := range []ExitStatus{ExitMaxStates, ExitMaxTime, ExitExhausted, ExitError, ExitStopped} {
		if s.Code() == code {
			return s, nil
		}
	}
	return ExitUnknown, fmt.Errorf("unknown exit status %q", code)
}

// MarshalJSON encodes the status as its Code.
func (s ExitStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Code())
}

// UnmarshalJSON decodes a status previously encoded by MarshalJSON.
func (s *ExitStatus) UnmarshalJSON(data []byte) error {
	var code string
	if err := json.Unmarshal(data, &code); err != nil {
		return err
	}
	if code == "UNKNOWN" {
		*s = ExitUnknown
		return nil
	}
	parsed, err := ParseExitStatus(code)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
