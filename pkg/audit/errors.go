package audit

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionActive is returned when a unit of work is committed while a
	// previous commit of the same unit of work is still in flight
	ErrSessionActive = errors.New("audit session already active for unit of work")
	// ErrSinkClosed is returned when delivering to a closed sink or fanout
	ErrSinkClosed = errors.New("audit sink is closed")
	// ErrEntryNotFound is returned by Store.Get for an unknown entry ID
	ErrEntryNotFound = errors.New("audit entry not found")
)

// ConfigurationError reports audit configuration that cannot be resolved
// against the schema. It is returned at startup, never at commit time.
type ConfigurationError struct {
	Entity   string
	Property string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Property != "" {
		return fmt.Sprintf("audit configuration for %s.%s: %s", e.Entity, e.Property, e.Reason)
	}
	return fmt.Sprintf("audit configuration for %s: %s", e.Entity, e.Reason)
}

// SinkError wraps the failure of one sink during fanout delivery
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("audit sink %s: %v", e.Sink, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}
