package domain

import (
	"fmt"
	"strings"
)

var (
	ErrServiceNotFound      = fmt.Errorf("service not found")
	ErrInstanceNotFound     = fmt.Errorf("instance not found")
	ErrNoInstancesAvailable = fmt.Errorf("no instances available")
	ErrCircuitOpen          = fmt.Errorf("circuit open")
	ErrRegistrationFailed   = fmt.Errorf("registration failed")
	ErrInvalidRequest       = fmt.Errorf("invalid request")
)

// DispatchAttempt records one forwarding attempt against one instance.
type DispatchAttempt struct {
	InstanceID string `json:"instance_id"`
	Address    string `json:"address"`
	Reason     string `json:"reason"`
}

// DispatchError aggregates every failed attempt of an exhausted dispatch so
// the caller can see which instances were tried and why each failed.
type DispatchError struct {
	ServiceName string            `json:"service_name"`
	Attempts    []DispatchAttempt `json:"attempts"`
}

func (e *DispatchError) Error() string {
	var msgs []string
	for _, a := range e.Attempts {
		msgs = append(msgs, fmt.Sprintf("%s (%s): %s", a.InstanceID, a.Address, a.Reason))
	}
	return fmt.Sprintf("dispatch to %s exhausted after %d attempts: %s",
		e.ServiceName, len(e.Attempts), strings.Join(msgs, "; "))
}
