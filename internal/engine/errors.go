package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable wraps write-path storage failures. The command must not be
// assumed to have applied; the engine never retries writes on its own.
var ErrUnavailable = errors.New("storage unavailable")

// ValidationError rejects input that fails a static invariant.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DuplicateKeyError rejects a violated unique constraint.
type DuplicateKeyError struct {
	Field string
	Value string
}

func (e DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate %s: %s", e.Field, e.Value)
}

// InvalidTransitionError carries the current and requested status so callers
// can decide to retry, no-op, or alert.
type InvalidTransitionError struct {
	OrderID   string
	Current   string
	Requested string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order status transition %s -> %s", e.Current, e.Requested)
}

// CapacityExceededError rejects an allocation that would overbook a resource.
type CapacityExceededError struct {
	ResourceID string
	Capacity   float64
	InUse      float64
	Requested  float64
	At         string
}

func (e CapacityExceededError) Error() string {
	return fmt.Sprintf("resource %s capacity exceeded at %s: %.2f in use + %.2f requested > %.2f",
		e.ResourceID, e.At, e.InUse, e.Requested, e.Capacity)
}

// ResourceBusyError blocks a status change while open allocations reference
// the resource on non-terminal orders.
type ResourceBusyError struct {
	ResourceID      string
	Requested       string
	OpenAllocations int
}

func (e ResourceBusyError) Error() string {
	return fmt.Sprintf("resource %s has %d open allocation(s); refusing status %s without force",
		e.ResourceID, e.OpenAllocations, e.Requested)
}

// AlreadyReleasedError rejects releasing an allocation twice.
type AlreadyReleasedError struct {
	AllocationID string
	EndTime      string
}

func (e AlreadyReleasedError) Error() string {
	return fmt.Sprintf("allocation %s already released at %s", e.AllocationID, e.EndTime)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// unavailable classifies a raw storage error, leaving domain errors intact.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
