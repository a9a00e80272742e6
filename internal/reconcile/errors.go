package reconcile

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// NothingToCreate is the user-facing message returned when every day of the
// requested period is already booked.
const NothingToCreate = "All Time Entries for the specified period exist. Nothing has been created."

var (
	// ErrAllDatesOccupied is returned when no day of a multi-day period is
	// free. Nothing has been mutated or created when it is returned.
	ErrAllDatesOccupied = errors.New(NothingToCreate)

	// ErrStore matches every *StoreError.
	ErrStore = errors.New("an error occurred in time entry reconciliation")

	// ErrInvalidPeriod is returned when a candidate ends on a day before it starts.
	ErrInvalidPeriod = errors.New("time entry ends before it starts")
)

// StoreError wraps a failure reported by the store collaborator.
type StoreError struct {
	Op       string
	Resource uuid.UUID
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%v: %s for resource %s: %v", ErrStore, e.Op, e.Resource, e.Err)
}

// Is reports whether target is ErrStore.
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// Unwrap returns the store's own error.
func (e *StoreError) Unwrap() error {
	return e.Err
}
