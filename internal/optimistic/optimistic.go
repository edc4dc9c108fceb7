// Package optimistic implements apply-then-confirm mutations: the local
// value changes immediately, the server call follows, and a failed call
// restores the snapshot. Every "toggle membership" or "set value" feature
// goes through the one helper here so the rollback invariant holds
// uniformly instead of being re-implemented per feature.
package optimistic

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// RollbackError indicates a mutation was applied locally and then reverted
// because the server call failed. The wrapped error is the call's failure.
type RollbackError struct {
	Err error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("mutation rolled back: %v", e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// Do applies next through apply immediately, issues request, and on failure
// restores current and returns a RollbackError.
//
// current must be the caller's snapshot taken at call time. For rapid
// back-to-back toggles that means the second call snapshots the state left
// by the first call's optimistic application, so rolling back the second
// restores the first's applied value, not the state before either call.
func Do[T any](ctx context.Context, current, next T, apply func(T), request func(context.Context) error) error {
	apply(next)

	if err := request(ctx); err != nil {
		apply(current)
		log.Debug().Err(err).Msg("optimistic mutation rolled back")
		return &RollbackError{Err: err}
	}
	return nil
}
