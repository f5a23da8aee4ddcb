package lsr

import "github.com/pkg/errors"

var (
	// ErrNoSolution is returned by solve when no formula assignment covers
	// every use. The loop is left unchanged.
	ErrNoSolution = errors.New("no satisfactory solution")

	// ErrNotSimplified is reported for loops without a preheader, a single
	// latch and dedicated exits.
	ErrNotSimplified = errors.New("loop not in simplified form")

	// ErrNotInnermost is reported for loops with subloops.
	ErrNotInnermost = errors.New("loop is not innermost")

	// ErrTooManyUsers is reported when a loop exceeds Config.MaxIVUsers.
	ErrTooManyUsers = errors.New("too many IV users")

	// ErrNoUsers is reported when a loop has nothing to strength reduce.
	ErrNoUsers = errors.New("no IV users")
)
