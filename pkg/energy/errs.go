package energy

import "errors"

var (
	// ErrUnknownUser indicates that a share was requested for a user that
	// has no weight in the division.
	ErrUnknownUser = errors.New("energy: unknown energy user")

	// ErrNoWeights indicates that the weights of a division sum to zero,
	// so no valid allocation exists.
	ErrNoWeights = errors.New("energy: weights sum to zero")

	// ErrMissingFraction indicates that a load based rule was asked to
	// weight a user for which no load fraction was derived.
	ErrMissingFraction = errors.New("energy: no load fraction for user")

	// ErrNilHost indicates that a rule was invoked without a host.
	ErrNilHost = errors.New("energy: nil host")
)
