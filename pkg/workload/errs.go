package workload

import "errors"

var (
	// ErrNoHistory indicates that the historical store has no record for a
	// key. Estimators recover from it through their fallback ladders.
	ErrNoHistory = errors.New("workload: no history for key")

	// ErrNoConnector indicates that an estimator needed the historical
	// store but none was wired in.
	ErrNoConnector = errors.New("workload: no history connector")

	// ErrNoDataSource indicates that an estimator needed live data but no
	// data source was wired in.
	ErrNoDataSource = errors.New("workload: no data source")

	// ErrBadRule indicates a malformed predictor rule row.
	ErrBadRule = errors.New("workload: malformed predictor rule")
)
