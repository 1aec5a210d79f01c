package domain

import "errors"

var (
	// Projection pipeline failures.
	ErrInconsistentConstraints = errors.New("inconsistent constraints")
	ErrInfeasibleConstraints   = errors.New("infeasible constraints")
	ErrOracleTimeout           = errors.New("oracle timeout")
	ErrNumericDivergence       = errors.New("numeric divergence")
	ErrNoArbitrage             = errors.New("no exploitable arbitrage")

	// Infrastructure.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrWSDisconnect  = errors.New("websocket disconnected")
)
