package types

import "errors"

// The runtime's closed set of error kinds. Component errors wrap one of
// these sentinels so callers can classify with errors.Is without depending
// on the failing engine.
var (
	// ErrStorageIO marks a persistent store read/write failure.
	ErrStorageIO = errors.New("storage i/o failure")
	// ErrProtocol marks a malformed or unrecognized adapter event.
	ErrProtocol = errors.New("adapter protocol violation")
	// ErrStrategyFault marks a strategy callback that terminated abnormally.
	ErrStrategyFault = errors.New("strategy fault")
	// ErrConfigInvalid marks a missing or out-of-range configuration field.
	ErrConfigInvalid = errors.New("invalid configuration")
)
