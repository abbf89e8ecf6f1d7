package pow

import (
	"errors"
	"fmt"
)

// EnvironmentError is used to pass store and runtime faults through the
// consensus code. The operation is aborted but the process is healthy.
type EnvironmentError struct {
	Err error
}

// NewEnvironmentError wraps a formatted error as an environment fault.
func NewEnvironmentError(format string, args ...any) error {
	return &EnvironmentError{Err: fmt.Errorf(format, args...)}
}

// Error implements the error interface.
func (ee *EnvironmentError) Error() string {
	return "environment: " + ee.Err.Error()
}

// Unwrap provides access to the wrapped error.
func (ee *EnvironmentError) Unwrap() error {
	return ee.Err
}

// IsEnvironmentError checks if an error of type EnvironmentError exists.
func IsEnvironmentError(err error) bool {
	var ee *EnvironmentError
	return errors.As(err, &ee)
}

// =============================================================================

// ConsensusError is used when a block breaks a consensus rule. The block is
// rejected.
type ConsensusError struct {
	Err error
}

// NewConsensusError wraps a formatted error as a consensus violation.
func NewConsensusError(format string, args ...any) error {
	return &ConsensusError{Err: fmt.Errorf(format, args...)}
}

// Error implements the error interface.
func (ce *ConsensusError) Error() string {
	return "consensus: " + ce.Err.Error()
}

// Unwrap provides access to the wrapped error.
func (ce *ConsensusError) Unwrap() error {
	return ce.Err
}

// IsConsensusError checks if an error of type ConsensusError exists.
func IsConsensusError(err error) bool {
	var ce *ConsensusError
	return errors.As(err, &ce)
}
