package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for orchestration.
var (
	// ErrConfiguration indicates an invalid engine option. Always fatal.
	ErrConfiguration = errors.New("dynamo: invalid configuration")

	// ErrRunFailure indicates a user policy or update function failed.
	ErrRunFailure = errors.New("dynamo: run failed")

	// ErrTransport indicates a remote worker could not complete a task.
	ErrTransport = errors.New("dynamo: backend transport failure")

	// ErrNoProviders indicates every remote provider was shut down before the
	// dispatch completed.
	ErrNoProviders = errors.New("dynamo: no providers left to accept work")

	// ErrStateKeyMismatch indicates an update function returned a key other
	// than the variable it is registered under.
	ErrStateKeyMismatch = errors.New("dynamo: update key does not match variable")

	// ErrSignalType indicates two policy signals with the same key could not
	// be combined.
	ErrSignalType = errors.New("dynamo: policy signals cannot be combined")

	// ErrNoExperiment indicates Run was called without an experiment.
	ErrNoExperiment = errors.New("dynamo: experiment required")
)

// ConfigError reports a rejected engine option.
type ConfigError struct {
	Option string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("dynamo: invalid option %q: %s", e.Option, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// RunError wraps a failure raised while executing a single run.
type RunError struct {
	SimulationIndex int
	RunIndex        int
	SubsetIndex     int
	Timestep        int
	Substep         int
	Params          Params
	Err             error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("simulation %d run %d subset %d (timestep %d, substep %d): %v",
		e.SimulationIndex, e.RunIndex, e.SubsetIndex, e.Timestep, e.Substep, e.Err)
}

func (e *RunError) Unwrap() []error {
	return []error{ErrRunFailure, e.Err}
}

// TransportError wraps a failure reported by a remote provider.
type TransportError struct {
	Provider string
	Task     string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("provider %s task %s: %v", e.Provider, e.Task, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}
