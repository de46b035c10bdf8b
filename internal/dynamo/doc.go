// Package dynamo provides the core data model shared by every part of the
// simulation orchestration engine.
//
// The package defines the values that flow between the run generator, the
// execution backends and the result aggregator:
//
//   - [State] and [Params]: per-run mutable containers with explicit deep clones
//   - [ParamSpace]: the multi-valued parameter specification of a model
//   - [Block]: one substep worth of policies and state update functions
//   - [RunDescriptor]: the unit of dispatch handed to an executor
//   - [Outcome]: the result or captured failure of one dispatched run
//
// # Sweeps
//
// [GenerateSweep] expands a [ParamSpace] into index-aligned single-valued
// subsets. An empty sweep means the parameters are used as they are.
//
// # Thread Safety
//
// Descriptors own independent copies of their state and params, so they can be
// handed to any worker. Blocks are shared by reference and must not be
// mutated once a run has started.
package dynamo
