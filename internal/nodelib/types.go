// Package nodelib implements the stable four-function plugin ABI that
// custom computation nodes call into, plus the reference-
// counted registry of loaded libraries nodes share.
package nodelib

import (
	"sync/atomic"

	"github.com/modelmesh/pipelinecore/pkg/tensor"
)

// Param is one {key, value} byte-string pair passed to a custom node's
// library. Interpretation is entirely the library's responsibility
//.
type Param struct {
	Key   string
	Value string
}

// TensorInfo describes one declared input or output of a library, as
// returned by getInputsInfo/getOutputsInfo.
type TensorInfo struct {
	Name      string
	Dims      []int64
	Precision tensor.Precision
}

// NamedTensor pairs an output alias with the Tensor produced under it.
type NamedTensor struct {
	Name   string
	Tensor *tensor.Tensor
}

// outstandingAllocations counts library-owned output Tensors that have
// been produced by Execute but not yet released. It backs the debug-mode
// allocation counter: it returns to zero once every ExecuteResult has
// been closed.
var outstandingAllocations atomic.Int64

// OutstandingAllocations reports the number of library-owned output
// Tensors awaiting release.
func OutstandingAllocations() int64 {
	return outstandingAllocations.Load()
}

// ExecuteResult is the outcome of one successful Library.Execute call.
// Outputs is ready to hand to the scheduler. Any native allocation the
// ABI call made has already been released by the time Execute returns.
// Close releases every output not yet released; the custom node
// (pkg/dag executeCustom) calls it once Execute returns, on success and
// error paths alike, so a non-OK status can't leak this node's
// allocations.
type ExecuteResult struct {
	Outputs []NamedTensor
	closed  bool
}

func newExecuteResult(outputs []NamedTensor) *ExecuteResult {
	outstandingAllocations.Add(int64(len(outputs)))
	return &ExecuteResult{Outputs: outputs}
}

// NewExecuteResult builds an ExecuteResult from a Library implementation's
// already-owned outputs. Exported for in-process Library implementations
// (internal/customnodes) that have no native allocation to defer; use
// NewOutputOwner when constructing each output Tensor so the debug
// allocation counter still tracks them like any other library output.
func NewExecuteResult(outputs []NamedTensor) *ExecuteResult {
	return newExecuteResult(outputs)
}

// Close force-releases any output Tensor not already released. Safe to
// call more than once and safe to call after some/all outputs have
// already been released individually.
func (r *ExecuteResult) Close() error {
	if r == nil || r.closed {
		return nil
	}
	r.closed = true
	for _, o := range r.Outputs {
		if o.Tensor == nil {
			continue
		}
		// Release returns an error when already released by its
		// consumer; that's the expected, common case here.
		_ = o.Tensor.Release()
	}
	return nil
}

// OutputOwner is the tensor.Owner attached to every Tensor a Library
// produces. Releasing it decrements the debug allocation counter; any
// native resource has already been released by the time the ABI call
// returned (see DynamicLibrary.Execute), so there is nothing left to
// free here beyond the bookkeeping.
type OutputOwner struct {
	lib Library
}

func (o OutputOwner) Name() string { return o.lib.Name() }

func (o OutputOwner) Release(*tensor.Tensor) error {
	outstandingAllocations.Add(-1)
	return nil
}

// NewOutputOwner returns the Owner Execute implementations should pass
// to tensor.New for each output they produce.
func NewOutputOwner(lib Library) tensor.Owner { return OutputOwner{lib: lib} }

// Library is the stable four-function contract a custom node calls
// into: execute, getInputsInfo, getOutputsInfo, and (internally, via
// the Tensor.Release of each output) release. Two implementations
// exist: a cgo-backed DynamicLibrary loaded from a shared object, and
// the in-process Go libraries under internal/customnodes used by tests
// and the reference deployment so the demultiplex/gather scenarios
// don't require a real .so on disk.
type Library interface {
	Execute(inputs []NamedTensor, params []Param) (*ExecuteResult, error)
	GetInputsInfo(params []Param) ([]TensorInfo, error)
	GetOutputsInfo(params []Param) ([]TensorInfo, error)
	// Name identifies the library for logging and as a Tensor Owner.
	Name() string
}
