// Package tensor implements the carrier of a shape, element type and
// owned byte buffer that flows between pipeline nodes.
package tensor

import (
	"fmt"
)

// Owner releases the backing buffer of a Tensor it produced. The core
// allocator (Go's GC) is represented by CoreOwner, a no-op; a NodeLibrary
// handle is the other concrete Owner, calling back into native code.
type Owner interface {
	// Release is called exactly once per Tensor this Owner produced.
	Release(t *Tensor) error
	// Name identifies the owner for logging/debugging.
	Name() string
}

type coreOwner struct{}

func (coreOwner) Release(*Tensor) error { return nil }
func (coreOwner) Name() string          { return "core" }

// CoreOwner is the Owner for Tensors allocated by the pipeline runtime
// itself (EntryNode materialization, shard splits, gather concatenation)
// rather than by a NodeLibrary or the model provider.
var CoreOwner Owner = coreOwner{}

// Tensor is the value that flows along edges of the pipeline graph.
//
// Invariant: len(Data) == Elements() * sizeof(Precision).
type Tensor struct {
	Precision Precision
	Dims      []int64
	Data      []byte

	owner    Owner
	released bool
}

// New validates and constructs a Tensor. It is the single path that
// enforces the byte-length invariant; callers that already trust their
// inputs (e.g. the shard splitter) may still call it to keep the check
// centralized.
func New(precision Precision, dims []int64, data []byte, owner Owner) (*Tensor, error) {
	if len(dims) == 0 {
		return nil, fmt.Errorf("tensor has no dimensions")
	}
	for _, d := range dims {
		if d < 1 {
			return nil, fmt.Errorf("tensor dimension %d is not >= 1", d)
		}
	}
	size, ok := precision.SizeOf()
	if !ok {
		return nil, fmt.Errorf("unrecognized precision %v", precision)
	}
	want := size
	for _, d := range dims {
		want *= int(d)
	}
	if want != len(data) {
		return nil, fmt.Errorf("tensor byte length %d does not match shape %v of precision %v (want %d)", len(data), dims, precision, want)
	}
	if owner == nil {
		owner = CoreOwner
	}
	return &Tensor{Precision: precision, Dims: append([]int64(nil), dims...), Data: data, owner: owner}, nil
}

// Elements returns the product of the dimension vector.
func (t *Tensor) Elements() int64 {
	n := int64(1)
	for _, d := range t.Dims {
		n *= d
	}
	return n
}

// Owner returns who must release this Tensor's buffer.
func (t *Tensor) Owner() Owner {
	return t.owner
}

// Release returns the Tensor's buffer to its owner. It is single-use:
// calling it twice is a programmer error surfaced as an error rather
// than a double-free, since the runtime tracks allocation handles
// precisely to avoid that.
func (t *Tensor) Release() error {
	if t.released {
		return fmt.Errorf("tensor already released")
	}
	t.released = true
	if t.owner == nil {
		return nil
	}
	return t.owner.Release(t)
}

// Slice returns the sub-tensor at index idx along axis 0 of a tensor
// shaped [K, d1, ..., dn], used by the demultiplexer to carve shards out
// of the producing node's output. The returned Tensor shares
// the CoreOwner and is a view backed by the same underlying array; shards
// are read-only by convention so no copy is needed.
func (t *Tensor) Slice(idx int64) (*Tensor, error) {
	if len(t.Dims) < 2 {
		return nil, fmt.Errorf("cannot shard a tensor with %d dimensions, need >= 2", len(t.Dims))
	}
	k := t.Dims[0]
	if idx < 0 || idx >= k {
		return nil, fmt.Errorf("shard index %d out of range [0,%d)", idx, k)
	}
	size, ok := t.Precision.SizeOf()
	if !ok {
		return nil, fmt.Errorf("unrecognized precision %v", t.Precision)
	}
	shardDims := append([]int64(nil), t.Dims[1:]...)
	shardElems := int64(1)
	for _, d := range shardDims {
		shardElems *= d
	}
	shardBytes := shardElems * int64(size)
	start := idx * shardBytes
	return &Tensor{
		Precision: t.Precision,
		Dims:      shardDims,
		Data:      t.Data[start : start+shardBytes],
		owner:     CoreOwner,
	}, nil
}

// Concat reassembles K shards of identical shape [d1,...,dn] into a
// single tensor shaped [K, d1, ..., dn], the gather-side counterpart of
// Slice.
func Concat(shards []*Tensor) (*Tensor, error) {
	if len(shards) == 0 {
		return nil, fmt.Errorf("cannot concat zero shards")
	}
	first := shards[0]
	for i, s := range shards[1:] {
		if s.Precision != first.Precision {
			return nil, fmt.Errorf("shard %d precision %v does not match shard 0 precision %v", i+1, s.Precision, first.Precision)
		}
		if len(s.Dims) != len(first.Dims) {
			return nil, fmt.Errorf("shard %d has %d dims, shard 0 has %d", i+1, len(s.Dims), len(first.Dims))
		}
		for axis := range s.Dims {
			if s.Dims[axis] != first.Dims[axis] {
				return nil, fmt.Errorf("shard %d dim %d is %d, shard 0 dim %d is %d", i+1, axis, s.Dims[axis], axis, first.Dims[axis])
			}
		}
	}
	dims := append([]int64{int64(len(shards))}, first.Dims...)
	data := make([]byte, 0, len(first.Data)*len(shards))
	for _, s := range shards {
		data = append(data, s.Data...)
	}
	return &Tensor{Precision: first.Precision, Dims: dims, Data: data, owner: CoreOwner}, nil
}
