// Package ggmlprovider binds the ggml tensor library via cgo into a
// dag.ModelProvider: instead of driving an LLM decode graph, each
// registered model is a single ggml primitive (add, mul, rms_norm)
// applied to the tensors a DLNode hands it. The underlying inference
// engine is out of scope; this is one concrete, swappable
// implementation behind the ModelProvider seam.
//
// Building this package requires the llama.cpp/ggml headers and static
// libraries; callers that only need a pure-Go reference model should
// use internal/fallbackprovider instead.
package ggmlprovider

// #cgo CFLAGS: -O3 -DNDEBUG -I llama.cpp/include -I llama.cpp/ggml/include
// #cgo LDFLAGS: -L llama.cpp/build/src -L llama.cpp/build/ggml/src -L llama.cpp/build/common -l llama -l ggml -l ggml-base -l ggml-cpu -l common -l m -l stdc++ -framework Accelerate
// #include <stdlib.h>
// #include "llama.h"
// #include "ggml.h"
// #include "gguf.h"
import "C"

import "errors"

func newInitParams(memorySize int) C.struct_ggml_init_params {
	return C.struct_ggml_init_params{
		mem_size:   C.size_t(memorySize),
		mem_buffer: nil,
		no_alloc:   false,
	}
}

// ggmlContext owns one scratch arena for the lifetime of a single Infer
// call; it is never shared across calls.
type ggmlContext struct {
	p *C.struct_ggml_context
}

func newGgmlContext(memorySize int) (*ggmlContext, error) {
	p := C.ggml_init(newInitParams(memorySize))
	if p == nil {
		return nil, errors.New("failed to initialize GGML context")
	}
	return &ggmlContext{p: p}, nil
}

func (ctx *ggmlContext) add(a, b *ggmlTensor) *ggmlTensor {
	return &ggmlTensor{p: C.ggml_add(ctx.p, a.p, b.p)}
}

func (ctx *ggmlContext) mul(a, b *ggmlTensor) *ggmlTensor {
	return &ggmlTensor{p: C.ggml_mul(ctx.p, a.p, b.p)}
}

func (ctx *ggmlContext) rmsNorm(a *ggmlTensor, eps float32) *ggmlTensor {
	return &ggmlTensor{p: C.ggml_rms_norm(ctx.p, a.p, C.float(eps))}
}

func (ctx *ggmlContext) free() {
	if ctx.p == nil {
		return
	}
	C.ggml_free(ctx.p)
	ctx.p = nil
}
