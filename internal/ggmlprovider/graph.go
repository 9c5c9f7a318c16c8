package ggmlprovider

// #include <stdlib.h>
// #include "llama.h"
// #include "ggml.h"
// #include "gguf.h"
import "C"

import (
	"errors"
	"fmt"
)

type ggmlGraph struct {
	p *C.struct_ggml_cgraph
}

func (ctx *ggmlContext) newGraph() (*ggmlGraph, error) {
	p := C.ggml_new_graph(ctx.p)
	if p == nil {
		return nil, errors.New("failed to create GGML graph")
	}
	return &ggmlGraph{p: p}, nil
}

func (g *ggmlGraph) buildForwardExpand(result *ggmlTensor) {
	C.ggml_build_forward_expand(g.p, result.p)
}

func (g *ggmlGraph) compute(ctx *ggmlContext, numThreads int) error {
	status := C.ggml_graph_compute_with_ctx(ctx.p, g.p, C.int(numThreads))
	if status != 0 {
		return fmt.Errorf("ggml graph compute failed (status %d)", status)
	}
	return nil
}
