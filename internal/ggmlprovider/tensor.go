package ggmlprovider

// #include <stdlib.h>
// #include "llama.h"
// #include "ggml.h"
// #include "gguf.h"
import "C"

import (
	"fmt"
	"unsafe"
)

type ggmlTensor struct {
	p *C.struct_ggml_tensor
}

func (ctx *ggmlContext) newTensor1D(numElements int) (*ggmlTensor, error) {
	p := C.ggml_new_tensor_1d(ctx.p, C.GGML_TYPE_F32, C.int64_t(numElements))
	if p == nil {
		return nil, fmt.Errorf("failed to create GGML tensor with %d elements", numElements)
	}
	return &ggmlTensor{p: p}, nil
}

func (t *ggmlTensor) nelements() int64 {
	return int64(C.ggml_nelements(t.p))
}

func (t *ggmlTensor) isContiguous() bool {
	return bool(C.ggml_is_contiguous(t.p))
}

func (t *ggmlTensor) setValues(values []float32) error {
	if !t.isContiguous() {
		return fmt.Errorf("tensor is not contiguous")
	}
	if n := t.nelements(); n != int64(len(values)) {
		return fmt.Errorf("tensor has %d elements, but %d values were provided", n, len(values))
	}
	data := unsafe.Pointer(C.ggml_get_data_f32(t.p))
	for i := range values {
		*(*float32)(data) = values[i]
		data = unsafe.Pointer(uintptr(data) + 4)
	}
	return nil
}

func (t *ggmlTensor) values() ([]float32, error) {
	if !t.isContiguous() {
		return nil, fmt.Errorf("tensor is not contiguous")
	}
	out := make([]float32, t.nelements())
	data := unsafe.Pointer(C.ggml_get_data_f32(t.p))
	for i := range out {
		out[i] = *(*float32)(data)
		data = unsafe.Pointer(uintptr(data) + 4)
	}
	return out, nil
}
