package ggmlprovider

import (
	"math"

	"github.com/modelmesh/pipelinecore/pkg/tensor"
)

func floatsFromTensor(t *tensor.Tensor) []float32 {
	n := int(t.Elements())
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(t.Data[i*4]) | uint32(t.Data[i*4+1])<<8 | uint32(t.Data[i*4+2])<<16 | uint32(t.Data[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func tensorFromFloats(dims []int64, values []float32) (*tensor.Tensor, error) {
	data := make([]byte, len(values)*4)
	for i, v := range values {
		bits := math.Float32bits(v)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return tensor.New(tensor.FP32, dims, data, tensor.CoreOwner)
}
