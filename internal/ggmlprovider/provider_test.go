package ggmlprovider

import (
	"context"
	"math"
	"testing"

	"github.com/modelmesh/pipelinecore/pkg/status"
	"github.com/modelmesh/pipelinecore/pkg/tensor"
)

func floatsEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if math.Abs(float64(v-b[i])) > 0.00001 {
			return false
		}
	}
	return true
}

func TestRMSNormModel(t *testing.T) {
	p := New([]ModelSpec{
		{Name: "rmsnorm", Op: OpRMSNorm, InputAliases: []string{"x"}, OutputAlias: "y"},
	})

	instance, err := p.GetInstance(context.Background(), "rmsnorm", nil)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}

	x, err := tensorFromFloats([]int64{3}, []float32{1, 2, 3})
	if err != nil {
		t.Fatalf("tensorFromFloats: %v", err)
	}

	outputs, err := instance.Infer(context.Background(), map[string]*tensor.Tensor{"x": x})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}

	got := floatsFromTensor(outputs["y"])
	want := []float32{0.46290955, 0.9258191, 1.3887286}
	if !floatsEqual(got, want) {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestAddModel(t *testing.T) {
	p := New([]ModelSpec{
		{Name: "adder", Op: OpAdd, InputAliases: []string{"a", "b"}, OutputAlias: "sum"},
	})

	instance, err := p.GetInstance(context.Background(), "adder", nil)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}

	a, _ := tensorFromFloats([]int64{2}, []float32{1, 2})
	b, _ := tensorFromFloats([]int64{2}, []float32{10, 20})

	outputs, err := instance.Infer(context.Background(), map[string]*tensor.Tensor{"a": a, "b": b})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	got := floatsFromTensor(outputs["sum"])
	want := []float32{11, 22}
	if !floatsEqual(got, want) {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestGetInstanceUnknownModel(t *testing.T) {
	p := New(nil)
	_, err := p.GetInstance(context.Background(), "missing", nil)
	if err == nil {
		t.Fatalf("expected error for unknown model")
	}
	if status.Of(err).Code != status.ModelMissing {
		t.Errorf("expected ModelMissing, got %v", status.Of(err).Code)
	}
}

func TestGetInstanceUnknownVersion(t *testing.T) {
	p := New([]ModelSpec{{Name: "rmsnorm", Version: 0, Op: OpRMSNorm, InputAliases: []string{"x"}, OutputAlias: "y"}})
	v := int64(7)
	_, err := p.GetInstance(context.Background(), "rmsnorm", &v)
	if err == nil {
		t.Fatalf("expected error for unknown version")
	}
	if status.Of(err).Code != status.ModelVersionMissing {
		t.Errorf("expected ModelVersionMissing, got %v", status.Of(err).Code)
	}
}
