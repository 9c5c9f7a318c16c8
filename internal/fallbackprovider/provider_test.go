package fallbackprovider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelmesh/pipelinecore/pkg/status"
	"github.com/modelmesh/pipelinecore/pkg/tensor"
)

func TestRMSNormModel(t *testing.T) {
	p := New([]ModelSpec{
		{Name: "rmsnorm", Op: OpRMSNorm, InputAlias: "x", OutputAlias: "y"},
	})

	instance, err := p.GetInstance(context.Background(), "rmsnorm", nil)
	require.NoError(t, err)

	x, err := tensorFromFloats([]int64{3}, []float32{1, 2, 3})
	require.NoError(t, err)

	outputs, err := instance.Infer(context.Background(), map[string]*tensor.Tensor{"x": x})
	require.NoError(t, err)

	got := floatsFromTensor(outputs["y"])
	want := []float32{0.46290955, 0.9258191, 1.3887286}
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 0.00001)
	}
}

func TestLinearScaleModel(t *testing.T) {
	p := New([]ModelSpec{
		{Name: "scale2", Op: OpLinearScale, InputAlias: "x", OutputAlias: "y", Scale: 2.5},
	})

	instance, err := p.GetInstance(context.Background(), "scale2", nil)
	require.NoError(t, err)

	x, err := tensorFromFloats([]int64{4}, []float32{1, -2, 0, 3})
	require.NoError(t, err)

	outputs, err := instance.Infer(context.Background(), map[string]*tensor.Tensor{"x": x})
	require.NoError(t, err)

	got := floatsFromTensor(outputs["y"])
	want := []float32{2.5, -5, 0, 7.5}
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 0.00001)
	}
}

func TestGetInstanceUnknownModel(t *testing.T) {
	p := New(nil)
	_, err := p.GetInstance(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Equal(t, status.ModelMissing, status.Of(err).Code)
}

func TestGetInstanceUnknownVersion(t *testing.T) {
	p := New([]ModelSpec{{Name: "rmsnorm", Version: 0, Op: OpRMSNorm, InputAlias: "x", OutputAlias: "y"}})
	v := int64(3)
	_, err := p.GetInstance(context.Background(), "rmsnorm", &v)
	require.Error(t, err)
	assert.Equal(t, status.ModelVersionMissing, status.Of(err).Code)
}

func TestModelExists(t *testing.T) {
	p := New([]ModelSpec{{Name: "rmsnorm", Version: 0, Op: OpRMSNorm, InputAlias: "x", OutputAlias: "y"}})
	assert.True(t, p.ModelExists("rmsnorm", nil))
	v := int64(0)
	assert.True(t, p.ModelExists("rmsnorm", &v))
	assert.False(t, p.ModelExists("other", nil))
}
