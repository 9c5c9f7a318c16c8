package status

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusOk(t *testing.T) {
	var nilStatus *Status
	assert.True(t, nilStatus.Ok())

	ok := &Status{Code: OK}
	assert.True(t, ok.Ok())

	bad := New(ModelMissing, "model %q not found", "resnet")
	assert.False(t, bad.Ok())
	assert.Equal(t, "MODEL_MISSING: model \"resnet\" not found", bad.Error())
}

func TestStatusOfWrapsPlainErrors(t *testing.T) {
	plain := fmt.Errorf("boom")
	st := Of(plain)
	require.NotNil(t, st)
	assert.Equal(t, UnknownError, st.Code)

	wrapped := fmt.Errorf("loading library: %w", New(NodeLibraryInvalidPath, "contains .."))
	st = Of(wrapped)
	require.NotNil(t, st)
	assert.Equal(t, NodeLibraryInvalidPath, st.Code)
}
