package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePrecisionRoundTrip(t *testing.T) {
	for p := range precisionNames {
		got, ok := ParsePrecision(p.String())
		assert.True(t, ok)
		assert.Equal(t, p, got)
	}
}

func TestParsePrecisionUnknown(t *testing.T) {
	_, ok := ParsePrecision("NOT_A_PRECISION")
	assert.False(t, ok)
}
