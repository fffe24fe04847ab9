package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSampleSizeClassicInputs(t *testing.T) {
	n := SampleSize(0.05, 0.2, 0.05, 0.8)
	assert.Equal(t, 8155, n)
}

func TestSampleSizeDeterministic(t *testing.T) {
	first := SampleSize(0.05, 0.2, 0.05, 0.8)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, SampleSize(0.05, 0.2, 0.05, 0.8))
	}
	assert.Positive(t, first)
}

func TestSampleSizeLargerEffectNeedsFewerSamples(t *testing.T) {
	small := SampleSize(0.05, 0.1, 0.05, 0.8)
	large := SampleSize(0.05, 0.5, 0.05, 0.8)
	assert.Greater(t, small, large)
}

func TestSampleSizeDegenerateInputs(t *testing.T) {
	assert.Zero(t, SampleSize(0, 0.2, 0.05, 0.8))
	assert.Zero(t, SampleSize(1, 0.2, 0.05, 0.8))
	assert.Zero(t, SampleSize(-0.1, 0.2, 0.05, 0.8))
	assert.Zero(t, SampleSize(0.05, 0, 0.05, 0.8))
	assert.Zero(t, SampleSize(0.5, -2, 0.05, 0.8))
}

func TestSampleSizeDefaultsOutOfRangeAlphaAndPower(t *testing.T) {
	withDefaults := SampleSize(0.05, 0.2, 0, 0)
	explicit := SampleSize(0.05, 0.2, DefaultAlpha, DefaultPower)
	assert.Equal(t, explicit, withDefaults)
}
