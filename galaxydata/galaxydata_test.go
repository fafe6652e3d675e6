package galaxydata

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EiffL/Galaxy2Galaxy/features"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestNew(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ds, err := New(backend, Config{NumExamples: 8, ImageSize: 16, WithPSF: true, Seed: 1})
	require.NoError(t, err)
	ds.BatchSize(4, true)

	spec, inputs, labels, err := ds.Yield()
	require.NoError(t, err)

	namer, ok := spec.(*Spec)
	require.True(t, ok, "dataset spec must carry the feature names")
	require.Equal(t, []string{
		features.Inputs, features.TargetsRaw, features.PSF,
		AttrMagnitude, AttrRadius, AttrEllipticity,
	}, namer.FeatureNames())
	require.Len(t, inputs, 6)
	require.Len(t, labels, 1)

	require.NoError(t, inputs[0].Shape().CheckDims(4, 16, 16, 1))
	require.NoError(t, inputs[2].Shape().CheckDims(4, 16, 16, 1))
	require.NoError(t, inputs[3].Shape().CheckDims(4))

	// Central pixel carries the profile peak.
	images := inputs[0].Value().([][][][]float32)
	for b := range images {
		center := images[b][8][8][0]
		assert.Greater(t, center, images[b][0][0][0], "flux must fall off from the center")
		assert.Greater(t, center, float32(0))
	}

	// Attributes stay in their sampling ranges.
	for _, mag := range inputs[3].Value().([]float32) {
		assert.GreaterOrEqual(t, mag, float32(20))
		assert.LessOrEqual(t, mag, float32(25))
	}
	for _, q := range inputs[5].Value().([]float32) {
		assert.GreaterOrEqual(t, q, float32(0.3))
		assert.LessOrEqual(t, q, float32(1.0))
	}
}

func TestNewWithoutPSF(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ds, err := New(backend, Config{NumExamples: 2, ImageSize: 8, Seed: 3})
	require.NoError(t, err)

	spec, inputs, _, err := ds.Yield()
	require.NoError(t, err)
	require.Len(t, inputs, 5)
	assert.NotContains(t, spec.(*Spec).FeatureNames(), features.PSF)
}

func TestNewRejectsBadConfig(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	_, err := New(backend, Config{NumExamples: 0, ImageSize: 16})
	require.Error(t, err)
	_, err = New(backend, Config{NumExamples: 4, ImageSize: 2})
	require.Error(t, err)
}

func TestSeedReproducibility(t *testing.T) {
	a := synthesize(Config{NumExamples: 4, ImageSize: 8, Seed: 7})
	b := synthesize(Config{NumExamples: 4, ImageSize: 8, Seed: 7})
	assert.True(t, a.images.Equal(b.images))
	c := synthesize(Config{NumExamples: 4, ImageSize: 8, Seed: 8})
	assert.False(t, a.images.Equal(c.images))
}
