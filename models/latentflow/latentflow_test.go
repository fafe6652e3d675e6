package latentflow

import (
	"math"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

type testSpec struct{ names []string }

func (s *testSpec) FeatureNames() []string { return s.names }

func testContext(t *testing.T) (*context.Context, Config) {
	ctx := CreateDefaultContext()
	ctx.SetParams(map[string]any{
		ParamLatentSize:      2,
		ParamNumHiddenLayers: 1,
		ParamHiddenSize:      8,
	})
	cfg, err := ConfigFromContext(ctx)
	require.NoError(t, err)
	return ctx, cfg
}

func testBatch(batch, size int) (images [][][][]float32, attr []float32) {
	images = make([][][][]float32, batch)
	attr = make([]float32, batch)
	for b := range images {
		images[b] = make([][][]float32, size)
		for i := range images[b] {
			images[b][i] = make([][]float32, size)
			for j := range images[b][i] {
				images[b][i][j] = []float32{float32(b+i+j) * 0.01}
			}
		}
		attr[b] = float32(b)
	}
	return
}

func TestConfigFromContext(t *testing.T) {
	ctx := CreateDefaultContext()
	cfg, err := ConfigFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.LatentSize)
	assert.Equal(t, 4, cfg.NumHiddenLayers)
	assert.Equal(t, 512, cfg.HiddenSize)
	assert.Equal(t, []string{"mag", "re", "q"}, cfg.Attributes)
	assert.True(t, cfg.EncodePSF)
	assert.Equal(t, FlowMAF, cfg.Kind)
	assert.Empty(t, cfg.EncoderModule, "the encoder module has no default")

	ctx.SetParam(ParamFlowKind, "real_nvp")
	_, err = ConfigFromContext(ctx)
	require.ErrorContains(t, err, "real_nvp")
}

func TestTrainGraph(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx, cfg := testContext(t)
	spec := &testSpec{names: []string{"inputs", "psf", "mag", "re", "q"}}
	modelFn := TrainGraphBuilder(cfg)

	exec := context.MustNewExec(backend, ctx,
		func(ctx *context.Context, inputs []*Node) []*Node {
			return modelFn(ctx, spec, inputs)
		})

	images, mag := testBatch(4, 8)
	psf, re := testBatch(4, 8)
	_, q := testBatch(4, 8)
	results := exec.Call([]any{images, psf, mag, re, q}...)
	require.Len(t, results, 3)

	require.NoError(t, results[0].Shape().CheckDims(4, 2), "samples are [batch, latent_size]")
	losses := results[1].Value().([]float32)
	require.Len(t, losses, 4)
	for _, loss := range losses {
		assert.False(t, math.IsNaN(float64(loss)) || math.IsInf(float64(loss), 0))
	}
	require.True(t, results[2].Shape().IsScalar(), "mean loglikelihood is a scalar")
	meanLL := float64(results[2].Value().(float32))
	assert.False(t, math.IsNaN(meanLL))
}

// A conditioning attribute the dataset does not provide fails at graph
// construction with a key-lookup panic.
func TestMissingAttributePanics(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx, cfg := testContext(t)
	cfg.Attributes = []string{"mag", "sersic_index"}
	spec := &testSpec{names: []string{"inputs", "mag"}}
	modelFn := TrainGraphBuilder(cfg)

	exec := context.MustNewExec(backend, ctx,
		func(ctx *context.Context, inputs []*Node) []*Node {
			return modelFn(ctx, spec, inputs)
		})
	images, mag := testBatch(2, 8)
	assert.Panics(t, func() {
		exec.Call([]any{images, mag}...)
	})
}

func TestCodeSampler(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx, cfg := testContext(t)

	sampler, err := NewCodeSampler(backend, ctx, cfg)
	require.NoError(t, err)

	codes, err := sampler.Sample(map[string][]float32{
		"mag": {20, 21, 22},
		"re":  {0.5, 1.0, 1.5},
		"q":   {0.8, 0.9, 1.0},
	})
	require.NoError(t, err)
	require.NoError(t, codes.Shape().CheckDims(3, 2))

	_, err = sampler.Sample(map[string][]float32{"mag": {20}})
	require.ErrorContains(t, err, "re")

	_, err = sampler.Sample(map[string][]float32{
		"mag": {20, 21},
		"re":  {0.5},
		"q":   {0.8, 0.9},
	})
	require.Error(t, err, "mismatched attribute lengths must fail")
}

func TestCodeSamplerRequiresAttributes(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx, cfg := testContext(t)
	cfg.Attributes = nil
	_, err := NewCodeSampler(backend, ctx, cfg)
	require.ErrorContains(t, err, ParamAttributes)
}

func TestFreezeEncoder(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx, _ := testContext(t)

	exec := context.MustNewExec(backend, ctx,
		func(ctx *context.Context, images *Node) *Node {
			return EncodeGraph(ctx, images, nil, 2)
		})
	images, _ := testBatch(2, 8)
	codes := exec.Call(images)[0]
	require.NoError(t, codes.Shape().CheckDims(2, 2))

	FreezeEncoder(ctx)
	frozen := 0
	ctx.In(EncoderScope).EnumerateVariablesInScope(func(v *context.Variable) {
		frozen++
		assert.False(t, v.Trainable, "encoder variable %q must be frozen", v.Name())
	})
	assert.Greater(t, frozen, 0, "the encoder must own variables")
}

func TestLoadEncoderRequiresModule(t *testing.T) {
	ctx, _ := testContext(t)
	err := LoadEncoderInto(ctx, "")
	require.ErrorContains(t, err, ParamEncoderModule)
}
