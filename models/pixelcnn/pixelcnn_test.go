package pixelcnn

import (
	"math"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func testContext() *context.Context {
	ctx := CreateDefaultContext()
	ctx.SetParams(map[string]any{
		ParamHiddenSize:         8,
		ParamNrResnet:           1,
		layers.ParamDropoutRate: 0.0,
	})
	return ctx
}

func testImages(batch, size int) [][][][]float32 {
	images := make([][][][]float32, batch)
	value := float32(0)
	for b := range images {
		images[b] = make([][][]float32, size)
		for i := range images[b] {
			images[b][i] = make([][]float32, size)
			for j := range images[b][i] {
				images[b][i][j] = []float32{value}
				value += 0.01
			}
		}
	}
	return images
}

// The scale head must stay strictly above the floor for any finite input.
func TestScaleFloor(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	got, err := ExecOnce(backend, func(x *Node) *Node {
		return AddScalar(Softplus(x), ScaleFloor)
	}, []float64{-1e6, -100, -10, 0, 10, 100})
	require.NoError(t, err)
	for _, scale := range got.Value().([]float64) {
		assert.Greater(t, scale, 0.0)
		assert.GreaterOrEqual(t, scale, ScaleFloor)
	}
}

// The reported per-example loss must match the Independent-Normal negative
// log-likelihood recomputed from the network's own loc and scale outputs.
func TestLossMatchesNLL(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := testContext()

	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, images *Node) []*Node {
		outputs := BuildTrainGraph(ctx, nil, []*Node{images, images})
		return outputs
	})
	images := testImages(2, 4)
	results := exec.Call(images)
	require.Len(t, results, 2)

	output := results[0].Value().([][][][]float32)
	losses := results[1].Value().([]float32)
	require.Len(t, losses, 2)

	for b := 0; b < 2; b++ {
		nll := 0.0
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				loc := float64(output[b][i][j][0])
				scale := math.Log1p(math.Exp(float64(output[b][i][j][1]))) + ScaleFloor
				x := float64(images[b][i][j][0])
				z := (x - loc) / scale
				nll += 0.5*z*z + math.Log(scale) + 0.5*math.Log(2*math.Pi)
			}
		}
		assert.InDelta(t, nll, float64(losses[b]), 1e-2)
	}
}

// Perturbing a pixel must not change the network output at that pixel nor
// at any earlier pixel in raster order.
func TestCausality(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := testContext()

	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, a, b *Node) []*Node {
		outA, _ := Distribution(ctx, a)
		outB, _ := Distribution(ctx, b)
		return []*Node{outA, outB}
	})

	original := testImages(1, 4)
	perturbed := testImages(1, 4)
	perturbed[0][3][3][0] += 100.0
	results := exec.Call(original, perturbed)

	outA := results[0].Value().([][][][]float32)
	outB := results[1].Value().([][][][]float32)
	// The last raster pixel influences nothing, not even its own output.
	assert.Equal(t, outA, outB)

	perturbed = testImages(1, 4)
	perturbed[0][0][0][0] += 100.0
	results = exec.Call(original, perturbed)
	outA = results[0].Value().([][][][]float32)
	outB = results[1].Value().([][][][]float32)
	// The first pixel's own output is independent of its value...
	assert.Equal(t, outA[0][0][0], outB[0][0][0])
	// ...but some later pixel must see the change.
	assert.NotEqual(t, outA, outB)
}

// End-to-end: a small batch trains to finite losses, no NaN.
func TestTrainGraphFiniteLoss(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := testContext()

	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, images *Node) *Node {
		return BuildTrainGraph(ctx, nil, []*Node{images, images})[1]
	})
	losses := exec.Call(testImages(4, 8))[0].Value().([]float32)
	require.Len(t, losses, 4)
	for _, loss := range losses {
		assert.False(t, math.IsNaN(float64(loss)) || math.IsInf(float64(loss), 0),
			"per-example loss must be finite, got %v", loss)
	}
}

func TestPackImages(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	images := [][][][]float32{
		{{{0}, {1}}, {{2}, {3}}},
		{{{10}, {11}}, {{12}, {13}}},
		{{{20}, {21}}, {{22}, {23}}},
		{{{30}, {31}}, {{32}, {33}}},
	}
	packed, err := ExecOnce(backend, func(x *Node) *Node {
		return PackImages(x, 2, 2)
	}, images)
	require.NoError(t, err)
	require.NoError(t, packed.Shape().CheckDims(1, 4, 4, 1))

	got := packed.Value().([][][][]float32)
	want := [][]float32{
		{0, 1, 10, 11},
		{2, 3, 12, 13},
		{20, 21, 30, 31},
		{22, 23, 32, 33},
	}
	for i, row := range want {
		for j, value := range row {
			assert.Equal(t, value, got[0][i][j][0], "pixel (%d, %d)", i, j)
		}
	}
}

// Rows and cols are clipped to the batch: a batch of 3 in a 2x2 grid keeps
// only the first 2 images.
func TestPackImagesClipsToBatch(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	packed, err := ExecOnce(backend, func(x *Node) *Node {
		return PackImages(x, 2, 2)
	}, testImages(3, 2))
	require.NoError(t, err)
	require.NoError(t, packed.Shape().CheckDims(1, 4, 2, 1))
}
