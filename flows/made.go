// Package flows implements normalizing flows as graph-building bijectors:
// invertible transforms with tractable log-determinant Jacobians, composed
// into a distributions.Transformed over a latent vector space.
//
// The main entry point is MaskedAutoregressiveFlow, which stacks masked
// autoregressive (MAF) blocks interleaved with fixed permutations of the
// latent dimensions.
package flows

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// inputDegrees assigns autoregressive degrees 1..dim to the latent inputs,
// followed by degree 0 for every conditioning unit. Degree 0 units are
// visible to all outputs, which is how conditioning bypasses the
// autoregressive masking.
func inputDegrees(dim, conditioningDim int) []int {
	degrees := make([]int, dim+conditioningDim)
	for i := 0; i < dim; i++ {
		degrees[i] = i + 1
	}
	return degrees
}

// hiddenDegrees cycles hidden unit degrees through 1..dim-1, matching the
// usual MADE assignment. Degrees never reach dim: a hidden unit of degree
// dim could only feed outputs past the last latent dimension.
func hiddenDegrees(numUnits, dim int) []int {
	degrees := make([]int, numUnits)
	modulo := max(1, dim-1)
	for j := range degrees {
		degrees[j] = j%modulo + 1
	}
	return degrees
}

// outputDegrees repeats 1..dim once per output parameter (shift and
// log-scale), so each parameter pair shares the strict masking of its
// latent dimension.
func outputDegrees(dim, numParams int) []int {
	degrees := make([]int, dim*numParams)
	for p := 0; p < numParams; p++ {
		for i := 0; i < dim; i++ {
			degrees[p*dim+i] = i + 1
		}
	}
	return degrees
}

// maskedDense is a dense layer whose weights are multiplied by a binary
// autoregressive mask derived from the unit degrees. With strict=false the
// mask admits connections where outDegree >= inDegree (hidden layers); with
// strict=true only outDegree > inDegree survives (the output layer), which
// makes each output independent of its own input dimension.
func maskedDense(ctx *context.Context, x *Node, inDegrees, outDegrees []int, strict bool) *Node {
	g := x.Graph()
	dtype := x.DType()
	inputDim, outputDim := len(inDegrees), len(outDegrees)
	x.AssertDims(-1, inputDim)

	mask := make([][]float64, inputDim)
	for i, inDeg := range inDegrees {
		mask[i] = make([]float64, outputDim)
		for j, outDeg := range outDegrees {
			if (strict && outDeg > inDeg) || (!strict && outDeg >= inDeg) {
				mask[i][j] = 1
			}
		}
	}

	weightsVar := ctx.VariableWithShape("weights", shapes.Make(dtype, inputDim, outputDim))
	biasesVar := ctx.VariableWithShape("biases", shapes.Make(dtype, outputDim))
	weights := Mul(weightsVar.ValueGraph(g), ConvertDType(Const(g, mask), dtype))
	return Add(DotProduct(x, weights), InsertAxes(biasesVar.ValueGraph(g), 0))
}

// shiftAndLogScale runs the MADE conditioner network: it maps the current
// latent vector x (shape [batch, dim]) plus an unconstrained conditioning
// vector to per-dimension shift and log-scale, each of shape [batch, dim].
// The output layer is zero-initialized so a freshly created flow is the
// identity transform.
func shiftAndLogScale(ctx *context.Context, x, conditioning *Node, dim int,
	hiddenLayers []int, activation activations.Type) (shift, logScale *Node) {
	conditioningDim := 0
	if conditioning != nil {
		conditioningDim = conditioning.Shape().Dim(-1)
		x = Concatenate([]*Node{x, conditioning}, -1)
	}
	degrees := inputDegrees(dim, conditioningDim)
	for i, numUnits := range hiddenLayers {
		nextDegrees := hiddenDegrees(numUnits, dim)
		x = maskedDense(ctx.Inf("hidden_%d", i), x, degrees, nextDegrees, false)
		x = activations.Apply(activation, x)
		degrees = nextDegrees
	}
	outputCtx := ctx.In("shift_and_log_scale").WithInitializer(initializers.Zero)
	x = maskedDense(outputCtx, x, degrees, outputDegrees(dim, 2), true)
	parts := Split(x, -1, 2)
	return parts[0], parts[1]
}
