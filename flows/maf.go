package flows

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"

	"github.com/EiffL/Galaxy2Galaxy/distributions"
)

// MAF is a masked autoregressive flow bijector over [batch, dim] vectors.
//
// The inverse direction (data to base noise) is a single pass through the
// MADE conditioner, so density evaluation is cheap. The forward direction
// (sampling) unrolls dim sequential passes, fixing one latent dimension per
// pass; with dim in the tens this stays a reasonably sized graph.
//
// All passes share variables under the same context scope, so the bijector
// can be invoked in both directions on the same graph.
type MAF struct {
	ctx          *context.Context
	conditioning *Node
	dim          int
	hiddenLayers []int
	activation   activations.Type
}

var _ distributions.Bijector = (*MAF)(nil)

// NewMAF creates a masked autoregressive flow bijector whose conditioner
// network lives under the given context scope. The conditioning node may be
// nil for an unconditional flow.
func NewMAF(ctx *context.Context, conditioning *Node, dim int,
	hiddenLayers []int, activation activations.Type) *MAF {
	return &MAF{
		ctx:          ctx,
		conditioning: conditioning,
		dim:          dim,
		hiddenLayers: hiddenLayers,
		activation:   activation,
	}
}

func (m *MAF) conditioner(x *Node) (shift, logScale *Node) {
	return shiftAndLogScale(m.ctx, x, m.conditioning, m.dim, m.hiddenLayers, m.activation)
}

// Forward maps base noise y to data space: x = y*exp(logScale(x)) + shift(x).
// Because shift and logScale for dimension i depend only on x[<i], iterating
// the update dim times converges exactly.
func (m *MAF) Forward(y *Node) *Node {
	y.AssertDims(-1, m.dim)
	x := ZerosLike(y)
	for i := 0; i < m.dim; i++ {
		shift, logScale := m.conditioner(x)
		x = Add(Mul(y, Exp(logScale)), shift)
	}
	return x
}

// Inverse maps data x to base noise: y = (x - shift(x)) * exp(-logScale(x)),
// in a single conditioner pass.
func (m *MAF) Inverse(x *Node) *Node {
	x.AssertDims(-1, m.dim)
	shift, logScale := m.conditioner(x)
	return Mul(Sub(x, shift), Exp(Neg(logScale)))
}

// InverseLogDetJacobian returns -sum(logScale(x)) per example, shape [batch].
func (m *MAF) InverseLogDetJacobian(x *Node) *Node {
	_, logScale := m.conditioner(x)
	return Neg(ReduceSum(logScale, -1))
}

// ForwardLogDetJacobian returns sum(logScale) evaluated at the forward image
// of y, shape [batch].
func (m *MAF) ForwardLogDetJacobian(y *Node) *Node {
	x := m.Forward(y)
	_, logScale := m.conditioner(x)
	return ReduceSum(logScale, -1)
}
