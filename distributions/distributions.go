// Package distributions provides the probability-distribution objects used by
// the generative models: an elementwise Normal, an Independent wrapper that
// aggregates event axes, a standard diagonal multivariate Normal and a
// Transformed distribution, which pushes a base distribution through an
// invertible Bijector chain.
//
// All distributions operate on graph nodes and are rebuilt on every graph
// construction from the current parameters -- nothing here holds state.
package distributions

import (
	"math"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
)

// log(2π), the normalization constant of the Gaussian log-density.
var logTwoPi = math.Log(2 * math.Pi)

// Normal is an elementwise Gaussian with the given location and scale nodes.
// Loc and Scale must be broadcast-compatible with the values passed to LogProb.
type Normal struct {
	Loc, Scale *Node
}

// LogProb returns the elementwise log-density of x, same shape as x.
func (n Normal) LogProb(x *Node) *Node {
	z := Div(Sub(x, n.Loc), n.Scale)
	return Sub(
		MulScalar(Square(z), -0.5),
		Add(Log(n.Scale), MulScalar(OnesLike(x), 0.5*logTwoPi)))
}

// Independent reinterprets all axes of the underlying distribution except the
// leading batch axis as event axes: LogProb sums the elementwise log-densities
// over them, returning one value per example.
type Independent struct {
	Dist Normal
}

// LogProb returns the per-example log-density of x, shaped [batchSize].
func (ind Independent) LogProb(x *Node) *Node {
	elementwise := ind.Dist.LogProb(x)
	if x.Rank() < 2 {
		Panicf("distributions: Independent.LogProb requires a batched input, got rank %d (%s)",
			x.Rank(), x.Shape())
	}
	eventAxes := make([]int, 0, x.Rank()-1)
	for axis := 1; axis < x.Rank(); axis++ {
		eventAxes = append(eventAxes, axis)
	}
	return ReduceSum(elementwise, eventAxes...)
}

// MultivariateNormalDiag is a zero-mean, unit-variance diagonal Gaussian of the
// given dimension -- the base distribution of the normalizing flows here.
type MultivariateNormalDiag struct {
	Dim int
}

// NewStandardNormal returns a zero-mean, unit-variance diagonal Gaussian of
// dimension dim.
func NewStandardNormal(dim int) MultivariateNormalDiag {
	if dim <= 0 {
		Panicf("distributions: multivariate normal dimension must be > 0, got %d", dim)
	}
	return MultivariateNormalDiag{Dim: dim}
}

// LogProb returns the per-example log-density of z, which must be shaped
// [batchSize, Dim]. The result is shaped [batchSize].
func (mvn MultivariateNormalDiag) LogProb(z *Node) *Node {
	z.AssertDims(-1, mvn.Dim)
	quadratic := MulScalar(ReduceSum(Square(z), -1), -0.5)
	return AddScalar(quadratic, -0.5*float64(mvn.Dim)*logTwoPi)
}

// SampleFn draws standard normal values of the requested shape. It is provided
// by the caller so the randomness source (a context RNG state) stays outside
// this package.
type SampleFn func(shape shapes.Shape) *Node

// Transformed is the distribution of bijector.Forward(z) for z drawn from base.
// Density is evaluated exactly through the change-of-variables formula.
type Transformed struct {
	base     MultivariateNormalDiag
	bijector Bijector
	sample   SampleFn
	dtype    dtypes.DType
}

// NewTransformed builds a Transformed distribution. The sampleFn is used by
// Sample to draw base-distribution noise; it may be nil if Sample is never
// called (density-only use).
func NewTransformed(base MultivariateNormalDiag, bijector Bijector, dtype dtypes.DType, sampleFn SampleFn) *Transformed {
	return &Transformed{base: base, bijector: bijector, sample: sampleFn, dtype: dtype}
}

// Dim returns the event dimension of the distribution.
func (t *Transformed) Dim() int { return t.base.Dim }

// Sample draws n samples, returning a node shaped [n, Dim].
func (t *Transformed) Sample(n int) *Node {
	if t.sample == nil {
		Panicf("distributions: Transformed.Sample called on a density-only distribution (no sample function given)")
	}
	z := t.sample(shapes.Make(t.dtype, n, t.base.Dim))
	return t.bijector.Forward(z)
}

// LogProb returns the per-example log-density of x under the transformed
// distribution: base.LogProb(Inverse(x)) plus the inverse log-det-Jacobian.
// x must be shaped [batchSize, Dim]; the result is shaped [batchSize].
func (t *Transformed) LogProb(x *Node) *Node {
	x.AssertDims(-1, t.base.Dim)
	z := t.bijector.Inverse(x)
	return Add(t.base.LogProb(z), t.bijector.InverseLogDetJacobian(x))
}
