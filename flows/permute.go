package flows

import (
	"math/rand"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"

	"github.com/EiffL/Galaxy2Galaxy/distributions"
)

// Permute is a volume-preserving bijector that reorders the latent
// dimensions by a fixed permutation. Interleaving permutations between MAF
// blocks lets every dimension eventually condition on every other.
//
// The permutation is stored as a non-trainable int32 variable so it is
// checkpointed with the model and survives reload unchanged.
type Permute struct {
	ctx *context.Context
	dim int
}

var _ distributions.Bijector = (*Permute)(nil)

// NewPermute creates a permutation bijector over dim latent dimensions. The
// permutation is drawn once from the given seed and persisted as a variable
// in the context scope; later calls with the same scope reuse it.
func NewPermute(ctx *context.Context, dim int, seed int64) *Permute {
	if ctx.GetVariable("permutation") == nil {
		rng := rand.New(rand.NewSource(seed))
		permutation := make([]int32, dim)
		for i, j := range rng.Perm(dim) {
			permutation[i] = int32(j)
		}
		ctx.VariableWithValue("permutation", permutation).SetTrainable(false)
	}
	return &Permute{ctx: ctx, dim: dim}
}

// matrix returns the one-hot permutation matrix P of shape [dim, dim], with
// P[i][j] = 1 iff j == permutation[i].
func (p *Permute) matrix(x *Node) *Node {
	permutation := p.ctx.GetVariable("permutation")
	return OneHot(permutation.ValueGraph(x.Graph()), p.dim, x.DType())
}

// Forward returns x gathered by the permutation: out[i] = x[permutation[i]].
func (p *Permute) Forward(x *Node) *Node {
	x.AssertDims(-1, p.dim)
	return DotProduct(x, Transpose(p.matrix(x), 0, 1))
}

// Inverse scatters the values back to their original positions.
func (p *Permute) Inverse(x *Node) *Node {
	x.AssertDims(-1, p.dim)
	return DotProduct(x, p.matrix(x))
}

// ForwardLogDetJacobian is zero: permutations preserve volume.
func (p *Permute) ForwardLogDetJacobian(x *Node) *Node {
	return ZerosLike(ReduceSum(x, -1))
}

// InverseLogDetJacobian is zero: permutations preserve volume.
func (p *Permute) InverseLogDetJacobian(x *Node) *Node {
	return ZerosLike(ReduceSum(x, -1))
}
