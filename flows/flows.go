package flows

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"

	"github.com/EiffL/Galaxy2Galaxy/distributions"
)

const (
	// ParamNumBlocks is the context hyperparameter with the number of MAF
	// blocks chained together. Defaults to 4.
	ParamNumBlocks = "flow_num_blocks"

	// ParamHiddenSize is the context hyperparameter with the width of each
	// hidden layer of the MADE conditioner networks. Defaults to 512.
	ParamHiddenSize = "flow_hidden_size"

	// ParamNumHiddenLayers is the context hyperparameter with the number of
	// hidden layers per MADE conditioner. Defaults to 2.
	ParamNumHiddenLayers = "flow_num_hidden_layers"

	// ParamActivation is the context hyperparameter with the activation used
	// in the MADE conditioner networks. Defaults to "relu".
	ParamActivation = "flow_activation"
)

// Config is a builder for a masked autoregressive flow distribution. Create
// it with MaskedAutoregressiveFlow, configure it with the chained methods,
// and call Done to materialize the distributions.Transformed.
type Config struct {
	ctx             *context.Context
	graph           *Graph
	conditioning    *Node
	dim             int
	numBlocks       int
	hiddenLayers    []int
	activation      activations.Type
	permutationSeed int64
	dtype           dtypes.DType
}

// MaskedAutoregressiveFlow starts the configuration of a flow distribution
// over dim-dimensional latent vectors, with MADE conditioners reading the
// given conditioning tensor of shape [batch, conditioningDim].
//
// It reads defaults from the context hyperparameters ParamNumBlocks,
// ParamHiddenSize, ParamNumHiddenLayers and ParamActivation. Pass a nil
// conditioning for an unconditional flow, in which case Graph must be
// called before Done.
func MaskedAutoregressiveFlow(ctx *context.Context, conditioning *Node, dim int) *Config {
	hiddenSize := context.GetParamOr(ctx, ParamHiddenSize, 512)
	numHiddenLayers := context.GetParamOr(ctx, ParamNumHiddenLayers, 2)
	hiddenLayers := make([]int, numHiddenLayers)
	for i := range hiddenLayers {
		hiddenLayers[i] = hiddenSize
	}
	c := &Config{
		ctx:          ctx,
		conditioning: conditioning,
		dim:          dim,
		numBlocks:    context.GetParamOr(ctx, ParamNumBlocks, 4),
		hiddenLayers: hiddenLayers,
		activation:   activations.FromName(context.GetParamOr(ctx, ParamActivation, "relu")),
		dtype:        dtypes.Float32,
	}
	if conditioning != nil {
		c.graph = conditioning.Graph()
		c.dtype = conditioning.DType()
	}
	return c
}

// NumBlocks sets how many MAF blocks are chained, with a fixed permutation
// between consecutive blocks.
func (c *Config) NumBlocks(n int) *Config {
	c.numBlocks = n
	return c
}

// HiddenLayers sets the widths of the MADE conditioner hidden layers.
func (c *Config) HiddenLayers(sizes ...int) *Config {
	c.hiddenLayers = sizes
	return c
}

// Activation sets the activation of the MADE conditioner hidden layers.
func (c *Config) Activation(activation activations.Type) *Config {
	c.activation = activation
	return c
}

// PermutationSeed sets the seed for the fixed permutations between MAF
// blocks. The permutations are persisted as non-trainable variables, so the
// seed only matters the first time the flow is built for a context.
func (c *Config) PermutationSeed(seed int64) *Config {
	c.permutationSeed = seed
	return c
}

// Graph sets the graph to build on. Only needed for unconditional flows,
// where there is no conditioning node to take the graph from.
func (c *Config) Graph(g *Graph) *Config {
	c.graph = g
	return c
}

// Done builds the flow: numBlocks MAF bijectors, each followed by a fixed
// permutation, transforming a standard multivariate normal base. Sampling
// draws base noise with the context's random state, so samples are
// reproducible given ctx.RngStateFromSeed.
func (c *Config) Done() *distributions.Transformed {
	if c.graph == nil {
		Panicf("flows: no graph to build on, set a conditioning tensor or call Graph()")
	}
	if c.numBlocks < 1 {
		Panicf("flows: need at least 1 MAF block, got %d", c.numBlocks)
	}
	chain := make(distributions.Chain, 0, 2*c.numBlocks)
	for i := 0; i < c.numBlocks; i++ {
		chain = append(chain,
			NewMAF(c.ctx.Inf("maf_%d", i), c.conditioning, c.dim, c.hiddenLayers, c.activation))
		chain = append(chain,
			NewPermute(c.ctx.Inf("permute_%d", i), c.dim, c.permutationSeed+int64(i)))
	}
	base := distributions.NewStandardNormal(c.dim)
	sample := func(shape shapes.Shape) *Node {
		return c.ctx.RandomNormal(c.graph, shape)
	}
	return distributions.NewTransformed(base, chain, c.dtype, sample)
}
