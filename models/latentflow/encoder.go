package latentflow

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/pkg/errors"
)

// EncoderScope is the context scope holding the frozen encoder variables.
const EncoderScope = "encoder"

// LoadEncoderInto loads the exported encoder checkpoint into the context and
// marks every variable under EncoderScope non-trainable, so the optimizer
// never touches them. The directory is the value of ParamEncoderModule and
// is required: an empty value is an error.
func LoadEncoderInto(ctx *context.Context, dir string) error {
	if dir == "" {
		return errors.Errorf("no encoder module configured: %s is required and must point "+
			"to the checkpoint directory of an exported encoder", ParamEncoderModule)
	}
	_, err := checkpoints.Load(ctx).Dir(dir).Done()
	if err != nil {
		return errors.Wrapf(err, "loading encoder module from %q", dir)
	}
	FreezeEncoder(ctx)
	return nil
}

// FreezeEncoder marks every variable under EncoderScope non-trainable.
func FreezeEncoder(ctx *context.Context) {
	ctx.In(EncoderScope).EnumerateVariablesInScope(func(v *context.Variable) {
		v.SetTrainable(false)
	})
}

// EncodeGraph maps a batch of images [batch, height, width, channels] to
// latent codes [batch, latentSize] with the frozen convolutional encoder.
// When psf is not nil it is concatenated to the image as extra channels
// before encoding. The variables live under EncoderScope and are expected
// to come from LoadEncoderInto; building the graph without loading them
// first yields freshly initialized (useless) encoder weights, which is only
// acceptable in tests.
func EncodeGraph(ctx *context.Context, images, psf *Node, latentSize int) *Node {
	ctx = ctx.In(EncoderScope)
	x := images
	if psf != nil {
		x = Concatenate([]*Node{x, psf}, -1)
	}

	// Strided convolution stack halving the spatial resolution until it is
	// at most 4x4.
	filters := 32
	for i := 0; x.Shape().Dim(1) > 4 && i < 6; i++ {
		x = layers.Convolution(ctx.Inf("conv_%d", i), x).
			Filters(filters).
			KernelSize(3).
			PadSame().
			Strides(2).
			Done()
		x = activations.Relu(x)
		filters *= 2
	}

	batchSize := x.Shape().Dim(0)
	x = Reshape(x, batchSize, -1)
	return layers.DenseWithBias(ctx.In("latent"), x, latentSize)
}
