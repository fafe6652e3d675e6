// Package pixelcnn implements an autoregressive pixel-likelihood model for
// galaxy images: a causal PixelCNN++ trunk whose output parameterizes an
// independent Normal distribution per pixel, trained by maximizing the
// log-likelihood of the observed image.
package pixelcnn

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers/cosineschedule"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
	"k8s.io/klog/v2"

	"github.com/EiffL/Galaxy2Galaxy/distributions"
	"github.com/EiffL/Galaxy2Galaxy/features"
)

const (
	// ParamHiddenSize is the number of filters of the causal trunk.
	ParamHiddenSize = "hidden_size"

	// ParamNrResnet is the number of gated residual blocks per stream.
	ParamNrResnet = "nr_resnet"

	// ParamNumChannels is the number of image channels modeled.
	ParamNumChannels = "num_channels"

	// ParamBottomModality selects how input pixels are presented to the
	// trunk: "identity" feeds them raw, "channel_embedding" quantizes each
	// channel to 256 levels and embeds it.
	ParamBottomModality = "bottom_modality"

	// ScaleFloor is added to the softplus of the raw scale output, keeping
	// the Normal scale strictly positive.
	ScaleFloor = 1e-4
)

// CreateDefaultContext returns a context loaded with the default
// hyperparameters for the pixel model.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.ResetRNGState()
	ctx.SetParams(map[string]any{
		"train_steps":          100_000,
		"num_checkpoints":      5,
		"checkpoint_frequency": "3m",
		"batch_size":           16,
		"eval_batch_size":      64,
		"dtype":                "float32",

		ParamHiddenSize:     64,
		ParamNrResnet:       2,
		ParamNumChannels:    1,
		ParamBottomModality: "identity",

		layers.ParamDropoutRate: 0.5,

		optimizers.ParamOptimizer:           "adam",
		optimizers.ParamAdamEpsilon:         1e-9,
		optimizers.ParamLearningRate:        1e-4,
		cosineschedule.ParamPeriodSteps:     0,
		cosineschedule.ParamMinLearningRate: 1e-6,
	})
	return ctx
}

// featureNamer is implemented by dataset specs that declare the order of
// the feature tensors they yield.
type featureNamer interface {
	FeatureNames() []string
}

// bundleFromSpec assembles the feature bundle from the positional inputs,
// using the dataset spec's declared names when available. Without a spec the
// convention is a single tensor serving as both inputs and raw targets.
func bundleFromSpec(spec any, inputs []*Node) features.Bundle {
	if namer, ok := spec.(featureNamer); ok {
		return features.FromInputs(namer.FeatureNames(), inputs)
	}
	bundle := features.Bundle{features.Inputs: inputs[0]}
	if len(inputs) > 1 {
		bundle[features.TargetsRaw] = inputs[1]
	}
	return bundle
}

// bottomModality prepares the input pixels for the trunk according to
// ParamBottomModality.
func bottomModality(ctx *context.Context, x *Node) *Node {
	modality := context.GetParamOr(ctx, ParamBottomModality, "identity")
	switch modality {
	case "identity":
		return x
	case "channel_embedding":
		hiddenSize := context.GetParamOr(ctx, ParamHiddenSize, 64)
		channels := x.Shape().Dim(-1)
		embedSize := hiddenSize / channels
		ids := ConvertDType(ClipScalar(MulScalar(x, 255), 0, 255), dtypes.Int32)
		embedded := layers.Embedding(ctx.In("channel_embedding"), ids, x.DType(), 256, embedSize, false)
		dims := x.Shape().Dimensions
		return Reshape(embedded, dims[0], dims[1], dims[2], channels*embedSize)
	default:
		Panicf("unknown %s %q, valid values are \"identity\" and \"channel_embedding\"",
			ParamBottomModality, modality)
	}
	return nil
}

// Distribution builds the predictive distribution of the model: the trunk
// output projected to (loc, scale) per channel, with
// scale = softplus(raw) + ScaleFloor. Returns the raw projection and the
// distribution over images.
func Distribution(ctx *context.Context, images *Node) (output *Node, dist distributions.Independent) {
	g := images.Graph()
	numChannels := context.GetParamOr(ctx, ParamNumChannels, 1)
	dropout := context.GetParamOr(ctx, layers.ParamDropoutRate, 0.0)
	var dropoutNode *Node
	if dropout > 0 {
		dropoutNode = Scalar(g, images.DType(), dropout)
	}

	x := bottomModality(ctx.In("bottom"), images)
	x = NetworkGraph(ctx.In("pixel_cnn"), x, dropoutNode)
	output = layers.DenseWithBias(ctx.In("output"), x, 2*numChannels)

	parts := Split(output, -1, 2)
	loc, scale := parts[0], AddScalar(Softplus(parts[1]), ScaleFloor)
	dist = distributions.Independent{Dist: distributions.Normal{Loc: loc, Scale: scale}}
	return
}

// BuildTrainGraph is the train.ModelFn of the pixel model. It returns the
// raw network output followed by the per-example negative log-likelihood of
// the raw targets, which the trainer consumes directly as the loss.
func BuildTrainGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	bundle := bundleFromSpec(spec, inputs)
	images := bundle.Get(features.Inputs)
	targets := bundle.Get(features.TargetsRaw)

	output, dist := Distribution(ctx, images)
	loss := Neg(dist.LogProb(targets))
	return []*Node{output, loss}
}

var _ train.ModelFn = BuildTrainGraph

// PackImages tiles a batch of images [batch, height, width, depth] into a
// single rows x cols field of shape [1, rows*height, cols*width, depth].
// Rows and cols are clipped to what the batch can fill.
func PackImages(images *Node, rows, cols int) *Node {
	dims := images.Shape().Dimensions
	batch, height, width, depth := dims[0], dims[1], dims[2], dims[3]
	rows = min(rows, batch)
	cols = max(min(cols, batch/rows), 1)
	images = SliceAxis(images, 0, AxisRange(0, rows*cols))
	images = Reshape(images, rows, cols, height, width, depth)
	images = TransposeAllDims(images, 0, 2, 1, 3, 4)
	return Reshape(images, 1, rows*height, cols*width, depth)
}

// SummaryImage packs a batch into an 8x8 field for visualization. Tensors
// that are not rank-4 images are skipped with a log line, never an error.
func SummaryImage(name string, images *Node, rows, cols int) *Node {
	if images.Rank() != 4 {
		klog.Infof("Not generating image summary %q, maybe not an image (rank=%d).", name, images.Rank())
		return nil
	}
	return PackImages(images, rows, cols)
}

// SummaryImagesGraph builds the standard visualization tensors of the
// model: the raw targets, the predicted loc and the predicted scale, each
// packed into an 8x8 field. Entries whose source is not an image are
// omitted.
func SummaryImagesGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	bundle := bundleFromSpec(spec, inputs)
	images := bundle.Get(features.Inputs)
	targets := bundle.Get(features.TargetsRaw)

	output, _ := Distribution(ctx, images)
	parts := Split(output, -1, 2)
	loc, scale := parts[0], AddScalar(Softplus(parts[1]), ScaleFloor)

	var summaries []*Node
	for _, entry := range []struct {
		name  string
		image *Node
	}{{"inputs", targets}, {"loc", loc}, {"scale", scale}} {
		if packed := SummaryImage(entry.name, entry.image, 8, 8); packed != nil {
			summaries = append(summaries, packed)
		}
	}
	return summaries
}
