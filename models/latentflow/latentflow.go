// Package latentflow implements a conditional normalizing flow over the
// latent space of a pre-trained, frozen image autoencoder: galaxy images are
// mapped to latent codes by the frozen encoder, and a masked autoregressive
// flow conditioned on per-object attributes (magnitude, size, ellipticity)
// learns the distribution of those codes. New codes can then be sampled for
// arbitrary attribute values.
package latentflow

import (
	"strings"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers/cosineschedule"
	"github.com/pkg/errors"

	"github.com/EiffL/Galaxy2Galaxy/distributions"
	"github.com/EiffL/Galaxy2Galaxy/features"
	"github.com/EiffL/Galaxy2Galaxy/flows"
)

const (
	// ParamLatentSize is the dimension of the autoencoder latent space.
	ParamLatentSize = "latent_size"

	// ParamNumHiddenLayers is the number of (MAF, permutation) pairs chained
	// in the flow.
	ParamNumHiddenLayers = "num_hidden_layers"

	// ParamHiddenSize is the width of the MADE conditioner hidden layers.
	ParamHiddenSize = "hidden_size"

	// ParamEncoderModule is the checkpoint directory of the exported frozen
	// encoder. It has no default and must be set for training.
	ParamEncoderModule = "encoder_module"

	// ParamEncodePSF selects whether the point-spread function image is fed
	// to the encoder as an extra channel, when the dataset provides one.
	ParamEncodePSF = "encode_psf"

	// ParamAttributes is the comma-separated list of conditioning attribute
	// feature names.
	ParamAttributes = "attributes"

	// ParamFlowKind selects the flow architecture. The only valid kind is
	// FlowMAF.
	ParamFlowKind = "flow_kind"

	// FlowScope is the context scope holding the flow variables.
	FlowScope = "flow_module"
)

// FlowKind enumerates the supported flow architectures.
type FlowKind string

const (
	// FlowMAF is a chain of masked autoregressive flows with fixed
	// permutations in between.
	FlowMAF FlowKind = "maf"
)

// Config is the typed view of the latent-flow hyperparameters.
type Config struct {
	LatentSize      int
	NumHiddenLayers int
	HiddenSize      int
	EncoderModule   string
	EncodePSF       bool
	Attributes      []string
	Kind            FlowKind

	// KernelHeight and KernelWidth are declared for checkpoint
	// compatibility with older configurations; the flow does not use them.
	KernelHeight, KernelWidth int
}

// ConfigFromContext reads the latent-flow hyperparameters into a Config and
// validates them. The encoder module is only required for training, so its
// absence is not an error here; see TrainGraphBuilder.
func ConfigFromContext(ctx *context.Context) (Config, error) {
	cfg := Config{
		LatentSize:      context.GetParamOr(ctx, ParamLatentSize, 64),
		NumHiddenLayers: context.GetParamOr(ctx, ParamNumHiddenLayers, 4),
		HiddenSize:      context.GetParamOr(ctx, ParamHiddenSize, 512),
		EncoderModule:   context.GetParamOr(ctx, ParamEncoderModule, ""),
		EncodePSF:       context.GetParamOr(ctx, ParamEncodePSF, true),
		Kind:            FlowKind(context.GetParamOr(ctx, ParamFlowKind, string(FlowMAF))),
		KernelHeight:    context.GetParamOr(ctx, "kernel_height", 4),
		KernelWidth:     context.GetParamOr(ctx, "kernel_width", 4),
	}
	attributes := context.GetParamOr(ctx, ParamAttributes, "")
	if attributes != "" {
		cfg.Attributes = strings.Split(attributes, ",")
		for i := range cfg.Attributes {
			cfg.Attributes[i] = strings.TrimSpace(cfg.Attributes[i])
		}
	}
	if cfg.Kind != FlowMAF {
		return cfg, errors.Errorf("unknown %s %q, the only supported kind is %q",
			ParamFlowKind, cfg.Kind, FlowMAF)
	}
	if cfg.LatentSize < 1 {
		return cfg, errors.Errorf("%s must be positive, got %d", ParamLatentSize, cfg.LatentSize)
	}
	return cfg, nil
}

// CreateDefaultContext returns a context loaded with the default
// hyperparameters for the latent-flow model.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.ResetRNGState()
	ctx.SetParams(map[string]any{
		"train_steps":          20_000,
		"num_checkpoints":      5,
		"checkpoint_frequency": "3m",
		"batch_size":           128,
		"eval_batch_size":      128,
		"dtype":                "float32",

		ParamLatentSize:      64,
		ParamNumHiddenLayers: 4,
		ParamHiddenSize:      512,
		ParamEncoderModule:   "", // Required, must be overridden.
		ParamEncodePSF:       true,
		ParamAttributes:      "mag,re,q",
		ParamFlowKind:        string(FlowMAF),
		"kernel_height":      4,
		"kernel_width":       4,

		flows.ParamActivation: "relu",

		optimizers.ParamOptimizer:           "adam",
		optimizers.ParamLearningRate:        1e-3,
		cosineschedule.ParamPeriodSteps:     0,
		cosineschedule.ParamMinLearningRate: 1e-5,
	})
	return ctx
}

// featureNamer is implemented by dataset specs that declare the order of
// the feature tensors they yield.
type featureNamer interface {
	FeatureNames() []string
}

// conditioningGraph stacks the attribute scalars into a [batch, numAttrs]
// tensor and layer-normalizes it under the "y_norm" scope. A missing
// attribute panics with a key-lookup error at graph construction.
func conditioningGraph(ctx *context.Context, bundle features.Bundle, attributes []string) *Node {
	columns := make([]*Node, len(attributes))
	for i, name := range attributes {
		columns[i] = InsertAxes(bundle.Get(name), -1)
	}
	y := Concatenate(columns, -1)
	return layers.LayerNormalization(ctx.In("y_norm"), y, -1).Done()
}

// flowGraph builds the conditional flow distribution under FlowScope.
func flowGraph(ctx *context.Context, cfg Config, conditioning *Node) *distributions.Transformed {
	return flows.MaskedAutoregressiveFlow(ctx, conditioning, cfg.LatentSize).
		NumBlocks(cfg.NumHiddenLayers).
		HiddenLayers(cfg.HiddenSize, cfg.HiddenSize).
		Done()
}

// TrainGraphBuilder returns the train.ModelFn of the latent-flow model for
// the given configuration. The model function encodes the input images with
// the frozen encoder, builds the conditional flow, and returns flow samples
// (for monitoring), the per-example negative log-likelihood of the encoded
// codes (the loss), and the mean log-likelihood (the metric source).
func TrainGraphBuilder(cfg Config) train.ModelFn {
	return func(ctx *context.Context, spec any, inputs []*Node) []*Node {
		var bundle features.Bundle
		if namer, ok := spec.(featureNamer); ok {
			bundle = features.FromInputs(namer.FeatureNames(), inputs)
		} else {
			bundle = features.Bundle{features.Inputs: inputs[0]}
		}
		x := bundle.Get(features.Inputs)
		batchSize := x.Shape().Dim(0)

		var psf *Node
		if cfg.EncodePSF && bundle.Has(features.PSF) {
			psf = bundle.Get(features.PSF)
		}
		code := EncodeGraph(ctx, x, psf, cfg.LatentSize)
		code = StopGradient(code)

		flowCtx := ctx.In(FlowScope)
		y := conditioningGraph(flowCtx, bundle, cfg.Attributes)
		flow := flowGraph(flowCtx, cfg, y)

		samples := flow.Sample(batchSize)
		loglikelihood := flow.LogProb(Reshape(code, batchSize, -1))

		loss := Neg(loglikelihood)
		meanLoglikelihood := ReduceAllMean(loglikelihood)
		return []*Node{samples, loss, meanLoglikelihood}
	}
}
