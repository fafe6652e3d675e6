package latentflow

import (
	"path/filepath"

	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/pkg/errors"

	"github.com/EiffL/Galaxy2Galaxy/features"
)

// ExportName is the directory name under which the sampling artifact is
// exported.
const ExportName = "code_sampler"

// CodeSampler is the standalone sampling artifact of a trained latent-flow
// model: it takes one scalar tensor per declared attribute and returns
// sampled latent codes. It defines no likelihood and no loss; it exists
// purely to generate.
//
// It reuses the flow variables of the model context, so it must be built
// from a context holding trained (or at least initialized) flow weights.
type CodeSampler struct {
	backend backends.Backend
	ctx     *context.Context
	config  Config
	exec    *context.Exec
}

// NewCodeSampler builds the sampling artifact from a model context.
func NewCodeSampler(backend backends.Backend, ctx *context.Context, cfg Config) (*CodeSampler, error) {
	if len(cfg.Attributes) == 0 {
		return nil, errors.Errorf("cannot build a %s without conditioning attributes, %s is empty",
			ExportName, ParamAttributes)
	}
	sampler := &CodeSampler{backend: backend, ctx: ctx, config: cfg}
	var err error
	sampler.exec, err = context.NewExec(backend, ctx,
		func(ctx *context.Context, attributes []*Node) *Node {
			bundle := features.FromInputs(cfg.Attributes, attributes)
			flowCtx := ctx.In(FlowScope)
			y := conditioningGraph(flowCtx, bundle, cfg.Attributes)
			flow := flowGraph(flowCtx, cfg, y)
			return flow.Sample(y.Shape().Dim(0))
		})
	if err != nil {
		return nil, errors.Wrap(err, "building code sampler graph")
	}
	return sampler, nil
}

// Sample draws one latent code of shape [n, latent_size] for the given
// attribute values, where n is the common length of the attribute slices.
// Every declared attribute must be present.
func (s *CodeSampler) Sample(attributeValues map[string][]float32) (*tensors.Tensor, error) {
	n := -1
	args := make([]any, len(s.config.Attributes))
	for i, name := range s.config.Attributes {
		values, found := attributeValues[name]
		if !found {
			return nil, errors.Errorf("missing attribute %q, the sampler requires values for %v",
				name, s.config.Attributes)
		}
		if n >= 0 && len(values) != n {
			return nil, errors.Errorf("attribute %q has %d values, previous attributes had %d",
				name, len(values), n)
		}
		n = len(values)
		args[i] = values
	}

	var codes *tensors.Tensor
	err := exceptions.TryCatch[error](func() {
		codes = s.exec.MustExec(args...)[0]
	})
	if err != nil {
		return nil, errors.Wrap(err, "sampling latent codes")
	}
	return codes, nil
}

// Export saves the sampler's variables and configuration as a standalone
// checkpoint named ExportName under baseDir.
func (s *CodeSampler) Export(baseDir string) error {
	handler, err := checkpoints.Build(s.ctx).
		Dir(filepath.Join(baseDir, ExportName)).
		Keep(1).
		Done()
	if err != nil {
		return errors.Wrapf(err, "creating %s checkpoint", ExportName)
	}
	return errors.Wrapf(handler.Save(), "saving %s checkpoint", ExportName)
}
