package training

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/EiffL/Galaxy2Galaxy/models/pixelcnn"
)

// PixelSummaries returns a Summaries callback for Config that renders the
// pixel model's packed visualization fields (targets, predicted loc and
// scale) of a fixed batch to PNG files under dir. The batch is taken from
// the first yield of ds.
func PixelSummaries(cfg *Config, ds train.Dataset, dir string) (func(loop *train.Loop) error, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating summaries directory %q", dir)
	}
	spec, inputs, _, err := ds.Yield()
	if err != nil {
		return nil, errors.Wrap(err, "yielding a batch for summaries")
	}
	ds.Reset()

	exec, err := context.NewExec(cfg.Backend, cfg.Context,
		func(ctx *context.Context, batch []*Node) []*Node {
			summaries := pixelcnn.SummaryImagesGraph(ctx, spec, batch)
			// Normalize each field to [0, 1] so the PNG rendering does not
			// clip the profile tails.
			for i, packed := range summaries {
				peak := AddScalar(ReduceAllMax(Abs(packed)), 1e-9)
				summaries[i] = Div(packed, peak)
			}
			return summaries
		})
	if err != nil {
		return nil, errors.Wrap(err, "building summaries graph")
	}

	names := []string{"inputs", "loc", "scale"}
	args := make([]any, len(inputs))
	for i, t := range inputs {
		args[i] = t
	}
	return func(loop *train.Loop) error {
		results := exec.Call(args...)
		for i, packed := range results {
			name := fmt.Sprintf("field_%d", i)
			if i < len(names) {
				name = names[i]
			}
			rendered := timage.ToImage().MaxValue(1.0).Batch(packed)
			filePath := filepath.Join(dir, fmt.Sprintf("%s_step_%07d.png", name, loop.LoopStep))
			f, err := os.Create(filePath)
			if err != nil {
				return errors.Wrapf(err, "creating summary image %q", filePath)
			}
			if err := png.Encode(f, rendered[0]); err != nil {
				_ = f.Close()
				return errors.Wrapf(err, "encoding summary image %q", filePath)
			}
			if err := f.Close(); err != nil {
				return errors.Wrapf(err, "writing summary image %q", filePath)
			}
			klog.V(1).Infof("Saved summary image %s", filePath)
		}
		return nil
	}, nil
}
