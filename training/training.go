// Package training wires a catalog model to gomlx's trainer and loop:
// optimizer from context, custom loss fed by the model's own loss output,
// periodic checkpoint saving, progress bar, and periodic visualization
// dumps.
package training

import (
	"fmt"
	"time"

	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/EiffL/Galaxy2Galaxy/models"
)

// Config bundles what TrainModel needs. Context carries all model
// hyperparameters; the datasets must yield batches compatible with the
// model's feature expectations.
type Config struct {
	Backend backends.Backend
	Context *context.Context
	Model   models.Model

	TrainDS      train.Dataset
	TrainEvalDS  train.Dataset
	ValidationDS train.Dataset

	// CheckpointPath enables checkpoint saving when non-empty.
	CheckpointPath string

	// Summaries, when not nil, is called periodically with the training
	// loop, to dump visualization tensors.
	Summaries func(loop *train.Loop) error

	EvaluateOnEnd bool
	Verbosity     int
}

// LoglikelihoodMetric reports the model's mean log-likelihood output, the
// third prediction of the latent-flow model.
func LoglikelihoodMetric() metrics.Interface {
	return metrics.NewMeanMetric("Mean Loglikelihood", "llh", "loglikelihood",
		func(ctx *context.Context, labels, predictions []*Node) *Node {
			return predictions[2]
		}, nil).WithDynamicBatch(false)
}

// TrainModel runs the training loop for the configured model until the
// context's "train_steps" is reached, resuming from the checkpoint's global
// step when one is loaded.
func TrainModel(cfg *Config) error {
	ctx := cfg.Context
	backend := cfg.Backend
	if cfg.Verbosity >= 1 {
		fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())
		fmt.Printf("Model %q: %s\n", cfg.Model.Name, cfg.Model.Description)
	}

	var checkpoint *checkpoints.Handler
	if cfg.CheckpointPath != "" {
		var err error
		checkpoint, err = checkpoints.Build(ctx).
			Dir(cfg.CheckpointPath).
			Keep(context.GetParamOr(ctx, "num_checkpoints", 5)).
			Done()
		if err != nil {
			return errors.Wrapf(err, "setting up checkpoint in %q", cfg.CheckpointPath)
		}
	}
	if cfg.Verbosity >= 2 {
		fmt.Println(commandline.SprintContextSettings(ctx))
	}

	modelFn, err := cfg.Model.TrainGraph(ctx)
	if err != nil {
		return errors.Wrapf(err, "resolving training graph for model %q", cfg.Model.Name)
	}

	// The model emits its own per-example loss as the second prediction.
	customLoss := func(labels, predictions []*Node) *Node { return predictions[1] }

	var evalMetrics []metrics.Interface
	if cfg.Model.Name == "latent_maf" {
		evalMetrics = append(evalMetrics, LoglikelihoodMetric())
	}
	trainer := train.NewTrainer(backend, ctx, modelFn, customLoss,
		optimizers.FromContext(ctx),
		nil, // trainMetrics
		evalMetrics)

	loop := train.NewLoop(trainer)
	if cfg.Verbosity >= 0 {
		commandline.AttachProgressBar(loop)
	}

	if checkpoint != nil {
		period, err := time.ParseDuration(context.GetParamOr(ctx, "checkpoint_frequency", "3m"))
		if err != nil {
			return errors.Wrap(err, "parsing checkpoint_frequency")
		}
		train.PeriodicCallback(loop, period, true, "saving checkpoint", 100,
			func(loop *train.Loop, metrics []*tensors.Tensor) error {
				return checkpoint.Save()
			})
	}

	if cfg.Summaries != nil {
		train.ExponentialCallback(loop, 200, 1.2, true,
			"summaries", 0, func(loop *train.Loop, metrics []*tensors.Tensor) error {
				return cfg.Summaries(loop)
			})
	}

	numTrainSteps := context.GetParamOr(ctx, "train_steps", 0)
	globalStep := int(optimizers.GetGlobalStep(ctx))
	if globalStep > 0 {
		trainer.SetContext(ctx.Reuse())
	}
	if globalStep < numTrainSteps {
		if _, err := loop.RunSteps(cfg.TrainDS, numTrainSteps-globalStep); err != nil {
			if checkpoint != nil && loop.LoopStep > loop.StartStep {
				klog.Infof("Saving checkpoint before failing at loop step %d", loop.LoopStep)
				if errSave := checkpoint.Save(); errSave != nil {
					klog.Errorf("Error while saving checkpoint: %+v", errSave)
				}
			}
			return errors.Wrap(err, "training")
		}
		if cfg.Verbosity >= 1 {
			fmt.Printf("\t[Step %d] median train step: %d microseconds\n",
				loop.LoopStep, loop.MedianTrainStepDuration().Microseconds())
		}
		if checkpoint != nil {
			if err := checkpoint.Save(); err != nil {
				return errors.Wrap(err, "saving final checkpoint")
			}
		}
	} else {
		fmt.Printf("\t - target train_steps=%d already reached at global step %d.\n",
			numTrainSteps, globalStep)
	}

	if cfg.EvaluateOnEnd && cfg.TrainEvalDS != nil && cfg.ValidationDS != nil {
		if err := commandline.ReportEval(trainer, cfg.TrainEvalDS, cfg.ValidationDS); err != nil {
			return errors.Wrap(err, "final evaluation")
		}
	}
	return nil
}
