// g2g_train trains one of the catalog models on a synthetic galaxy sample.
//
// Pick the model with -model and override its hyperparameters with -set,
// e.g.:
//
//	g2g_train -model=img2img_pixel_cnn -checkpoint=/tmp/pixelcnn \
//	    -set="batch_size=16;hidden_size=64"
//	g2g_train -model=latent_maf -checkpoint=/tmp/latentmaf \
//	    -set="encoder_module=/tmp/autoencoder;latent_size=64"
package main

import (
	"flag"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/gomlx/gomlx/ui/commandline"
	"k8s.io/klog/v2"

	"github.com/EiffL/Galaxy2Galaxy/galaxydata"
	"github.com/EiffL/Galaxy2Galaxy/models"
	"github.com/EiffL/Galaxy2Galaxy/models/latentflow"
	"github.com/EiffL/Galaxy2Galaxy/training"

	_ "github.com/gomlx/gomlx/backends/default"
)

const defaultModel = "img2img_pixel_cnn"

var (
	flagModel      = flag.String("model", defaultModel, "Model to train, one of the catalog names.")
	flagCheckpoint = flag.String("checkpoint", "", "Directory to save and load checkpoints from. If left empty, no checkpoints are created.")
	flagEval       = flag.Bool("eval", true, "Whether to evaluate the model on the validation data in the end.")
	flagVerbosity  = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose.")

	flagExamples  = flag.Int("examples", 2048, "Number of synthetic galaxy stamps to generate.")
	flagImageSize = flag.Int("image_size", 32, "Stamp side in pixels.")
	flagPSF       = flag.Bool("psf", true, "Generate a PSF stamp per example.")
	flagSeed      = flag.Int64("seed", 42, "Seed of the synthetic galaxy sample.")
)

var backend = backends.MustNew()

func main() {
	catalog := models.Builtin()

	// The -set flag's help text depends on the model's default context, so
	// the model name is resolved before the regular flag parsing.
	model := check1(catalog.Get(modelNameFromArgs(os.Args[1:])))
	ctx := model.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	check1(commandline.ParseContextSettings(ctx, *settings))

	trainDS := check1(galaxydata.New(backend, galaxydata.Config{
		NumExamples: *flagExamples, ImageSize: *flagImageSize, WithPSF: *flagPSF, Seed: *flagSeed}))
	validationDS := check1(galaxydata.New(backend, galaxydata.Config{
		NumExamples: *flagExamples / 8, ImageSize: *flagImageSize, WithPSF: *flagPSF, Seed: *flagSeed + 1}))

	batchSize := context.GetParamOr(ctx, "batch_size", 16)
	evalBatchSize := context.GetParamOr(ctx, "eval_batch_size", batchSize)
	trainEvalDS := trainDS.Copy().BatchSize(evalBatchSize, false)
	validationDS.BatchSize(evalBatchSize, false)
	trainDS.Shuffle().Infinite(true).BatchSize(batchSize, true)

	if model.Name == "latent_maf" {
		encoderDir := context.GetParamOr(ctx, latentflow.ParamEncoderModule, "")
		check(latentflow.LoadEncoderInto(ctx, encoderDir))
	}

	cfg := &training.Config{
		Backend:        backend,
		Context:        ctx,
		Model:          model,
		TrainDS:        trainDS,
		TrainEvalDS:    trainEvalDS,
		ValidationDS:   validationDS,
		CheckpointPath: *flagCheckpoint,
		EvaluateOnEnd:  *flagEval,
		Verbosity:      *flagVerbosity,
	}
	if model.Name == defaultModel && *flagCheckpoint != "" {
		summariesDir := filepath.Join(*flagCheckpoint, "summaries")
		cfg.Summaries = check1(training.PixelSummaries(cfg, trainEvalDS, summariesDir))
	}

	err := exceptions.TryCatch[error](func() {
		check(training.TrainModel(cfg))
	})
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

// modelNameFromArgs pre-scans the command line for -model, before the
// normal flag parsing.
func modelNameFromArgs(args []string) string {
	for i, arg := range args {
		arg = strings.TrimLeft(arg, "-")
		if arg == "model" && i+1 < len(args) {
			return args[i+1]
		}
		if value, found := strings.CutPrefix(arg, "model="); found {
			return value
		}
	}
	return defaultModel
}

// check reports and exits on error.
func check(err error) {
	if err == nil {
		return
	}
	klog.Fatalf("Fatal error: %+v", err)
}

// check1 reports and exits on error. Otherwise returns the value passed.
func check1[T any](v T, err error) T {
	check(err)
	return v
}
