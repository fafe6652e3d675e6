package training

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/stretchr/testify/require"

	"github.com/EiffL/Galaxy2Galaxy/galaxydata"
	"github.com/EiffL/Galaxy2Galaxy/models"
	"github.com/EiffL/Galaxy2Galaxy/models/latentflow"
	"github.com/EiffL/Galaxy2Galaxy/models/pixelcnn"

	_ "github.com/gomlx/gomlx/backends/default"
)

// A couple of tiny optimization steps for each built-in model, end to end
// through the trainer and loop.
func TestTrainModelPixelCnn(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training smoke test in -short mode")
	}
	backend := graphtest.BuildTestBackend()
	catalog := models.Builtin()
	model, err := catalog.Get("img2img_pixel_cnn")
	require.NoError(t, err)

	ctx := model.CreateDefaultContext()
	ctx.SetParams(map[string]any{
		"train_steps":             2,
		pixelcnn.ParamHiddenSize:  8,
		pixelcnn.ParamNrResnet:    1,
		layers.ParamDropoutRate:   0.0,
	})

	ds, err := galaxydata.New(backend, galaxydata.Config{NumExamples: 4, ImageSize: 8, Seed: 1})
	require.NoError(t, err)
	ds.Shuffle().Infinite(true).BatchSize(2, true)

	err = TrainModel(&Config{
		Backend:   backend,
		Context:   ctx,
		Model:     model,
		TrainDS:   ds,
		Verbosity: -1,
	})
	require.NoError(t, err)
}

func TestTrainModelLatentMAF(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training smoke test in -short mode")
	}
	backend := graphtest.BuildTestBackend()
	catalog := models.Builtin()
	model, err := catalog.Get("latent_maf")
	require.NoError(t, err)

	ctx := model.CreateDefaultContext()
	ctx.SetParams(map[string]any{
		"train_steps":                    2,
		latentflow.ParamLatentSize:       2,
		latentflow.ParamNumHiddenLayers:  1,
		latentflow.ParamHiddenSize:       8,
	})

	ds, err := galaxydata.New(backend, galaxydata.Config{NumExamples: 4, ImageSize: 8, WithPSF: true, Seed: 2})
	require.NoError(t, err)
	ds.Shuffle().Infinite(true).BatchSize(2, true)

	err = TrainModel(&Config{
		Backend:   backend,
		Context:   ctx,
		Model:     model,
		TrainDS:   ds,
		Verbosity: -1,
	})
	require.NoError(t, err)
}
