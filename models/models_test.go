package models

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltin(t *testing.T) {
	catalog := Builtin()
	assert.Equal(t, []string{"img2img_pixel_cnn", "latent_maf"}, catalog.Names())

	for _, name := range catalog.Names() {
		model, err := catalog.Get(name)
		require.NoError(t, err)
		require.NotNil(t, model.CreateDefaultContext)
		ctx := model.CreateDefaultContext()
		require.NotNil(t, ctx)

		modelFn, err := model.TrainGraph(ctx)
		require.NoError(t, err)
		assert.NotNil(t, modelFn)
	}
}

func TestGetUnknown(t *testing.T) {
	_, err := Builtin().Get("img2img_transformer")
	require.ErrorContains(t, err, "img2img_transformer")
	require.ErrorContains(t, err, "img2img_pixel_cnn", "the error must list the valid names")
}

func TestRegister(t *testing.T) {
	catalog := NewCatalog()
	model := Model{
		Name:                 "custom",
		CreateDefaultContext: context.New,
		TrainGraph: func(ctx *context.Context) (train.ModelFn, error) {
			return nil, nil
		},
	}
	require.NoError(t, catalog.Register(model))
	require.ErrorContains(t, catalog.Register(model), "already registered")
	require.Error(t, catalog.Register(Model{}), "a name is required")
}
