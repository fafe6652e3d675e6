// Package models indexes the available generative model architectures by
// name. A Catalog is an explicit value: programs create one (usually with
// Builtin), optionally register their own models, and pass it to whatever
// needs to resolve a model name. There is no global registry.
package models

import (
	"sort"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"

	"github.com/EiffL/Galaxy2Galaxy/models/latentflow"
	"github.com/EiffL/Galaxy2Galaxy/models/pixelcnn"
)

// Model ties a model name to its hyperparameter factory and its training
// graph builder.
type Model struct {
	// Name is the catalog key.
	Name string

	// Description is a one-line summary for CLI help output.
	Description string

	// CreateDefaultContext returns a fresh context loaded with the model's
	// default hyperparameters.
	CreateDefaultContext func() *context.Context

	// TrainGraph resolves the train.ModelFn for a configured context. It
	// returns an error when the hyperparameters are invalid for this model.
	TrainGraph func(ctx *context.Context) (train.ModelFn, error)
}

// Catalog is a name-indexed collection of models.
type Catalog struct {
	models map[string]Model
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{models: make(map[string]Model)}
}

// Register adds a model to the catalog. Registering a name twice is an
// error, never a silent overwrite.
func (c *Catalog) Register(model Model) error {
	if model.Name == "" {
		return errors.New("cannot register a model without a name")
	}
	if _, found := c.models[model.Name]; found {
		return errors.Errorf("model %q is already registered", model.Name)
	}
	c.models[model.Name] = model
	return nil
}

// Get resolves a model by name. Unknown names list the valid ones.
func (c *Catalog) Get(name string) (Model, error) {
	model, found := c.models[name]
	if !found {
		return Model{}, errors.Errorf("unknown model %q, registered models are %v", name, c.Names())
	}
	return model, nil
}

// Names returns the registered model names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.models))
	for name := range c.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builtin returns a catalog with the two built-in models registered:
// the autoregressive pixel model and the conditional latent flow.
func Builtin() *Catalog {
	catalog := NewCatalog()
	for _, model := range []Model{
		{
			Name:                 "img2img_pixel_cnn",
			Description:          "autoregressive PixelCNN++ likelihood model over galaxy images",
			CreateDefaultContext: pixelcnn.CreateDefaultContext,
			TrainGraph: func(ctx *context.Context) (train.ModelFn, error) {
				return pixelcnn.BuildTrainGraph, nil
			},
		},
		{
			Name:                 "latent_maf",
			Description:          "masked autoregressive flow over the latent space of a frozen autoencoder",
			CreateDefaultContext: latentflow.CreateDefaultContext,
			TrainGraph: func(ctx *context.Context) (train.ModelFn, error) {
				cfg, err := latentflow.ConfigFromContext(ctx)
				if err != nil {
					return nil, err
				}
				return latentflow.TrainGraphBuilder(cfg), nil
			},
		},
	} {
		if err := catalog.Register(model); err != nil {
			panic(err) // Only reachable with a duplicate built-in name.
		}
	}
	return catalog
}
