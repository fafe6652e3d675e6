// Package galaxydata generates synthetic galaxy postage stamps with
// per-object attributes, served as an in-memory gomlx dataset. Each stamp is
// an elliptical exponential light profile with shot-free analytic flux,
// optionally paired with a Gaussian point-spread function stamp. It stands
// in for survey cutouts in the demo commands and in tests.
package galaxydata

import (
	"math"
	"math/rand"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/EiffL/Galaxy2Galaxy/features"
)

// Attribute names yielded alongside the stamps.
const (
	AttrMagnitude   = "mag"
	AttrRadius      = "re"
	AttrEllipticity = "q"
)

// Config describes the synthetic sample to draw.
type Config struct {
	// NumExamples is the number of stamps generated.
	NumExamples int

	// ImageSize is the stamp side in pixels.
	ImageSize int

	// WithPSF adds a Gaussian PSF stamp per example.
	WithPSF bool

	// Seed makes the sample reproducible.
	Seed int64
}

// Spec is the dataset spec yielded with every batch: it declares the order
// of the feature tensors.
type Spec struct {
	Names []string
}

// FeatureNames returns the feature name of each input tensor, in yield
// order.
func (s *Spec) FeatureNames() []string { return s.Names }

// New draws a synthetic galaxy sample and wraps it as an in-memory dataset.
// The input tensors are, in order: the stamps (both as model inputs and as
// raw likelihood targets), the PSF stamps when Config.WithPSF is set, and
// the three attribute scalars. The labels repeat the stamps.
func New(backend backends.Backend, cfg Config) (*datasets.InMemoryDataset, error) {
	if cfg.NumExamples < 1 || cfg.ImageSize < 4 {
		return nil, errors.Errorf("invalid config: need at least 1 example and 4x4 stamps, got %d examples of %dx%d",
			cfg.NumExamples, cfg.ImageSize, cfg.ImageSize)
	}
	sample := synthesize(cfg)

	names := []string{features.Inputs, features.TargetsRaw}
	inputs := []any{sample.images, sample.images}
	if cfg.WithPSF {
		names = append(names, features.PSF)
		inputs = append(inputs, sample.psfs)
	}
	names = append(names, AttrMagnitude, AttrRadius, AttrEllipticity)
	inputs = append(inputs, sample.mags, sample.radii, sample.ellipticities)

	mds, err := datasets.InMemoryFromData(backend, "galaxy_stamps", inputs, []any{sample.images})
	if err != nil {
		return nil, errors.Wrap(err, "building in-memory galaxy dataset")
	}
	return mds.WithSpec(&Spec{Names: names}), nil
}

type sample struct {
	images, psfs               *tensors.Tensor
	mags, radii, ellipticities *tensors.Tensor
}

// synthesize draws attributes and renders the analytic stamps.
func synthesize(cfg Config) sample {
	rng := rand.New(rand.NewSource(cfg.Seed))
	n, size := cfg.NumExamples, cfg.ImageSize

	images := make([]float32, n*size*size)
	psfs := make([]float32, n*size*size)
	mags := make([]float32, n)
	radii := make([]float32, n)
	ellipticities := make([]float32, n)

	center := float64(size-1) / 2
	for i := 0; i < n; i++ {
		mag := 20 + 5*rng.Float64()
		re := (0.05 + 0.15*rng.Float64()) * float64(size)
		q := 0.3 + 0.7*rng.Float64()
		phi := math.Pi * rng.Float64()
		flux := math.Pow(10, -0.4*(mag-25))
		psfSigma := 0.04 * float64(size) * (1 + 0.5*rng.Float64())

		mags[i] = float32(mag)
		radii[i] = float32(re)
		ellipticities[i] = float32(q)

		cos, sin := math.Cos(phi), math.Sin(phi)
		offset := i * size * size
		for row := 0; row < size; row++ {
			for col := 0; col < size; col++ {
				dy, dx := float64(row)-center, float64(col)-center
				// Elliptical radius in the rotated frame.
				u := dx*cos + dy*sin
				v := -dx*sin + dy*cos
				r := math.Sqrt(u*u + (v/q)*(v/q))
				images[offset+row*size+col] = float32(flux * math.Exp(-r/re))

				r2 := dx*dx + dy*dy
				psfs[offset+row*size+col] = float32(
					math.Exp(-r2/(2*psfSigma*psfSigma)) / (2 * math.Pi * psfSigma * psfSigma))
			}
		}
	}

	stampShape := shapes.Make(dtypes.Float32, n, size, size, 1)
	return sample{
		images:        tensors.FromFlatDataAndDimensions(images, stampShape.Dimensions...),
		psfs:          tensors.FromFlatDataAndDimensions(psfs, stampShape.Dimensions...),
		mags:          tensors.FromFlatDataAndDimensions(mags, n),
		radii:         tensors.FromFlatDataAndDimensions(radii, n),
		ellipticities: tensors.FromFlatDataAndDimensions(ellipticities, n),
	}
}
