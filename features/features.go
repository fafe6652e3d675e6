// Package features defines the feature bundle fed to model bodies: a mapping from
// named feature keys to graph nodes, produced by the data pipeline and consumed
// read-only during graph construction.
//
// Lookups of missing keys panic at graph-construction time -- there is no
// defaulting. This mirrors how shape mismatches are handled: the failure aborts
// graph construction with the underlying error, and the training framework
// surfaces it.
package features

import (
	"sort"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/graph"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
)

// Well-known feature keys shared by the models in this repository.
const (
	// Inputs is the conditioning image.
	Inputs = "inputs"

	// TargetsRaw is the ground-truth image whose likelihood is modeled.
	TargetsRaw = "targets_raw"

	// PSF is the optional point-spread-function image accompanying Inputs.
	PSF = "psf"
)

// Bundle maps feature names to their graph nodes.
//
// It is transient: build one per graph construction from the positional inputs
// the dataset yields, use it while building the model graph, and let it go.
type Bundle map[string]*graph.Node

// FromInputs builds a Bundle pairing names with the positional inputs, in order.
func FromInputs(names []string, inputs []*graph.Node) Bundle {
	if len(names) != len(inputs) {
		Panicf("features: %d names given for %d inputs", len(names), len(inputs))
	}
	b := make(Bundle, len(names))
	for ii, name := range names {
		b[name] = inputs[ii]
	}
	return b
}

// Get returns the node for the given feature key.
// It panics with a key-lookup error if the key is absent.
func (b Bundle) Get(name string) *graph.Node {
	node, found := b[name]
	if !found {
		Panicf("features: no feature %q in bundle -- available features are [%s]",
			name, strings.Join(b.Names(), ", "))
	}
	return node
}

// Has reports whether the bundle carries the given feature.
func (b Bundle) Has(name string) bool {
	_, found := b[name]
	return found
}

// Names returns the sorted list of feature keys present.
func (b Bundle) Names() []string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
