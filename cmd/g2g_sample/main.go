// g2g_sample loads a trained latent-flow checkpoint, builds its sampling
// artifact and draws latent codes for the requested attribute values.
//
// Example:
//
//	g2g_sample -checkpoint=/tmp/latentmaf \
//	    -values="mag=20.5,21.0;re=0.8,1.2;q=0.9,0.7" -output=codes.bin
//
// With -export the sampling artifact is also saved as a standalone
// checkpoint named "code_sampler" under the given directory.
package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/EiffL/Galaxy2Galaxy/models/latentflow"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagCheckpoint = flag.String("checkpoint", "", "Directory of the trained latent-flow checkpoint. Required.")
	flagValues     = flag.String("values", "", `Attribute values to condition on, e.g. "mag=20.5,21.0;re=0.8,1.2;q=0.9,0.7". All declared attributes must be present, with the same number of values.`)
	flagOutput     = flag.String("output", "", "File to save the sampled codes to. If empty the codes are printed.")
	flagExport     = flag.String("export", "", "Directory to export the standalone code_sampler checkpoint to.")
)

var backend = backends.MustNew()

func main() {
	ctx := latentflow.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	check1(commandline.ParseContextSettings(ctx, *settings))

	if *flagCheckpoint == "" {
		klog.Exitf("-checkpoint is required: it must point to a trained latent-flow checkpoint")
	}
	check1(checkpoints.Load(ctx).Dir(*flagCheckpoint).Done())
	cfg := check1(latentflow.ConfigFromContext(ctx))

	sampler := check1(latentflow.NewCodeSampler(backend, ctx.Reuse(), cfg))
	if *flagExport != "" {
		check(sampler.Export(*flagExport))
		fmt.Printf("Exported %s to %s\n", latentflow.ExportName, *flagExport)
	}
	if *flagValues == "" {
		if *flagExport == "" {
			klog.Exitf("Nothing to do: pass -values to sample codes or -export to export the sampler")
		}
		return
	}

	values := check1(parseValues(*flagValues))
	codes := check1(sampler.Sample(values))
	if *flagOutput != "" {
		check(codes.Save(*flagOutput))
		fmt.Printf("Saved %s codes to %s\n", codes.Shape(), *flagOutput)
		return
	}
	fmt.Printf("%v\n", codes.GoStr())
}

// parseValues parses "name=v1,v2,...;name=..." into per-attribute slices.
func parseValues(spec string) (map[string][]float32, error) {
	values := make(map[string][]float32)
	for _, entry := range strings.Split(spec, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, list, found := strings.Cut(entry, "=")
		if !found {
			return nil, errors.Errorf("malformed attribute entry %q, want name=v1,v2,...", entry)
		}
		for _, field := range strings.Split(list, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing value %q of attribute %q", field, name)
			}
			values[name] = append(values[name], float32(v))
		}
	}
	if len(values) == 0 {
		return nil, errors.New("no attribute values given")
	}
	return values, nil
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
