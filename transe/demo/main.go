// WN18 knowledge graph embedding demo trainer.
//
// It trains TransE embeddings over the WN18 dataset (the WordNet subset
// released with https://everest.hds.utc.fr/doku.php?id=en:transe).
// Interrupting the training with Ctrl+C removes the partial run output.
package main

import (
	"flag"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/luckey-ml/experiments/exputil"
	"github.com/luckey-ml/experiments/transe"
	"github.com/luckey-ml/experiments/wn18"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagDataDir = flag.String("data", "~/work/wn18",
		"Directory with the wordnet-mlj12 definition and triple files.")
	flagOutputDir = flag.String("output", "~/work/wn18/runs",
		"Directory under which each run creates its timestamped output directory.")
	flagVerbosity = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose.")
)

// createDefaultContext sets the context with default hyperparameters.
func createDefaultContext() *context.Context {
	ctx := context.New()
	ctx.ResetRNGState()
	ctx.SetParams(map[string]any{
		"batch_size": 100,

		transe.ParamEpochs:     50,
		transe.ParamSavePeriod: 5,
		transe.ParamDimension:  50,
		transe.ParamMargin:     1.0,

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 0.01,
	})
	return ctx
}

func main() {
	ctx := createDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	must.M1(commandline.ParseContextSettings(ctx, *settings))

	dataDir := fsutil.MustReplaceTildeInDir(*flagDataDir)
	outputDir := fsutil.MustReplaceTildeInDir(*flagOutputDir)

	backend := backends.MustNew()
	if *flagVerbosity >= 1 {
		fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())
	}

	defs := must.M1(wn18.LoadDefinitions(filepath.Join(dataDir, "wordnet-mlj12-definitions.txt")))
	trainTriples := must.M1(wn18.LoadTriples(dataDir, "train", defs))
	validTriples := must.M1(wn18.LoadTriples(dataDir, "valid", defs))
	if *flagVerbosity >= 1 {
		fmt.Printf("WN18: %s entities, %d relations, %s training and %s validation triples\n",
			humanize.Comma(int64(defs.NumEntities())), defs.NumRelations(),
			humanize.Comma(int64(len(trainTriples))), humanize.Comma(int64(len(validTriples))))
	}

	batchSize := context.GetParamOr(ctx, "batch_size", 0)
	if batchSize <= 0 {
		exceptions.Panicf("batch_size must be > 0, got %d", batchSize)
	}
	run := must.M1(exputil.NewRun(outputDir))
	fmt.Printf("Run output: %s\n", run.Dir())
	cancel := run.CleanupOnInterrupt()
	defer cancel()

	cfg := &transe.Config{
		Backend:      backend,
		Context:      ctx,
		Definitions:  defs,
		TrainSampler: wn18.NewSampler("train", trainTriples, defs.NumEntities(), batchSize),
		ValidSampler: wn18.NewSampler("valid", validTriples, defs.NumEntities(), batchSize),
		Run:          run,
		Verbosity:    *flagVerbosity,
	}
	history := must.M1(transe.Train(cfg))
	if history.Len() > 0 {
		fmt.Printf("Best validation loss: %.3f\n", history.MinValidate())
	}
}
