// Cityscapes semantic segmentation demo trainer.
//
// It trains the encoder/decoder segmentation model over the Cityscapes
// dataset, which must be already downloaded (the dataset requires
// registration, see https://www.cityscapes-dataset.com).
package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/luckey-ml/experiments/cityscapes"
	"github.com/luckey-ml/experiments/exputil"
	"github.com/luckey-ml/experiments/segmentation"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagDataDir = flag.String("data", "~/work/cityscapes",
		"Directory with the Cityscapes leftImg8bit/ and gtFine/ trees.")
	flagOutputDir = flag.String("output", "~/work/cityscapes/runs",
		"Directory under which each run creates its timestamped output directory.")
	flagCheckpoint = flag.String("checkpoint", "",
		"Optional checkpoint directory to load the model from before training, "+
			"e.g. the \"last\" directory of a previous run.")
	flagClassWeights = flag.String("class_weights", "",
		"Optional comma-separated per-class loss weights, one per trained class.")
	flagLocalRank = flag.Int("local_rank", 0,
		"Rank of this worker when launched as part of a distributed group. "+
			"Only rank 0 prints progress and writes checkpoints and logs.")
	flagVerbosity = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose.")
)

// createDefaultContext sets the context with default hyperparameters.
func createDefaultContext() *context.Context {
	ctx := context.New()
	ctx.ResetRNGState()
	ctx.SetParams(map[string]any{
		"batch_size":      4,
		"eval_batch_size": 8,

		// Images and masks are resized to img_width x img_height.
		"img_width":  1024,
		"img_height": 512,

		segmentation.ParamEpochs:       100,
		segmentation.ParamSavePeriod:   5,
		segmentation.ParamNumClasses:   cityscapes.NumTrainClasses,
		segmentation.ParamNumLevels:    3,
		segmentation.ParamBaseChannels: 16,

		segmentation.ParamLRDecayType:     "cos",
		segmentation.ParamMinLearningRate: 1e-6,
		segmentation.ParamLRStepNum:       10,

		segmentation.ParamUseFocalLoss: false,
		segmentation.ParamUseDiceLoss:  false,
		segmentation.ParamFocalGamma:   2.0,
		segmentation.ParamFocalAlpha:   0.25,

		segmentation.ParamFloat16:   false,
		segmentation.ParamLossScale: 128.0,

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 1e-4,
		activations.ParamActivation:  "relu",
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
	primary := *flagLocalRank == 0

	backend := backends.MustNew()
	if primary && *flagVerbosity >= 1 {
		fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())
	}

	cfg := &segmentation.Config{
		Backend:      backend,
		Context:      ctx,
		LocalRank:    *flagLocalRank,
		Verbosity:    *flagVerbosity,
		ClassWeights: parseClassWeights(ctx, *flagClassWeights),
	}

	batchSize := context.GetParamOr(ctx, "batch_size", 0)
	if batchSize <= 0 {
		exceptions.Panicf("batch_size must be > 0, got %d", batchSize)
	}
	evalBatchSize := context.GetParamOr(ctx, "eval_batch_size", 0)
	if evalBatchSize <= 0 {
		evalBatchSize = batchSize
	}
	width := context.GetParamOr(ctx, "img_width", 0)
	height := context.GetParamOr(ctx, "img_height", 0)

	dtype := cfg.DType()
	trainBase := must.M1(cityscapes.NewDataset("train", dataDir, "train", dtype))
	validBase := must.M1(cityscapes.NewDataset("valid", dataDir, "val", dtype))
	if primary && *flagVerbosity >= 1 {
		fmt.Printf("Cityscapes: %s training and %s validation images\n",
			humanize.Comma(int64(trainBase.Len())), humanize.Comma(int64(validBase.Len())))
	}
	trainDS := trainBase.Copy().ImageSize(width, height).ToTrainIDs().
		Batch(batchSize, true).Shuffle().Infinite(true)
	cfg.StepsPerEpoch = trainDS.NumBatches()
	cfg.TrainDS = datasets.Parallel(trainDS)
	cfg.ValidDS = validBase.ImageSize(width, height).ToTrainIDs().Batch(evalBatchSize, false)

	if *flagCheckpoint != "" {
		checkpointPath := fsutil.MustReplaceTildeInDir(*flagCheckpoint)
		must.M1(checkpoints.Build(ctx).Dir(checkpointPath).Keep(1).Done())
		if globalStep := optimizers.GetGlobalStep(ctx); globalStep > 0 && primary {
			fmt.Printf("Resuming training from global step %d\n", globalStep)
		}
	}

	cfg.Run = must.M1(exputil.NewRun(outputDir))
	if primary {
		fmt.Printf("Run output: %s\n", cfg.Run.Dir())
	}

	history := must.M1(segmentation.Train(cfg))
	if primary && history.Len() > 0 {
		fmt.Printf("Best validation loss: %.3f\n", history.MinValidate())
	}
}

// parseClassWeights parses the -class_weights flag. An empty flag means
// uniform weighting.
func parseClassWeights(ctx *context.Context, flagValue string) []float64 {
	if flagValue == "" {
		return nil
	}
	numClasses := context.GetParamOr(ctx, segmentation.ParamNumClasses, 0)
	parts := strings.Split(flagValue, ",")
	if len(parts) != numClasses {
		exceptions.Panicf("-class_weights has %d values, expected one per class (%d)",
			len(parts), numClasses)
	}
	weights := make([]float64, len(parts))
	for ii, part := range parts {
		weights[ii] = must.M1(strconv.ParseFloat(strings.TrimSpace(part), 64))
	}
	return weights
}
