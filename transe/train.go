package transe

import (
	"fmt"
	"time"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"

	"github.com/luckey-ml/experiments/exputil"
	"github.com/luckey-ml/experiments/wn18"
)

const (
	// ParamEpochs is the number of training epochs.
	ParamEpochs = "epochs"

	// ParamSavePeriod is the periodic-checkpoint interval, in epochs.
	ParamSavePeriod = "save_period"
)

// Config of a TransE training run. Hyperparameters come from Context params;
// Config carries the run plumbing.
type Config struct {
	Backend backends.Backend
	Context *context.Context

	// Definitions give the entity and relation vocabularies. They size the
	// embedding tables.
	Definitions *wn18.Definitions

	// TrainSampler and ValidSampler draw random batches with corrupted
	// negatives. Both are infinite, so each epoch is bounded in batches.
	TrainSampler, ValidSampler *wn18.Sampler

	// Run receives checkpoints, loss logs and the loss plot.
	Run *exputil.Run

	// Verbosity: 0 keeps only the per-epoch summary, 1 adds a per-epoch
	// progress bar.
	Verbosity int
}

// Train runs the epoch-based TransE training controller: each epoch draws
// one pass worth of random batches from the training sampler, then measures
// the margin loss on one pass (plus one batch) from the validation sampler.
// Per-epoch losses are appended to the returned history, and checkpoints are
// retained per the periodic/best/last policy.
//
// Partial history is returned along with any error.
func Train(cfg *Config) (*exputil.History, error) {
	history := &exputil.History{}
	ctx := cfg.Context
	ctx.SetParam(ParamNumEntities, cfg.Definitions.NumEntities())
	ctx.SetParam(ParamNumRelations, cfg.Definitions.NumRelations())
	numEpochs := context.GetParamOr(ctx, ParamEpochs, 50)
	savePeriod := context.GetParamOr(ctx, ParamSavePeriod, 5)
	margin := context.GetParamOr(ctx, ParamMargin, 1.0)

	trainBatches := cfg.TrainSampler.NumBatches(false)
	validateBatches := cfg.ValidSampler.NumBatches(true)
	if trainBatches < 1 {
		return history, errors.Errorf("training set has fewer triples (%d) than one batch",
			cfg.TrainSampler.Len())
	}

	trainer := train.NewTrainer(cfg.Backend, ctx, ModelGraph, MarginLoss(margin),
		optimizers.FromContext(ctx), nil, nil)
	if optimizers.GetGlobalStep(ctx) > 0 {
		trainer.SetContext(ctx.Reuse())
	}
	loop := train.NewLoop(trainer)

	// Per-epoch mean train loss, accumulated from the per-step batch losses.
	var epochLossSum float64
	var epochSteps int
	var bar *progressbar.ProgressBar
	loop.OnStep("epoch train loss", 100, func(_ *train.Loop, stepMetrics []*tensors.Tensor) error {
		epochLossSum += shapes.ConvertTo[float64](stepMetrics[0].Value())
		epochSteps++
		if bar != nil {
			_ = bar.Add(1)
		}
		return nil
	})

	policy, err := exputil.NewCheckpointPolicy(ctx, cfg.Run, savePeriod, numEpochs)
	if err != nil {
		return history, err
	}

	start := time.Now()
	for epoch := 1; epoch <= numEpochs; epoch++ {
		epochLossSum, epochSteps = 0, 0
		if cfg.Verbosity >= 1 {
			bar = progressbar.Default(int64(trainBatches), fmt.Sprintf("Epoch %d/%d", epoch, numEpochs))
		}
		if _, err := loop.RunSteps(cfg.TrainSampler, trainBatches); err != nil {
			return history, errors.WithMessagef(err, "epoch %d training failed", epoch)
		}
		if bar != nil {
			_ = bar.Finish()
			bar = nil
		}
		trainLoss := epochLossSum / float64(epochSteps)

		evalValues, err := trainer.Eval(datasets.Take(cfg.ValidSampler, validateBatches))
		if err != nil {
			return history, errors.WithMessagef(err, "epoch %d validation failed", epoch)
		}
		validateLoss := shapes.ConvertTo[float64](evalValues[0].Value())

		history.Append(epoch, trainLoss, validateLoss)
		isBest := history.IsBest(validateLoss)
		elapsed := time.Since(start)
		eta := elapsed / time.Duration(epoch) * time.Duration(numEpochs-epoch)
		fmt.Printf("Epoch %d/%d | Train loss: %.3f | Validate loss: %.3f | Elapsed: %s | ETA: %s\n",
			epoch, numEpochs, trainLoss, validateLoss,
			commandline.FormatDuration(elapsed), commandline.FormatDuration(eta))
		if err := policy.EndEpoch(epoch, trainLoss, validateLoss, isBest); err != nil {
			return history, err
		}
	}

	if err := history.WriteLogs(cfg.Run.Dir()); err != nil {
		return history, err
	}
	if err := history.SavePlot(cfg.Run.Join("Losses.png"), "TransE training losses"); err != nil {
		return history, err
	}
	return history, nil
}
