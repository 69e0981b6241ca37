package segmentation

import (
	"fmt"

	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/luckey-ml/experiments/exputil"
)

const (
	// ParamEpochs is the number of training epochs.
	ParamEpochs = "epochs"

	// ParamSavePeriod is the periodic-checkpoint interval, in epochs.
	ParamSavePeriod = "save_period"

	// ParamFloat16 enables mixed precision: the model runs in float16,
	// while losses are computed in float32.
	ParamFloat16 = "fp16"

	// ParamLossScale multiplies the loss before the backward pass under
	// mixed precision, to keep small gradients from flushing to zero in
	// float16. Reported losses are unscaled.
	ParamLossScale = "loss_scale"
)

// Config of a segmentation training run. All hyperparameters come from
// Context params; Config only carries the run plumbing.
type Config struct {
	Backend backends.Backend
	Context *context.Context

	// TrainDS must be infinite (it is driven by a step-bounded loop);
	// ValidDS must be finite, it is fully evaluated once per epoch.
	TrainDS, ValidDS train.Dataset

	// StepsPerEpoch is the number of training batches per epoch, usually
	// dataset length over batch size.
	StepsPerEpoch int

	// Run receives checkpoints, loss logs and the loss plot.
	Run *exputil.Run

	// ClassWeights re-weights the per-pixel loss per class. May be nil.
	ClassWeights []float64

	// LocalRank of this worker. Only rank 0 prints progress and writes
	// checkpoints and logs; other ranks train silently.
	LocalRank int

	// Verbosity: 0 keeps only the per-epoch summary, 1 adds the progress
	// bar and the final evaluation report.
	Verbosity int
}

// DType returns the tensor dtype of the run, following ParamFloat16.
func (cfg *Config) DType() dtypes.DType {
	if context.GetParamOr(cfg.Context, ParamFloat16, false) {
		return dtypes.Float16
	}
	return dtypes.Float32
}

// Train runs the epoch-based training and validation controller: each epoch
// is StepsPerEpoch training steps followed by a full evaluation pass, the
// losses are appended to the returned history, and checkpoints are retained
// per the periodic/best/last policy.
//
// A failed forward/backward step aborts the run and is returned; partial
// history is returned along with the error.
func Train(cfg *Config) (*exputil.History, error) {
	history := &exputil.History{}
	if cfg.StepsPerEpoch <= 0 {
		return history, errors.Errorf("Config.StepsPerEpoch must be positive, got %d", cfg.StepsPerEpoch)
	}
	ctx := cfg.Context
	primary := cfg.LocalRank == 0
	numEpochs := context.GetParamOr(ctx, ParamEpochs, 100)
	savePeriod := context.GetParamOr(ctx, ParamSavePeriod, 5)
	useFP16 := context.GetParamOr(ctx, ParamFloat16, false)
	lossScale := context.GetParamOr(ctx, ParamLossScale, 1.0)
	if !useFP16 {
		lossScale = 1.0
	}

	lossFn, err := LossFromContext(ctx, cfg.ClassWeights)
	if err != nil {
		return history, err
	}
	if useFP16 {
		lossFn = mixedPrecisionLoss(lossFn, lossScale)
	}

	trainer := train.NewTrainer(cfg.Backend, ctx, ModelGraph, lossFn,
		optimizers.FromContext(ctx),
		[]metrics.Interface{NewMeanFScore("Mean F-Score", "#f1")},
		[]metrics.Interface{NewMeanFScore("Mean F-Score", "#f1")})
	if optimizers.GetGlobalStep(ctx) > 0 {
		trainer.SetContext(ctx.Reuse())
	}

	loop := train.NewLoop(trainer)
	if primary && cfg.Verbosity >= 1 {
		commandline.AttachProgressBar(loop)
	}
	schedule, err := ScheduleFromContext(ctx, numEpochs*cfg.StepsPerEpoch)
	if err != nil {
		return history, err
	}
	AttachSchedule(loop, ctx, cfg.DType(), schedule)

	// Accumulate per-epoch mean train loss from the per-step batch losses.
	var epochLossSum float64
	var epochSteps int
	loop.OnStep("epoch train loss", 100, func(_ *train.Loop, stepMetrics []*tensors.Tensor) error {
		epochLossSum += shapes.ConvertTo[float64](stepMetrics[0].Value())
		epochSteps++
		return nil
	})

	var policy *exputil.CheckpointPolicy
	if primary {
		policy, err = exputil.NewCheckpointPolicy(ctx, cfg.Run, savePeriod, numEpochs)
		if err != nil {
			return history, err
		}
	}

	for epoch := 1; epoch <= numEpochs; epoch++ {
		if primary {
			fmt.Printf("===== Epoch %d/%d\n", epoch, numEpochs)
		}
		epochLossSum, epochSteps = 0, 0
		if _, err := loop.RunSteps(cfg.TrainDS, cfg.StepsPerEpoch); err != nil {
			return history, errors.WithMessagef(err, "epoch %d training failed", epoch)
		}
		trainLoss := epochLossSum / float64(epochSteps) / lossScale

		evalValues, err := trainer.Eval(cfg.ValidDS)
		if err != nil {
			return history, errors.WithMessagef(err, "epoch %d validation failed", epoch)
		}
		cfg.ValidDS.Reset()
		validateLoss := shapes.ConvertTo[float64](evalValues[0].Value()) / lossScale

		history.Append(epoch, trainLoss, validateLoss)
		isBest := history.IsBest(validateLoss)
		if primary {
			fmt.Printf("Total Loss: %.3f || Val Loss: %.3f\n", trainLoss, validateLoss)
			for idx, metric := range trainer.EvalMetrics() {
				if metric.ShortName() == "#f1" {
					fmt.Printf("Val F-Score: %s\n", metric.PrettyPrint(evalValues[idx]))
				}
			}
			if err := policy.EndEpoch(epoch, trainLoss, validateLoss, isBest); err != nil {
				return history, err
			}
		}
	}

	if primary {
		if err := history.WriteLogs(cfg.Run.Dir()); err != nil {
			return history, err
		}
		if err := history.SavePlot(cfg.Run.Join("Losses.png"), "Segmentation training losses"); err != nil {
			return history, err
		}
		if cfg.Verbosity >= 1 {
			if err := commandline.ReportEval(trainer, cfg.ValidDS); err != nil {
				return history, err
			}
		}
	}
	return history, nil
}

// mixedPrecisionLoss computes the wrapped loss in float32 and scales it, so
// the backward pass runs on scaled gradients. Adam-family optimizers
// normalize the update, so the scale only guards against float16 underflow.
func mixedPrecisionLoss(lossFn losses.LossFn, lossScale float64) losses.LossFn {
	return func(labels, predictions []*Node) *Node {
		upcast := make([]*Node, len(predictions))
		for ii, p := range predictions {
			upcast[ii] = ConvertDType(p, dtypes.Float32)
		}
		loss := lossFn(labels, upcast)
		if lossScale != 1.0 {
			loss = MulScalar(loss, lossScale)
		}
		return loss
	}
}
