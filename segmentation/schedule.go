package segmentation

import (
	"math"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Schedule maps a global training step (0-based) to a learning rate.
type Schedule func(step int) float64

const (
	// ParamLRDecayType selects the learning rate schedule: "cos" (default)
	// for WarmupCosineSchedule or "step" for StepSchedule.
	ParamLRDecayType = "lr_decay_type"

	// ParamMinLearningRate is the learning rate floor for both schedules.
	ParamMinLearningRate = "min_learning_rate"

	// ParamLRStepNum is the number of decay steps for the "step" schedule.
	ParamLRStepNum = "lr_step_num"
)

// WarmupCosineSchedule anneals the learning rate from lr down to minLR over
// totalSteps with a cosine curve, preceded by a short quadratic warmup and
// followed by a tail held at minLR.
//
// The warmup spans 10% of the total steps, clamped to [1, 3], and ramps
// quadratically from max(0.1*lr, 1e-6) up to lr. The tail spans 30% of the
// total steps, clamped to [1, 15].
func WarmupCosineSchedule(lr, minLR float64, totalSteps int) Schedule {
	warmupSteps := math.Min(math.Max(0.1*float64(totalSteps), 1), 3)
	warmupStart := math.Max(0.1*lr, 1e-6)
	tailSteps := math.Min(math.Max(0.3*float64(totalSteps), 1), 15)
	return func(step int) float64 {
		iters := float64(step)
		switch {
		case iters <= warmupSteps:
			ramp := iters / warmupSteps
			return (lr-warmupStart)*ramp*ramp + warmupStart
		case iters >= float64(totalSteps)-tailSteps:
			return minLR
		default:
			return minLR + 0.5*(lr-minLR)*
				(1.0+math.Cos(math.Pi*(iters-warmupSteps)/(float64(totalSteps)-warmupSteps-tailSteps)))
		}
	}
}

// StepSchedule decays the learning rate by decayRate every stepSize steps:
// lr * decayRate^floor(step/stepSize). stepSize may be fractional but must
// be at least 1.
func StepSchedule(lr, decayRate, stepSize float64) (Schedule, error) {
	if stepSize < 1 {
		return nil, errors.Errorf("stepSize must be at least 1, got %g", stepSize)
	}
	return func(step int) float64 {
		n := math.Floor(float64(step) / stepSize)
		return lr * math.Pow(decayRate, n)
	}, nil
}

// ScheduleFromContext builds the learning rate schedule selected by the
// context hyperparameters ParamLRDecayType, optimizers.ParamLearningRate,
// ParamMinLearningRate and ParamLRStepNum.
//
// For the "step" schedule the decay rate is derived so that the learning
// rate reaches the minimum on the last decay step:
// decayRate = (minLR/lr)^(1/(stepNum-1)), stepSize = totalSteps/stepNum.
func ScheduleFromContext(ctx *context.Context, totalSteps int) (Schedule, error) {
	lr := context.GetParamOr(ctx, optimizers.ParamLearningRate, 1e-2)
	minLR := context.GetParamOr(ctx, ParamMinLearningRate, lr*1e-2)
	decayType := context.GetParamOr(ctx, ParamLRDecayType, "cos")
	switch decayType {
	case "cos":
		return WarmupCosineSchedule(lr, minLR, totalSteps), nil
	case "step":
		stepNum := context.GetParamOr(ctx, ParamLRStepNum, 10)
		if stepNum < 2 {
			return nil, errors.Errorf("hyperparameter %q must be at least 2, got %d", ParamLRStepNum, stepNum)
		}
		decayRate := math.Pow(minLR/lr, 1/float64(stepNum-1))
		stepSize := float64(totalSteps) / float64(stepNum)
		return StepSchedule(lr, decayRate, stepSize)
	default:
		return nil, errors.Errorf("unknown value %q for hyperparameter %q: must be \"cos\" or \"step\"",
			decayType, ParamLRDecayType)
	}
}

// AttachSchedule keeps the optimizer's learning rate variable in sync with
// the given schedule, indexed by the loop's global step. When resuming from
// a checkpoint the initial rate picks up at the restored global step.
func AttachSchedule(loop *train.Loop, ctx *context.Context, dtype dtypes.DType, schedule Schedule) {
	globalStep := int(optimizers.GetGlobalStep(ctx))
	lrVar := optimizers.LearningRateVarWithValue(ctx, dtype, schedule(globalStep))
	loop.OnStep("learning rate schedule", 0, func(loop *train.Loop, _ []*tensors.Tensor) error {
		// Hooks run after the step executes, so this prepares the rate for the next step.
		lr := schedule(loop.LoopStep + 1)
		return lrVar.SetValue(tensors.FromAnyValue(shapes.CastAsDType(lr, dtype)))
	})
}
