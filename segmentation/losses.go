package segmentation

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/pkg/errors"
)

const (
	// ParamUseFocalLoss replaces the cross-entropy term by a focal loss.
	ParamUseFocalLoss = "use_focal_loss"

	// ParamUseDiceLoss adds a soft dice loss term.
	ParamUseDiceLoss = "use_dice_loss"

	// ParamFocalGamma is the focusing exponent of the focal loss.
	ParamFocalGamma = "focal_gamma"

	// ParamFocalAlpha is the balancing factor of the focal loss.
	ParamFocalAlpha = "focal_alpha"
)

const diceSmooth = 1e-5

// pixelCrossEntropy returns the per-pixel cross-entropy of the logits
// (shaped `[batch, height, width, numClasses]`) against the sparse mask
// (shaped `[batch, height, width, 1]`), along with the per-pixel weights:
// the class weight of the labeled class, zeroed for pixels whose label is
// outside [0, numClasses).
func pixelCrossEntropy(mask, logits *Node, classWeights []float64) (crossEntropy, pixelWeights *Node) {
	g := logits.Graph()
	dtype := logits.DType()
	numClasses := logits.Shape().Dimensions[logits.Rank()-1]

	labels := Squeeze(mask, -1)                                    // [batch, height, width]
	valid := And(                                                  // Pixels with a class in range.
		GreaterOrEqual(labels, ScalarZero(g, labels.DType())),
		LessThan(labels, Scalar(g, labels.DType(), numClasses)))
	clamped := Where(valid, labels, ZerosLike(labels))

	oneHot := OneHot(clamped, numClasses, dtype)
	crossEntropy = Neg(ReduceSum(Mul(oneHot, LogSoftmax(logits)), -1))

	pixelWeights = ConvertDType(valid, dtype)
	if len(classWeights) > 0 {
		weightsPerClass := Const(g, classWeights)
		weightsPerClass = ConvertDType(weightsPerClass, dtype)
		pixelWeights = Mul(pixelWeights, Gather(weightsPerClass, ExpandAxes(clamped, -1)))
	}
	return
}

// weightedMean reduces per-pixel losses to a scalar, normalizing by the sum
// of the pixel weights.
func weightedMean(pixelLosses, pixelWeights *Node) *Node {
	total := ReduceAllSum(Mul(pixelLosses, pixelWeights))
	norm := MaxScalar(ReduceAllSum(pixelWeights), 1e-12)
	return Div(total, norm)
}

// CrossEntropyLoss returns a class-weighted cross-entropy loss function over
// per-pixel logits. Pixels labeled outside [0, numClasses) are ignored.
// classWeights may be nil for uniform weighting.
func CrossEntropyLoss(classWeights []float64) losses.LossFn {
	return func(labels, predictions []*Node) *Node {
		crossEntropy, pixelWeights := pixelCrossEntropy(labels[0], predictions[0], classWeights)
		return weightedMean(crossEntropy, pixelWeights)
	}
}

// FocalLoss returns a class-weighted focal loss function over per-pixel
// logits: alpha * (1-p)^gamma * crossEntropy, where p is the predicted
// probability of the true class. See https://arxiv.org/abs/1708.02002.
func FocalLoss(classWeights []float64, gamma, alpha float64) losses.LossFn {
	return func(labels, predictions []*Node) *Node {
		crossEntropy, pixelWeights := pixelCrossEntropy(labels[0], predictions[0], classWeights)
		pt := Exp(Neg(crossEntropy))
		focal := MulScalar(Mul(PowScalar(OneMinus(pt), gamma), crossEntropy), alpha)
		return weightedMean(focal, pixelWeights)
	}
}

// DiceLoss returns a soft dice loss function: one minus the mean per-class
// F1 of the softmax probabilities against the one-hot mask. Pixels labeled
// outside [0, numClasses) are excluded.
func DiceLoss() losses.LossFn {
	return func(labels, predictions []*Node) *Node {
		logits := predictions[0]
		g := logits.Graph()
		dtype := logits.DType()
		numClasses := logits.Shape().Dimensions[logits.Rank()-1]

		mask := Squeeze(labels[0], -1)
		valid := And(
			GreaterOrEqual(mask, ScalarZero(g, mask.DType())),
			LessThan(mask, Scalar(g, mask.DType(), numClasses)))
		clamped := Where(valid, mask, ZerosLike(mask))
		oneHot := OneHot(clamped, numClasses, dtype)
		// Zero out the ignored pixels in both the target and the prediction.
		validExpanded := ExpandAxes(ConvertDType(valid, dtype), -1)
		oneHot = Mul(oneHot, validExpanded)
		probabilities := Mul(Softmax(logits), validExpanded)

		// Per-class true/false positives/negatives, reduced over batch and pixels.
		tp := ReduceSum(Mul(oneHot, probabilities), 0, 1, 2)
		fp := Sub(ReduceSum(probabilities, 0, 1, 2), tp)
		fn := Sub(ReduceSum(oneHot, 0, 1, 2), tp)

		score := Div(
			AddScalar(MulScalar(tp, 2), diceSmooth),
			AddScalar(Add(MulScalar(tp, 2), Add(fn, fp)), diceSmooth))
		return OneMinus(ReduceAllMean(score))
	}
}

// LossFromContext assembles the training loss from the context
// hyperparameters: cross-entropy or focal loss (ParamUseFocalLoss), plus an
// optional dice term (ParamUseDiceLoss).
func LossFromContext(ctx *context.Context, classWeights []float64) (losses.LossFn, error) {
	var base losses.LossFn
	if context.GetParamOr(ctx, ParamUseFocalLoss, false) {
		gamma := context.GetParamOr(ctx, ParamFocalGamma, 2.0)
		alpha := context.GetParamOr(ctx, ParamFocalAlpha, 0.5)
		if gamma < 0 {
			return nil, errors.Errorf("hyperparameter %q must be non-negative, got %g", ParamFocalGamma, gamma)
		}
		base = FocalLoss(classWeights, gamma, alpha)
	} else {
		base = CrossEntropyLoss(classWeights)
	}
	if !context.GetParamOr(ctx, ParamUseDiceLoss, false) {
		return base, nil
	}
	dice := DiceLoss()
	return func(labels, predictions []*Node) *Node {
		return Add(base(labels, predictions), dice(labels, predictions))
	}, nil
}
