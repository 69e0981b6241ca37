package segmentation

import (
	"fmt"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
)

const fScoreSmooth = 1e-5

// FScoreGraph computes the mean per-class F1 score of the predictions: the
// softmax probabilities are binarized at 0.5, and per-class true/false
// positives and false negatives are accumulated over the whole batch.
// Pixels labeled outside [0, numClasses) are excluded.
//
// labels[0] must be the sparse mask shaped `[batch, height, width, 1]` and
// predictions[0] the logits shaped `[batch, height, width, numClasses]`.
func FScoreGraph(_ *context.Context, labels, predictions []*Node) *Node {
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
	validExpanded := ExpandAxes(ConvertDType(valid, dtype), -1)
	oneHot = Mul(oneHot, validExpanded)

	probabilities := Softmax(logits)
	predicted := ConvertDType(GreaterThan(probabilities, Scalar(g, dtype, 0.5)), dtype)
	predicted = Mul(predicted, validExpanded)

	tp := ReduceSum(Mul(oneHot, predicted), 0, 1, 2)
	fp := Sub(ReduceSum(predicted, 0, 1, 2), tp)
	fn := Sub(ReduceSum(oneHot, 0, 1, 2), tp)

	score := Div(
		AddScalar(MulScalar(tp, 2), fScoreSmooth),
		AddScalar(Add(MulScalar(tp, 2), Add(fn, fp)), fScoreSmooth))
	return ReduceAllMean(score)
}

func fScorePPrint(value *tensors.Tensor) string {
	return fmt.Sprintf("%.3f", shapes.ConvertTo[float64](value.Value()))
}

// NewMeanFScore returns a metric that averages FScoreGraph over the batches
// of an evaluation or training run.
func NewMeanFScore(name, shortName string) *metrics.MeanMetric {
	return metrics.NewMeanMetric(name, shortName, metrics.AccuracyMetricType, FScoreGraph, fScorePPrint)
}
