package segmentation

import (
	"math"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

const lossTestDelta = 1e-3

// evalLoss compiles and runs a loss over a fixed mask and logits.
func evalLoss(t *testing.T, name string, lossFn losses.LossFn, mask [][][][]int32, logits [][][][]float32) float64 {
	t.Helper()
	backend := graphtest.BuildTestBackend()
	g := NewGraph(backend, name)
	loss := lossFn([]*Node{Const(g, mask)}, []*Node{Const(g, logits)})
	g.Compile(loss)
	results := g.Run()
	return shapes.ConvertTo[float64](results[0].Value())
}

// softmax2 returns the probability of the first of two logits.
func softmax2(a, b float64) float64 {
	return math.Exp(a) / (math.Exp(a) + math.Exp(b))
}

func TestCrossEntropyLoss(t *testing.T) {
	// Single pixel, two classes, labeled 0.
	mask := [][][][]int32{{{{0}}}}
	logits := [][][][]float32{{{{2, 0}}}}
	got := evalLoss(t, "ce_single", CrossEntropyLoss(nil), mask, logits)
	want := -math.Log(softmax2(2, 0))
	assert.InDelta(t, want, got, lossTestDelta)

	// Pixels labeled outside the class range are excluded from the mean.
	mask = [][][][]int32{{{{0}, {7}}}}
	logits = [][][][]float32{{{{2, 0}, {5, 5}}}}
	got = evalLoss(t, "ce_ignored", CrossEntropyLoss(nil), mask, logits)
	assert.InDelta(t, want, got, lossTestDelta)

	// Class weights re-weight the per-pixel mean.
	mask = [][][][]int32{{{{0}, {1}}}}
	logits = [][][][]float32{{{{2, 0}, {0, 1}}}}
	ce0 := -math.Log(softmax2(2, 0))
	ce1 := -math.Log(softmax2(1, 0))
	got = evalLoss(t, "ce_weighted", CrossEntropyLoss([]float64{1, 3}), mask, logits)
	assert.InDelta(t, (1*ce0+3*ce1)/4, got, lossTestDelta)
}

func TestFocalLoss(t *testing.T) {
	mask := [][][][]int32{{{{0}}}}
	logits := [][][][]float32{{{{2, 0}}}}

	// With gamma=0 and alpha=1 the focal loss is the cross-entropy.
	gotFocal := evalLoss(t, "focal_gamma0", FocalLoss(nil, 0, 1), mask, logits)
	wantCE := -math.Log(softmax2(2, 0))
	assert.InDelta(t, wantCE, gotFocal, lossTestDelta)

	// The focusing term downweights well-classified pixels.
	p := softmax2(2, 0)
	gotFocal = evalLoss(t, "focal_gamma2", FocalLoss(nil, 2, 1), mask, logits)
	assert.InDelta(t, math.Pow(1-p, 2)*wantCE, gotFocal, lossTestDelta)
	assert.Less(t, gotFocal, wantCE)
}

func TestDiceLoss(t *testing.T) {
	// Confident, correct predictions: dice loss close to zero.
	mask := [][][][]int32{{{{0}, {1}}}}
	logits := [][][][]float32{{{{10, -10}, {-10, 10}}}}
	got := evalLoss(t, "dice_perfect", DiceLoss(), mask, logits)
	assert.InDelta(t, 0, got, lossTestDelta)

	// Labels [0, 0, 1, 1], confident predictions [0, 1, 1, 1]:
	// class 0 dice = 2*1/(2*1+1+0), class 1 dice = 2*2/(2*2+0+1).
	mask = [][][][]int32{{{{0}, {0}, {1}, {1}}}}
	logits = [][][][]float32{{{{10, -10}, {-10, 10}, {-10, 10}, {-10, 10}}}}
	got = evalLoss(t, "dice_miss", DiceLoss(), mask, logits)
	want := 1 - (2.0/3.0+4.0/5.0)/2
	assert.InDelta(t, want, got, lossTestDelta)
}

func TestLossFromContext(t *testing.T) {
	mask := [][][][]int32{{{{0}}}}
	logits := [][][][]float32{{{{2, 0}}}}
	wantCE := -math.Log(softmax2(2, 0))

	ctx := context.New()
	lossFn, err := LossFromContext(ctx, nil)
	require.NoError(t, err)
	assert.InDelta(t, wantCE, evalLoss(t, "from_ctx_ce", lossFn, mask, logits), lossTestDelta)

	// Focal loss replaces the cross-entropy term.
	ctx.SetParam(ParamUseFocalLoss, true)
	lossFn, err = LossFromContext(ctx, nil)
	require.NoError(t, err)
	p := softmax2(2, 0)
	wantFocal := 0.5 * math.Pow(1-p, 2) * wantCE
	assert.InDelta(t, wantFocal, evalLoss(t, "from_ctx_focal", lossFn, mask, logits), lossTestDelta)

	// Dice adds on top of the selected base loss.
	ctx.SetParam(ParamUseFocalLoss, false)
	ctx.SetParam(ParamUseDiceLoss, true)
	lossFn, err = LossFromContext(ctx, nil)
	require.NoError(t, err)
	diceOnly := evalLoss(t, "from_ctx_dice_only", DiceLoss(), mask, logits)
	got := evalLoss(t, "from_ctx_ce_dice", lossFn, mask, logits)
	assert.InDelta(t, wantCE+diceOnly, got, lossTestDelta)

	ctx.SetParam(ParamUseFocalLoss, true)
	ctx.SetParam(ParamFocalGamma, -1.0)
	_, err = LossFromContext(ctx, nil)
	require.Error(t, err)
}
