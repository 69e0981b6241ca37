// Package segmentation implements training of semantic segmentation models:
// the model graph, per-pixel losses (cross-entropy, focal and dice), the
// F-score metric, learning rate schedules and an epoch-based training and
// validation controller with checkpointing.
package segmentation

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
)

const (
	// ParamNumClasses is the number of output classes of the model.
	ParamNumClasses = "num_classes"

	// ParamNumLevels is the number of downsampling levels of the encoder.
	ParamNumLevels = "seg_num_levels"

	// ParamBaseChannels is the channel count of the first encoder level.
	// Each level doubles it.
	ParamBaseChannels = "seg_base_channels"
)

// ModelGraph builds an encoder-decoder segmentation model: a stack of
// strided convolution levels followed by bilinear upsampling back to the
// input resolution. inputs[0] must be the images batch shaped
// `[batch, height, width, 3]`.
//
// It returns one tensor with the per-pixel logits, shaped
// `[batch, height, width, num_classes]`.
func ModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	ctx = ctx.In("model")
	images := inputs[0]
	batchSize := images.Shape().Dimensions[0]
	height := images.Shape().Dimensions[1]
	width := images.Shape().Dimensions[2]
	numClasses := context.GetParamOr(ctx, ParamNumClasses, 19)
	numLevels := context.GetParamOr(ctx, ParamNumLevels, 3)
	channels := context.GetParamOr(ctx, ParamBaseChannels, 16)

	x := images
	for level := range numLevels {
		ctx := ctx.Inf("%03d_encoder", level)
		x = layers.Convolution(ctx.In("conv_a"), x).Channels(channels).KernelSize(3).PadSame().Done()
		x = activations.ApplyFromContext(ctx, x)
		x = batchnorm.New(ctx, x, -1).Done()
		residual := x
		x = layers.Convolution(ctx.In("conv_b"), x).Channels(channels).KernelSize(3).PadSame().Done()
		x = activations.ApplyFromContext(ctx, x)
		if residual.Shape().Equal(x.Shape()) {
			x = Add(x, residual)
		}
		x = MaxPool(x).Window(2).Done()
		channels *= 2
	}

	// Bottleneck at the lowest resolution.
	x = layers.Convolution(ctx.In("bottleneck"), x).Channels(channels).KernelSize(3).PadSame().Done()
	x = activations.ApplyFromContext(ctx.In("bottleneck"), x)

	for level := range numLevels {
		ctx := ctx.Inf("%03d_decoder", level)
		channels /= 2
		x = Interpolate(x, timage.GetUpSampledSizes(x, timage.ChannelsLast, 2)...).Bilinear().Done()
		x = layers.Convolution(ctx, x).Channels(channels).KernelSize(3).PadSame().Done()
		x = activations.ApplyFromContext(ctx, x)
	}

	// MaxPool floors odd spatial dimensions, recover the exact input size.
	if x.Shape().Dimensions[1] != height || x.Shape().Dimensions[2] != width {
		x = Interpolate(x, batchSize, height, width, x.Shape().Dimensions[3]).Bilinear().Done()
	}
	logits := layers.Convolution(ctx.In("readout"), x).Channels(numClasses).KernelSize(1).PadSame().Done()
	logits.AssertDims(batchSize, height, width, numClasses)
	return []*Node{logits}
}
