// Package transe implements TransE knowledge graph embeddings
// (https://papers.nips.cc/paper/5071-translating-embeddings-for-modeling-multi-relational-data)
// and their margin-ranking training over corrupted negatives.
package transe

import (
	"math"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gopjrt/dtypes"
)

const (
	// ParamDimension is the embedding dimension.
	ParamDimension = "dimension"

	// ParamMargin is the margin of the ranking loss.
	ParamMargin = "margin"

	// ParamNumEntities and ParamNumRelations size the embedding tables.
	// They are set from the dataset before training.
	ParamNumEntities  = "num_entities"
	ParamNumRelations = "num_relations"
)

// ModelGraph builds the TransE scoring graph. inputs are five int32 vectors
// shaped `[batch]`: heads, relations, tails, corrupted heads and corrupted
// tails.
//
// Entity embeddings are L2-normalized on every forward pass, and a triple
// is scored by the L1 distance |h + r - t|. It returns two tensors shaped
// `[batch]`: the distances of the true and of the corrupted triples.
func ModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	g := inputs[0].Graph()
	ctx = ctx.In("model")
	dim := context.GetParamOr(ctx, ParamDimension, 50)
	numEntities := context.GetParamOr(ctx, ParamNumEntities, 0)
	numRelations := context.GetParamOr(ctx, ParamNumRelations, 0)

	// Uniform initialization in ±6/√dim, per the TransE paper.
	bound := 6.0 / math.Sqrt(float64(dim))
	embCtx := ctx.WithInitializer(initializers.RandomUniformFn(ctx, -bound, bound))
	entitiesVar := embCtx.VariableWithShape("entities", shapes.Make(dtypes.Float32, numEntities, dim))
	relationsVar := embCtx.VariableWithShape("relations", shapes.Make(dtypes.Float32, numRelations, dim))

	entities := L2Normalize(entitiesVar.ValueGraph(g), -1)
	relations := relationsVar.ValueGraph(g)

	embed := func(table, indices *Node) *Node {
		return Gather(table, ExpandAxes(indices, -1))
	}
	head, tail := embed(entities, inputs[0]), embed(entities, inputs[2])
	negHead, negTail := embed(entities, inputs[3]), embed(entities, inputs[4])
	relation := embed(relations, inputs[1])

	distance := func(h, r, t *Node) *Node {
		return ReduceSum(Abs(Add(h, Sub(r, t))), -1)
	}
	return []*Node{
		distance(head, relation, tail),
		distance(negHead, relation, negTail),
	}
}

// MarginLoss returns the margin ranking loss over the two distances output
// by ModelGraph: max(0, margin + positive - negative) per example. It takes
// no labels.
func MarginLoss(margin float64) losses.LossFn {
	return func(_, predictions []*Node) *Node {
		positive, negative := predictions[0], predictions[1]
		return MaxScalar(AddScalar(Sub(positive, negative), margin), 0)
	}
}
