package wn18

import (
	"math/rand"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
)

// Sampler implements train.Dataset over a triple set: each Yield draws a
// random batch of triples and pairs each with a corrupted negative, where
// either the head or the tail (chosen 50/50) is replaced by a uniformly
// random entity.
//
// The dataset is infinite: bound an epoch by the number of steps run. It is
// safe for concurrent Yield calls.
type Sampler struct {
	name        string
	triples     []Triple
	numEntities int
	batchSize   int

	mu  sync.Mutex
	rng *rand.Rand
}

var _ train.Dataset = &Sampler{}

// NewSampler creates a Sampler over the given triples. numEntities bounds
// the entities drawn for corruption, usually Definitions.NumEntities().
// It panics if batchSize is below 1.
func NewSampler(name string, triples []Triple, numEntities, batchSize int) *Sampler {
	if batchSize < 1 {
		exceptions.Panicf("batch size must be at least 1, got %d", batchSize)
	}
	return &Sampler{
		name:        name,
		triples:     triples,
		numEntities: numEntities,
		batchSize:   batchSize,
		rng:         rand.New(rand.NewSource(42)),
	}
}

// Len returns the number of triples sampled from.
func (s *Sampler) Len() int { return len(s.triples) }

// NumBatches returns the number of batches that cover the triple set once,
// plus extra to cover the remainder if extraForRemainder.
func (s *Sampler) NumBatches(extraForRemainder bool) int {
	n := len(s.triples) / s.batchSize
	if extraForRemainder {
		n++
	}
	return n
}

// Name implements train.Dataset.
func (s *Sampler) Name() string { return s.name }

// Reset implements train.Dataset. Sampling is random with replacement, so
// there is no iteration state to reset.
func (s *Sampler) Reset() {}

// Yield implements train.Dataset. It returns:
//
//   - spec: the Sampler itself.
//   - inputs: five int32 tensors shaped `[batch]`: heads, relations, tails,
//     corrupted heads and corrupted tails.
//   - labels: none, the margin loss is computed from the inputs alone.
func (s *Sampler) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	spec = s
	heads := make([]int32, s.batchSize)
	relations := make([]int32, s.batchSize)
	tails := make([]int32, s.batchSize)
	negHeads := make([]int32, s.batchSize)
	negTails := make([]int32, s.batchSize)

	s.mu.Lock()
	for ii := 0; ii < s.batchSize; ii++ {
		triple := s.triples[s.rng.Intn(len(s.triples))]
		heads[ii] = triple.Head
		relations[ii] = triple.Relation
		tails[ii] = triple.Tail
		negHeads[ii] = triple.Head
		negTails[ii] = triple.Tail
		corrupted := int32(s.rng.Intn(s.numEntities))
		if s.rng.Intn(2) == 0 {
			negHeads[ii] = corrupted
		} else {
			negTails[ii] = corrupted
		}
	}
	s.mu.Unlock()

	inputs = []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(heads, s.batchSize),
		tensors.FromFlatDataAndDimensions(relations, s.batchSize),
		tensors.FromFlatDataAndDimensions(tails, s.batchSize),
		tensors.FromFlatDataAndDimensions(negHeads, s.batchSize),
		tensors.FromFlatDataAndDimensions(negTails, s.batchSize),
	}
	return
}
