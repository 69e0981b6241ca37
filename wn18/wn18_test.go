package wn18

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDefinitions = "06845599\tmoney\tthe most common medium of exchange\n" +
	"02958343\tcar\ta motor vehicle with four wheels\n" +
	"00001740\tentity\tthat which is perceived or known\n"

func writeTestDataset(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "wordnet-mlj12-definitions.txt"), []byte(testDefinitions), 0666))
	train := "06845599\t_hypernym\t00001740\n" +
		"02958343\t_hypernym\t00001740\n" +
		"02958343\t_also_see\t06845599\n"
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "wordnet-mlj12-train.txt"), []byte(train), 0666))
	valid := "06845599\t_also_see\t02958343\n"
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "wordnet-mlj12-valid.txt"), []byte(valid), 0666))
	return dir
}

func TestLoadDefinitions(t *testing.T) {
	dir := writeTestDataset(t)
	defs, err := LoadDefinitions(filepath.Join(dir, "wordnet-mlj12-definitions.txt"))
	require.NoError(t, err)

	assert.Equal(t, 3, defs.NumEntities())
	assert.Equal(t, 18, defs.NumRelations())

	// Dense indices follow file order.
	index, found := defs.EntityIndex("02958343")
	require.True(t, found)
	assert.Equal(t, int32(1), index)
	assert.Equal(t, "car", defs.Entity(index).Word)

	_, found = defs.EntityIndex("99999999")
	assert.False(t, found)

	index, found = defs.RelationIndex("_hypernym")
	require.True(t, found)
	assert.Equal(t, int32(1), index)
	_, found = defs.RelationIndex("_no_such_relation")
	assert.False(t, found)
}

func TestLoadDefinitionsErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wordnet-mlj12-definitions.txt")

	_, err := LoadDefinitions(path)
	require.Error(t, err, "missing file")

	require.NoError(t, os.WriteFile(path, []byte("one-field-only\n"), 0666))
	_, err = LoadDefinitions(path)
	require.Error(t, err, "malformed line")

	dup := "06845599\tmoney\tgloss\n06845599\tmoney\tgloss\n"
	require.NoError(t, os.WriteFile(path, []byte(dup), 0666))
	_, err = LoadDefinitions(path)
	require.Error(t, err, "duplicate entity id")
}

func TestLoadTriples(t *testing.T) {
	dir := writeTestDataset(t)
	defs, err := LoadDefinitions(filepath.Join(dir, "wordnet-mlj12-definitions.txt"))
	require.NoError(t, err)

	triples, err := LoadTriples(dir, "train", defs)
	require.NoError(t, err)
	require.Len(t, triples, 3)
	assert.Equal(t, Triple{Head: 0, Relation: 1, Tail: 2}, triples[0])
	assert.Equal(t, Triple{Head: 1, Relation: 15, Tail: 0}, triples[2])

	valid, err := LoadTriples(dir, "valid", defs)
	require.NoError(t, err)
	require.Len(t, valid, 1)

	_, err = LoadTriples(dir, "test", defs)
	require.Error(t, err, "missing subset file")
}

func TestLoadTriplesUnknownEntity(t *testing.T) {
	dir := writeTestDataset(t)
	defs, err := LoadDefinitions(filepath.Join(dir, "wordnet-mlj12-definitions.txt"))
	require.NoError(t, err)

	bad := "12345678\t_hypernym\t00001740\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wordnet-mlj12-test.txt"), []byte(bad), 0666))
	_, err = LoadTriples(dir, "test", defs)
	require.Error(t, err)
}

func TestSampler(t *testing.T) {
	dir := writeTestDataset(t)
	defs, err := LoadDefinitions(filepath.Join(dir, "wordnet-mlj12-definitions.txt"))
	require.NoError(t, err)
	triples, err := LoadTriples(dir, "train", defs)
	require.NoError(t, err)

	const batchSize = 16
	sampler := NewSampler("train", triples, defs.NumEntities(), batchSize)
	assert.Equal(t, 3, sampler.Len())
	assert.Equal(t, 0, sampler.NumBatches(false))
	assert.Equal(t, 1, sampler.NumBatches(true))

	spec, inputs, labels, err := sampler.Yield()
	require.NoError(t, err)
	assert.Same(t, sampler, spec)
	assert.Empty(t, labels)
	require.Len(t, inputs, 5)

	heads := inputs[0].Value().([]int32)
	relations := inputs[1].Value().([]int32)
	tails := inputs[2].Value().([]int32)
	negHeads := inputs[3].Value().([]int32)
	negTails := inputs[4].Value().([]int32)
	for ii := 0; ii < batchSize; ii++ {
		assert.Equal(t, Triple{Head: heads[ii], Relation: relations[ii], Tail: tails[ii]},
			findTriple(t, triples, heads[ii], relations[ii]))

		// Exactly one side is corrupted per example, the other is kept.
		headKept := negHeads[ii] == heads[ii]
		tailKept := negTails[ii] == tails[ii]
		assert.True(t, headKept || tailKept)
		assert.GreaterOrEqual(t, negHeads[ii], int32(0))
		assert.Less(t, negHeads[ii], int32(defs.NumEntities()))
		assert.GreaterOrEqual(t, negTails[ii], int32(0))
		assert.Less(t, negTails[ii], int32(defs.NumEntities()))
	}
}

func TestSamplerBadBatchSize(t *testing.T) {
	triples := []Triple{{Head: 0, Relation: 0, Tail: 1}}
	require.Panics(t, func() { NewSampler("train", triples, 2, 0) })
	require.Panics(t, func() { NewSampler("train", triples, 2, -1) })
}

func findTriple(t *testing.T, triples []Triple, head, relation int32) Triple {
	t.Helper()
	for _, triple := range triples {
		if triple.Head == head && triple.Relation == relation {
			return triple
		}
	}
	t.Fatalf("no triple with head=%d relation=%d", head, relation)
	return Triple{}
}
