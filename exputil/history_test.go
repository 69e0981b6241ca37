package exputil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryAppendAndBest(t *testing.T) {
	h := &History{}
	assert.Equal(t, 0, h.Len())

	h.Append(1, 2.0, 1.5)
	assert.True(t, h.IsBest(1.5), "first epoch is always best")

	h.Append(2, 1.0, 1.2)
	assert.True(t, h.IsBest(1.2))
	assert.Equal(t, 1.2, h.MinValidate())

	h.Append(3, 0.8, 1.4)
	assert.False(t, h.IsBest(1.4))

	// Ties still count as best.
	h.Append(4, 0.7, 1.2)
	assert.True(t, h.IsBest(1.2))
}

func TestHistoryWriteLogs(t *testing.T) {
	dir := t.TempDir()
	h := &History{}
	h.Append(1, 0.5, 0.75)
	h.Append(2, 0.25, 0.5)
	require.NoError(t, h.WriteLogs(dir))

	train, err := os.ReadFile(filepath.Join(dir, "losses.txt"))
	require.NoError(t, err)
	assert.Equal(t, "0.5\n0.25", string(train))

	validate, err := os.ReadFile(filepath.Join(dir, "validate_losses.txt"))
	require.NoError(t, err)
	assert.Equal(t, "0.75\n0.5", string(validate))
}

func TestHistorySavePlot(t *testing.T) {
	dir := t.TempDir()
	h := &History{}
	h.Append(1, 0.5, 0.75)
	h.Append(2, 0.25, 0.5)
	path := filepath.Join(dir, "Losses.png")
	require.NoError(t, h.SavePlot(path, "Training losses"))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, fi.Size(), int64(0))
}
