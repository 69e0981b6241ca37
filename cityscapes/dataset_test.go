package cityscapes

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

// writeTestPair creates an image and its mask for the given city/stem, the
// mask filled with the given label id.
func writeTestPair(t *testing.T, root, subset, city, stem string, width, height int, labelID uint8) {
	t.Helper()
	imageDir := filepath.Join(root, "leftImg8bit", subset, city)
	maskDir := filepath.Join(root, "gtFine", subset, city)
	require.NoError(t, os.MkdirAll(imageDir, 0755))
	require.NoError(t, os.MkdirAll(maskDir, 0755))

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	writePNG(t, filepath.Join(imageDir, stem+"_leftImg8bit.png"), img)

	mask := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			mask.SetGray(x, y, color.Gray{Y: labelID})
		}
	}
	writePNG(t, filepath.Join(maskDir, stem+"_gtFine_labelIds.png"), mask)
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestNewDataset(t *testing.T) {
	root := t.TempDir()
	writeTestPair(t, root, "train", "aachen", "aachen_000000_000019", 8, 6, 7)
	writeTestPair(t, root, "train", "aachen", "aachen_000001_000019", 8, 6, 23)
	writeTestPair(t, root, "train", "bochum", "bochum_000000_000885", 8, 6, 26)

	ds, err := NewDataset("train", root, "train", dtypes.Float32)
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, "train", ds.Name())

	pair := ds.PairAt(0)
	assert.Contains(t, pair.Image, "aachen_000000_000019_leftImg8bit.png")
	assert.Contains(t, pair.Mask, "aachen_000000_000019_gtFine_labelIds.png")

	// Empty or missing subsets are an error.
	_, err = NewDataset("test", root, "test", dtypes.Float32)
	require.Error(t, err)
}

func TestDatasetYield(t *testing.T) {
	root := t.TempDir()
	writeTestPair(t, root, "val", "frankfurt", "frankfurt_000000_000294", 8, 6, 7)
	writeTestPair(t, root, "val", "frankfurt", "frankfurt_000001_000294", 8, 6, 33)

	ds, err := NewDataset("val", root, "val", dtypes.Float32)
	require.NoError(t, err)
	ds.Batch(2, false)

	spec, inputs, labels, err := ds.Yield()
	require.NoError(t, err)
	assert.Same(t, ds, spec)
	require.Len(t, inputs, 1)
	require.Len(t, labels, 1)
	assert.Equal(t, []int{2, 6, 8, 3}, inputs[0].Shape().Dimensions)
	assert.Equal(t, []int{2, 6, 8, 1}, labels[0].Shape().Dimensions)
	assert.Equal(t, dtypes.Float32, inputs[0].DType())
	assert.Equal(t, dtypes.Int32, labels[0].DType())

	masks := labels[0].Value().([][][][]int32)
	assert.Equal(t, int32(7), masks[0][0][0][0])
	assert.Equal(t, int32(33), masks[1][5][7][0])

	// One batch consumed the epoch.
	_, _, _, err = ds.Yield()
	assert.Equal(t, io.EOF, err)

	// After Reset it yields again.
	ds.Reset()
	_, _, _, err = ds.Yield()
	require.NoError(t, err)
}

func TestDatasetTrainIDs(t *testing.T) {
	root := t.TempDir()
	writeTestPair(t, root, "train", "ulm", "ulm_000000_000019", 4, 4, 7) // road -> train id 0
	writeTestPair(t, root, "train", "ulm", "ulm_000001_000019", 4, 4, 4) // static -> void

	ds, err := NewDataset("train", root, "train", dtypes.Float32)
	require.NoError(t, err)
	ds.Batch(2, false).ToTrainIDs()

	_, _, labels, err := ds.Yield()
	require.NoError(t, err)
	masks := labels[0].Value().([][][][]int32)
	assert.Equal(t, int32(0), masks[0][0][0][0])
	assert.Equal(t, int32(VoidTrainID), masks[1][0][0][0])
}

func TestDatasetResize(t *testing.T) {
	root := t.TempDir()
	writeTestPair(t, root, "train", "jena", "jena_000000_000019", 16, 12, 11)

	ds, err := NewDataset("train", root, "train", dtypes.Float32)
	require.NoError(t, err)
	ds.ImageSize(8, 6)

	_, inputs, labels, err := ds.Yield()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 6, 8, 3}, inputs[0].Shape().Dimensions)
	assert.Equal(t, []int{1, 6, 8, 1}, labels[0].Shape().Dimensions)

	// Nearest-neighbor resize must preserve the exact label values.
	masks := labels[0].Value().([][][][]int32)
	assert.Equal(t, int32(11), masks[0][3][4][0])
}

func TestDatasetMissingMask(t *testing.T) {
	root := t.TempDir()
	writeTestPair(t, root, "train", "koeln", "koeln_000000_000019", 4, 4, 7)
	require.NoError(t, os.Remove(
		filepath.Join(root, "gtFine", "train", "koeln", "koeln_000000_000019_gtFine_labelIds.png")))

	// Construction only scans the image tree, so it still succeeds.
	ds, err := NewDataset("train", root, "train", dtypes.Float32)
	require.NoError(t, err)

	// The missing file surfaces when the pair is read.
	_, _, _, err = ds.Yield()
	require.Error(t, err)
}

func TestDatasetCopy(t *testing.T) {
	root := t.TempDir()
	writeTestPair(t, root, "train", "aachen", "aachen_000000_000019", 4, 4, 7)
	writeTestPair(t, root, "train", "aachen", "aachen_000001_000019", 4, 4, 11)

	base, err := NewDataset("train", root, "train", dtypes.Float32)
	require.NoError(t, err)
	base.Batch(1, false)

	// Advance the original mid-epoch, then copy: the copy shares the file
	// list but starts a fresh epoch.
	_, _, _, err = base.Yield()
	require.NoError(t, err)
	clone := base.Copy()
	assert.Equal(t, base.Len(), clone.Len())

	_, _, labels, err := clone.Yield()
	require.NoError(t, err)
	mask := labels[0].Value().([][][][]int32)
	assert.Equal(t, int32(7), mask[0][0][0][0])

	// Exhausting the copy does not end the original's epoch.
	_, _, _, err = clone.Yield()
	require.NoError(t, err)
	_, _, _, err = clone.Yield()
	assert.Equal(t, io.EOF, err)
	_, _, _, err = base.Yield()
	require.NoError(t, err)
}

func TestDatasetFloat16(t *testing.T) {
	root := t.TempDir()
	writeTestPair(t, root, "train", "aachen", "aachen_000002_000019", 4, 4, 7)

	ds, err := NewDataset("train", root, "train", dtypes.Float16)
	require.NoError(t, err)
	ds.Batch(1, false)
	_, inputs, _, err := ds.Yield()
	require.NoError(t, err)
	require.Equal(t, dtypes.Float16, inputs[0].DType())
	images := inputs[0].Value().([][][][]float16.Float16)
	// The red channel of the fixture encodes the x coordinate, scaled
	// to [0, 1].
	want := float16.Fromfloat32(2.0 / 255.0)
	assert.InDelta(t, want.Float32(), images[0][1][2][0].Float32(), 1e-3)
}

func TestDatasetInfinite(t *testing.T) {
	root := t.TempDir()
	writeTestPair(t, root, "train", "bonn", "bonn_000000_000019", 4, 4, 7)

	ds, err := NewDataset("train", root, "train", dtypes.Float32)
	require.NoError(t, err)
	ds.Batch(2, false).Shuffle().Infinite(true)

	// With one pair and batches of two, an infinite dataset must loop.
	for ii := 0; ii < 3; ii++ {
		_, inputs, _, err := ds.Yield()
		require.NoError(t, err)
		assert.Equal(t, 2, inputs[0].Shape().Dimensions[0])
	}
}
