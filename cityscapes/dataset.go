package cityscapes

import (
	"fmt"
	"image"
	_ "image/png"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

const (
	imagesDirName = "leftImg8bit"
	masksDirName  = "gtFine"

	imageSuffix = "_leftImg8bit"
	maskSuffix  = "_gtFine_labelIds.png"
)

// Pair holds the paths to one image and its per-pixel label mask.
type Pair struct {
	Image, Mask string
}

// Dataset implements train.Dataset for Cityscapes, yielding batches of
// images (shaped `[batch, height, width, 3]`) and label masks (shaped
// `[batch, height, width, 1]`, int32).
//
// Construct it with NewDataset and then configure with the Batch, Shuffle,
// Infinite, ImageSize and ToTrainIDs methods. Configuration methods return
// the Dataset pointer to allow cascading calls.
type Dataset struct {
	name    string
	rootDir string
	subset  string
	pairs   []Pair

	batchSize      int
	dropIncomplete bool
	shuffle        *rand.Rand
	infinite       bool
	width, height  int
	mapToTrainIDs  bool
	dtype          dtypes.DType
	toTensor       *timage.ToTensorConfig

	mu    sync.Mutex
	next  int
	order []int
}

// Assert Dataset implements train.Dataset.
var _ train.Dataset = &Dataset{}

// NewDataset scans `<rootDir>/leftImg8bit/<subset>/<city>/` for images and
// pairs each with its `_gtFine_labelIds.png` mask under
// `<rootDir>/gtFine/<subset>/<city>/`.
//
// Directory listing errors abort the construction. Missing mask files are
// only reported later, when the corresponding pair is read by Yield.
//
// The subset is one of "train", "val" or "test".
func NewDataset(name, rootDir, subset string, dtype dtypes.DType) (*Dataset, error) {
	imagesDir := filepath.Join(rootDir, imagesDirName, subset)
	masksDir := filepath.Join(rootDir, masksDirName, subset)
	cities, err := os.ReadDir(imagesDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list cities in %q", imagesDir)
	}
	ds := &Dataset{
		name:      name,
		rootDir:   rootDir,
		subset:    subset,
		batchSize: 1,
		dtype:     dtype,
		toTensor:  timage.ToTensor(dtype),
	}
	for _, city := range cities {
		if !city.IsDir() {
			continue
		}
		cityImagesDir := filepath.Join(imagesDir, city.Name())
		entries, err := os.ReadDir(cityImagesDir)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list images in %q", cityImagesDir)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".png") {
				continue
			}
			stem, _, found := strings.Cut(entry.Name(), imageSuffix)
			if !found {
				continue
			}
			ds.pairs = append(ds.pairs, Pair{
				Image: filepath.Join(cityImagesDir, entry.Name()),
				Mask:  filepath.Join(masksDir, city.Name(), stem+maskSuffix),
			})
		}
	}
	if len(ds.pairs) == 0 {
		return nil, errors.Errorf("no images found under %q", imagesDir)
	}
	return ds, nil
}

// Len returns the number of image/mask pairs in the dataset.
func (ds *Dataset) Len() int { return len(ds.pairs) }

// PairAt returns the paths of the index-th pair.
func (ds *Dataset) PairAt(index int) Pair { return ds.pairs[index] }

// NumBatches per epoch, given the current batch size.
func (ds *Dataset) NumBatches() int { return len(ds.pairs) / ds.batchSize }

// Batch sets the batch size. If dropIncomplete is true, a trailing batch
// smaller than batchSize is dropped at the end of an epoch.
func (ds *Dataset) Batch(batchSize int, dropIncomplete bool) *Dataset {
	ds.batchSize = batchSize
	ds.dropIncomplete = dropIncomplete
	return ds
}

// Shuffle makes the dataset yield pairs in a new random order each epoch.
func (ds *Dataset) Shuffle() *Dataset {
	ds.shuffle = rand.New(rand.NewSource(42))
	return ds
}

// Infinite makes the dataset loop forever, never returning io.EOF. Used for
// step-bounded training loops.
func (ds *Dataset) Infinite(infinite bool) *Dataset {
	ds.infinite = infinite
	return ds
}

// ImageSize sets a target size: images are resized with bilinear filtering,
// masks with nearest-neighbor so label ids are preserved. If unset, images
// are yielded at their original resolution, which requires all files to have
// the same size for batching.
func (ds *Dataset) ImageSize(width, height int) *Dataset {
	ds.width, ds.height = width, height
	return ds
}

// ToTrainIDs makes Yield translate the raw label ids of the masks to train
// ids (0..18 plus VoidTrainID).
func (ds *Dataset) ToTrainIDs() *Dataset {
	ds.mapToTrainIDs = true
	return ds
}

// Copy returns a copy of the dataset with the same file list and an
// independent iteration state. Configuration is copied and can be changed
// separately.
func (ds *Dataset) Copy() *Dataset {
	newDS := &Dataset{
		name:           ds.name,
		rootDir:        ds.rootDir,
		subset:         ds.subset,
		pairs:          ds.pairs,
		batchSize:      ds.batchSize,
		dropIncomplete: ds.dropIncomplete,
		infinite:       ds.infinite,
		width:          ds.width,
		height:         ds.height,
		mapToTrainIDs:  ds.mapToTrainIDs,
		dtype:          ds.dtype,
		toTensor:       ds.toTensor,
	}
	if ds.shuffle != nil {
		newDS.shuffle = rand.New(rand.NewSource(42))
	}
	return newDS
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// Reset implements train.Dataset: it restarts the epoch, reshuffling if
// Shuffle was set.
func (ds *Dataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.next = 0
	ds.order = nil
}

// selectIndices picks the indices for the next batch, or returns io.EOF at
// the end of an epoch for finite datasets.
func (ds *Dataset) selectIndices() ([]int, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.order == nil {
		ds.order = make([]int, len(ds.pairs))
		for ii := range ds.order {
			ds.order[ii] = ii
		}
		if ds.shuffle != nil {
			ds.shuffle.Shuffle(len(ds.order), func(i, j int) {
				ds.order[i], ds.order[j] = ds.order[j], ds.order[i]
			})
		}
	}
	indices := make([]int, 0, ds.batchSize)
	for len(indices) < ds.batchSize {
		if ds.next >= len(ds.order) {
			if !ds.infinite {
				break
			}
			ds.next = 0
			if ds.shuffle != nil {
				ds.shuffle.Shuffle(len(ds.order), func(i, j int) {
					ds.order[i], ds.order[j] = ds.order[j], ds.order[i]
				})
			}
		}
		indices = append(indices, ds.order[ds.next])
		ds.next++
	}
	if len(indices) == 0 || (ds.dropIncomplete && len(indices) < ds.batchSize) {
		return nil, io.EOF
	}
	return indices, nil
}

// Yield implements train.Dataset. It returns:
//
//   - spec: the Dataset pointer itself.
//   - inputs: one tensor with the images batch, shaped
//     `[batch, height, width, 3]`, values scaled to [0, 1] for float dtypes.
//   - labels: one tensor with the label masks, shaped
//     `[batch, height, width, 1]` of int32.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	spec = ds
	indices, err := ds.selectIndices()
	if err != nil {
		return nil, nil, nil, err
	}

	images := make([]image.Image, 0, len(indices))
	var maskData []int32
	var maskWidth, maskHeight int
	for _, index := range indices {
		pair := ds.pairs[index]
		img, err := loadImage(pair.Image)
		if err != nil {
			return nil, nil, nil, err
		}
		mask, err := loadImage(pair.Mask)
		if err != nil {
			return nil, nil, nil, err
		}
		if ds.width > 0 && ds.height > 0 {
			img = imaging.Resize(img, ds.width, ds.height, imaging.Linear)
			mask = imaging.Resize(mask, ds.width, ds.height, imaging.NearestNeighbor)
		}
		bounds := mask.Bounds()
		w, h := bounds.Dx(), bounds.Dy()
		if maskData == nil {
			maskWidth, maskHeight = w, h
			maskData = make([]int32, 0, len(indices)*h*w)
		} else if w != maskWidth || h != maskHeight {
			return nil, nil, nil, errors.Errorf(
				"mask %q has size %dx%d, but batch started with %dx%d (set ImageSize to batch mixed sizes)",
				pair.Mask, w, h, maskWidth, maskHeight)
		}
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				r, _, _, _ := mask.At(x, y).RGBA()
				labelID := int32(r >> 8)
				if ds.mapToTrainIDs {
					labelID = int32(TrainIDForLabel(int(labelID)))
				}
				maskData = append(maskData, labelID)
			}
		}
		images = append(images, img)
	}

	inputs = []*tensors.Tensor{ds.toTensor.Batch(images)}
	labels = []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(maskData, len(indices), maskHeight, maskWidth, 1)}
	return
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", path)
	}
	defer func() { _ = f.Close() }()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %q", path)
	}
	return img, nil
}

// String implements fmt.Stringer.
func (ds *Dataset) String() string {
	return fmt.Sprintf("cityscapes.Dataset(%q, subset=%q, %d pairs)", ds.name, ds.subset, len(ds.pairs))
}
