package exputil

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// History accumulates the mean train and validation losses of each epoch.
type History struct {
	Epochs         []int
	TrainLosses    []float64
	ValidateLosses []float64
}

// Append records the losses of one epoch.
func (h *History) Append(epoch int, trainLoss, validateLoss float64) {
	h.Epochs = append(h.Epochs, epoch)
	h.TrainLosses = append(h.TrainLosses, trainLoss)
	h.ValidateLosses = append(h.ValidateLosses, validateLoss)
}

// Len returns the number of recorded epochs.
func (h *History) Len() int { return len(h.Epochs) }

// MinValidate returns the smallest validation loss recorded so far, or +Inf
// if none.
func (h *History) MinValidate() float64 {
	min := math.Inf(1)
	for _, v := range h.ValidateLosses {
		if v < min {
			min = v
		}
	}
	return min
}

// IsBest reports whether validateLoss is at least as good as every recorded
// validation loss. Meant to be called after Append, so the first epoch is
// always "best".
func (h *History) IsBest(validateLoss float64) bool {
	return h.Len() <= 1 || validateLoss <= h.MinValidate()
}

// WriteLogs writes the raw loss sequences under dir, one value per line:
// `losses.txt` with the train losses and `validate_losses.txt` with the
// validation losses.
func (h *History) WriteLogs(dir string) error {
	if err := writeFloats(filepath.Join(dir, "losses.txt"), h.TrainLosses); err != nil {
		return err
	}
	return writeFloats(filepath.Join(dir, "validate_losses.txt"), h.ValidateLosses)
}

func writeFloats(path string, values []float64) error {
	var b strings.Builder
	for ii, v := range values {
		if ii > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(fmt.Sprintf("%g", v))
	}
	if err := os.WriteFile(path, []byte(b.String()), 0666); err != nil {
		return errors.Wrapf(err, "failed to write %q", path)
	}
	return nil
}

// SavePlot renders both loss curves to an image file at the given path
// (the extension selects the format, typically ".png"), epochs on the X
// axis.
func (h *History) SavePlot(path, title string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = "Loss"
	p.X.Min = 0
	p.X.Max = float64(h.Len() + 1)
	p.Add(plotter.NewGrid())
	p.Legend.Top = true

	trainPoints := make(plotter.XYs, h.Len())
	validatePoints := make(plotter.XYs, h.Len())
	for ii := range h.Epochs {
		trainPoints[ii] = plotter.XY{X: float64(h.Epochs[ii]), Y: h.TrainLosses[ii]}
		validatePoints[ii] = plotter.XY{X: float64(h.Epochs[ii]), Y: h.ValidateLosses[ii]}
	}
	err := plotutil.AddLines(p, "Train losses", trainPoints, "Validate losses", validatePoints)
	if err != nil {
		return errors.Wrap(err, "failed to build loss curves")
	}
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "failed to save loss plot to %q", path)
	}
	return nil
}
