package exputil

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/pkg/errors"
)

// CheckpointPolicy implements the per-epoch checkpoint retention used by
// the experiments, over a run directory:
//
//   - a periodic checkpoint every SavePeriod epochs (and on the final
//     epoch), in a directory named after the epoch and its losses, e.g.
//     `Epoch(10)-Train(0.123)-Validate(0.456)`;
//   - a `best` checkpoint, overwritten whenever the validation loss reaches
//     a new minimum;
//   - a `last` checkpoint, overwritten every epoch.
type CheckpointPolicy struct {
	ctx        *context.Context
	run        *Run
	savePeriod int
	numEpochs  int

	best, last *checkpoints.Handler
}

// NewCheckpointPolicy creates the policy over the given run directory.
// savePeriod is in epochs; numEpochs is the total number of epochs of the
// training, so the final epoch is always checkpointed.
func NewCheckpointPolicy(ctx *context.Context, run *Run, savePeriod, numEpochs int) (*CheckpointPolicy, error) {
	if savePeriod < 1 {
		return nil, errors.Errorf("savePeriod must be at least 1, got %d", savePeriod)
	}
	best, err := checkpoints.Build(ctx).Dir(run.Join("best")).Keep(1).Done()
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create the \"best\" checkpoint")
	}
	last, err := checkpoints.Build(ctx).Dir(run.Join("last")).Keep(1).Done()
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create the \"last\" checkpoint")
	}
	return &CheckpointPolicy{
		ctx:        ctx,
		run:        run,
		savePeriod: savePeriod,
		numEpochs:  numEpochs,
		best:       best,
		last:       last,
	}, nil
}

// EndEpoch saves the checkpoints due after the given epoch (1-based):
// the periodic one if the epoch hits the save period or is the last, the
// best one if isBest, and always the last one.
func (p *CheckpointPolicy) EndEpoch(epoch int, trainLoss, validateLoss float64, isBest bool) error {
	if epoch%p.savePeriod == 0 || epoch == p.numEpochs {
		name := fmt.Sprintf("Epoch(%d)-Train(%.3f)-Validate(%.3f)", epoch, trainLoss, validateLoss)
		periodic, err := checkpoints.Build(p.ctx).Dir(p.run.Join(name)).Keep(1).Done()
		if err != nil {
			return errors.WithMessagef(err, "failed to create the periodic checkpoint %q", name)
		}
		if err := periodic.Save(); err != nil {
			return errors.WithMessagef(err, "failed to save the periodic checkpoint %q", name)
		}
	}
	if isBest {
		if err := p.best.Save(); err != nil {
			return errors.WithMessage(err, "failed to save the \"best\" checkpoint")
		}
	}
	if err := p.last.Save(); err != nil {
		return errors.WithMessage(err, "failed to save the \"last\" checkpoint")
	}
	return nil
}

// BestDir returns the directory of the "best" checkpoint.
func (p *CheckpointPolicy) BestDir() string { return p.best.Dir() }

// LastDir returns the directory of the "last" checkpoint.
func (p *CheckpointPolicy) LastDir() string { return p.last.Dir() }
