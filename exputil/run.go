// Package exputil holds the output-management pieces shared by the training
// experiments: timestamped run directories with interrupt cleanup, per-epoch
// loss history with text logs and a rendered loss curve, and the
// periodic/best/last checkpoint retention policy.
package exputil

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// runDirLayout is the time.Format layout for run directory names.
const runDirLayout = "2006-01-02-15-04-05"

// Run is the output directory of a single training run. All artifacts of
// the run (checkpoints, logs, plots) live under Dir, so scrapping a run is
// a single directory removal.
type Run struct {
	dir string
}

// NewRun creates a timestamped run directory under rootDir, e.g.
// `<rootDir>/2026-08-30-14-05-59`, creating rootDir if needed.
func NewRun(rootDir string) (*Run, error) {
	dir := filepath.Join(rootDir, time.Now().Format(runDirLayout))
	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, errors.Wrapf(err, "failed to create run directory %q", dir)
	}
	return &Run{dir: dir}, nil
}

// Dir returns the run's output directory.
func (r *Run) Dir() string { return r.dir }

// Join returns a path inside the run directory.
func (r *Run) Join(elems ...string) string {
	return filepath.Join(append([]string{r.dir}, elems...)...)
}

// Scrap removes the run directory and everything saved in it.
func (r *Run) Scrap() error {
	if err := os.RemoveAll(r.dir); err != nil {
		return errors.Wrapf(err, "failed to remove run directory %q", r.dir)
	}
	return nil
}

// exitFn is swapped out by tests.
var exitFn = os.Exit

// CleanupOnInterrupt installs a SIGINT handler that scraps the run directory
// and exits: a manually interrupted run leaves no partial artifacts behind.
// It returns a function that uninstalls the handler, to be called when the
// run completes.
func (r *Run) CleanupOnInterrupt() (cancel func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	go func() {
		if _, ok := <-ch; !ok {
			return
		}
		fmt.Printf("\nInterrupted, removing output directory %q\n", r.dir)
		if err := r.Scrap(); err != nil {
			fmt.Printf("Failed to remove %q: %+v\n", r.dir, err)
		}
		exitFn(1)
	}()
	return func() {
		signal.Stop(ch)
		close(ch)
	}
}
