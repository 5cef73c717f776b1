// Package workspace owns the temporary storage of a single pipeline run and
// the publication of its results.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	internal "github.com/ZanzyTHEbar/osmgraph/osmg"
)

var ErrClosed = errors.New("workspace is closed")

// Workspace is a process-scoped temporary directory. Everything created
// through it is removed by Close, whichever way the run ends.
type Workspace struct {
	fs    afero.Fs
	dir   string
	runID uuid.UUID

	mu     sync.Mutex
	closed bool
}

// Open creates a fresh directory under root (os.TempDir() when empty).
func Open(fs afero.Fs, root string, runID uuid.UUID) (*Workspace, error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temporary root %s: %w", root, err)
	}
	prefix := fmt.Sprintf("%s_%s_", internal.DefaultWorkspacePrefix, runID.String()[:8])
	dir, err := afero.TempDir(fs, root, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace under %s: %w", root, err)
	}
	return &Workspace{fs: fs, dir: dir, runID: runID}, nil
}

func (w *Workspace) Fs() afero.Fs     { return w.fs }
func (w *Workspace) Dir() string      { return w.dir }
func (w *Workspace) RunID() uuid.UUID { return w.runID }

// CreateTemp creates a new empty file inside the workspace.
func (w *Workspace) CreateTemp(pattern string) (afero.File, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}
	return afero.TempFile(w.fs, w.dir, pattern)
}

// Release removes superseded files. Missing files are not an error.
func (w *Workspace) Release(paths ...string) error {
	var err error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if rerr := w.fs.Remove(p); rerr != nil && !os.IsNotExist(rerr) {
			err = multierr.Append(err, fmt.Errorf("failed to release %s: %w", p, rerr))
		}
	}
	return err
}

// Close removes the workspace directory and everything left in it. It is safe
// to call more than once.
func (w *Workspace) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.fs.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("failed to remove workspace %s: %w", w.dir, err)
	}
	return nil
}
