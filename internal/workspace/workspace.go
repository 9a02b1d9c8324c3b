package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/openmined/kbsync/internal/utils"
)

const (
	logsDir     = "logs"
	metadataDir = ".data"
	lockFile    = "kbsync.lock"
	logFile     = "kbsync.log"
)

var ErrWorkspaceLocked = errors.New("another kbsync sync is running on this machine")

// Workspace is the local data directory. It holds rotated logs and the lock
// that keeps two batch walks on one machine from racing on the same ledger.
type Workspace struct {
	Root        string
	LogsDir     string
	MetadataDir string

	flock *flock.Flock
}

func NewWorkspace(rootDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", rootDir, err)
	}

	return &Workspace{
		Root:        root,
		LogsDir:     filepath.Join(root, logsDir),
		MetadataDir: filepath.Join(root, metadataDir),
		flock:       flock.New(filepath.Join(root, metadataDir, lockFile)),
	}, nil
}

// Setup creates the workspace directories
func (w *Workspace) Setup() error {
	for _, dir := range []string{w.LogsDir, w.MetadataDir} {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DefaultLogFile is used when logging to a file without an explicit path
func (w *Workspace) DefaultLogFile() string {
	return filepath.Join(w.LogsDir, logFile)
}

// Lock takes the run lock without waiting
func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.MetadataDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.MetadataDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}
	return nil
}

func (w *Workspace) Unlock() error {
	// only the holder removes the lock file
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}
	return os.Remove(w.flock.Path())
}
