package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kebairia/mariabak/internal/errs"
)

// Store keeps one checkpoint file per target under dir. A checkpoint
// file holds exactly one line: the absolute path of the last successful
// backup for that target. It is the pointer the next incremental
// resolves its base from, so it is updated only on success and never
// rolled back automatically.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %q: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) file(target string) string {
	return filepath.Join(s.dir, target+".checkpoint")
}

// Get returns the checkpoint path for target. A missing or empty
// checkpoint file reports errs.ErrNoCheckpoint.
func (s *Store) Get(target string) (string, error) {
	data, err := os.ReadFile(s.file(target))
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %w: target %q", errs.ErrChainStructure, errs.ErrNoCheckpoint, target)
	}
	if err != nil {
		return "", fmt.Errorf("read checkpoint for %q: %w", target, err)
	}
	path := strings.TrimSpace(string(data))
	if path == "" {
		return "", fmt.Errorf("%w: %w: empty checkpoint file for target %q",
			errs.ErrChainStructure, errs.ErrNoCheckpoint, target)
	}
	return path, nil
}

// ResolveBase returns the base directory for the next incremental of
// target. A checkpoint that references a directory that no longer
// exists is a broken chain requiring operator intervention; it is
// reported, never auto-repaired.
func (s *Store) ResolveBase(target string) (string, error) {
	base, err := s.Get(target)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(base); err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %w: target %q points at %q",
			errs.ErrChainStructure, errs.ErrBaseMissing, target, base)
	}
	return base, nil
}

// Set records path as the latest successful backup for target. The
// write is atomic: the value lands in a temp file first and is renamed
// into place, so no reader ever observes a partial or empty checkpoint,
// even if the process dies mid-write.
func (s *Store) Set(target, path string) error {
	tmp, err := os.CreateTemp(s.dir, target+".checkpoint.tmp-*")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(path + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint for %q: %w", target, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync checkpoint for %q: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.file(target)); err != nil {
		return fmt.Errorf("commit checkpoint for %q: %w", target, err)
	}
	return nil
}

// Clear removes the checkpoint for target. A target without a
// checkpoint is not an error here; the pruner calls Clear after
// deleting the chain the checkpoint pointed into.
func (s *Store) Clear(target string) error {
	err := os.Remove(s.file(target))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear checkpoint for %q: %w", target, err)
	}
	return nil
}
