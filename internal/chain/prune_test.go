package chain

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/mariabak/internal/errs"
	"github.com/kebairia/mariabak/internal/logger"
)

// fakeCheckpoints is an in-memory CheckpointStore.
type fakeCheckpoints struct {
	paths map[string]string
}

func (f *fakeCheckpoints) Get(target string) (string, error) {
	p, ok := f.paths[target]
	if !ok {
		return "", fmt.Errorf("%w: target %q", errs.ErrNoCheckpoint, target)
	}
	return p, nil
}

func (f *fakeCheckpoints) Clear(target string) error {
	delete(f.paths, target)
	return nil
}

func mkdirs(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, n), 0o755))
	}
}

func listNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func newPruner(ckpts *fakeCheckpoints, now time.Time) *Pruner {
	return &Pruner{
		Checkpoints: ckpts,
		Log:         logger.Global(),
		Now:         func() time.Time { return now },
	}
}

// The reference scenario: retention 20 days, "now" 2024-02-10. Chain 1
// is entirely older than the window and goes away whole; chain 2 has a
// fresh member and survives whole, old full included.
func TestPrune_Scenario(t *testing.T) {
	dir := t.TempDir()
	mkdirs(t, dir,
		"full_2024-01-01_03-00-00",
		"inc_2024-01-02_03-00-00",
		"inc_2024-01-03_03-00-00",
		"full_2024-02-01_03-00-00",
		"inc_2024-02-02_03-00-00",
	)
	ckpts := &fakeCheckpoints{paths: map[string]string{
		"shop": filepath.Join(dir, "inc_2024-02-02_03-00-00"),
	}}
	now := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)

	res, err := newPruner(ckpts, now).Prune(dir, "shop", 20)
	require.NoError(t, err)

	assert.Len(t, res.Deleted, 3)
	assert.Equal(t, 1, res.KeptChains)
	assert.False(t, res.CheckpointCleared)
	assert.Equal(t, []string{
		"full_2024-02-01_03-00-00",
		"inc_2024-02-02_03-00-00",
	}, listNames(t, dir))
}

func TestPrune_AllOrNone(t *testing.T) {
	dir := t.TempDir()
	// full is way past retention but one incremental is fresh
	mkdirs(t, dir,
		"full_2023-11-01_03-00-00",
		"inc_2023-11-02_03-00-00",
		"inc_2024-02-08_03-00-00",
	)
	ckpts := &fakeCheckpoints{paths: map[string]string{}}
	now := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)

	res, err := newPruner(ckpts, now).Prune(dir, "shop", 20)
	require.NoError(t, err)

	assert.Empty(t, res.Deleted)
	assert.Len(t, listNames(t, dir), 3)
}

func TestPrune_Idempotent(t *testing.T) {
	dir := t.TempDir()
	mkdirs(t, dir,
		"full_2024-01-01_03-00-00",
		"inc_2024-01-02_03-00-00",
		"full_2024-02-01_03-00-00",
	)
	ckpts := &fakeCheckpoints{paths: map[string]string{}}
	now := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)
	p := newPruner(ckpts, now)

	_, err := p.Prune(dir, "shop", 20)
	require.NoError(t, err)
	first := listNames(t, dir)

	res, err := p.Prune(dir, "shop", 20)
	require.NoError(t, err)
	assert.Empty(t, res.Deleted)
	assert.Equal(t, first, listNames(t, dir))
}

func TestPrune_ClearsCheckpointInsideDeletedChain(t *testing.T) {
	dir := t.TempDir()
	mkdirs(t, dir,
		"full_2024-01-01_03-00-00",
		"inc_2024-01-03_03-00-00",
	)
	ckpts := &fakeCheckpoints{paths: map[string]string{
		"shop": filepath.Join(dir, "inc_2024-01-03_03-00-00"),
	}}
	now := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)

	res, err := newPruner(ckpts, now).Prune(dir, "shop", 20)
	require.NoError(t, err)

	assert.True(t, res.CheckpointCleared)
	_, ok := ckpts.paths["shop"]
	assert.False(t, ok)
}

func TestPrune_KeepsCheckpointOutsideDeletedChain(t *testing.T) {
	dir := t.TempDir()
	mkdirs(t, dir,
		"full_2024-01-01_03-00-00",
		"full_2024-02-01_03-00-00",
	)
	ckpt := filepath.Join(dir, "full_2024-02-01_03-00-00")
	ckpts := &fakeCheckpoints{paths: map[string]string{"shop": ckpt}}
	now := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)

	res, err := newPruner(ckpts, now).Prune(dir, "shop", 20)
	require.NoError(t, err)

	assert.False(t, res.CheckpointCleared)
	assert.Equal(t, ckpt, ckpts.paths["shop"])
}

func TestPrune_BinlogSetsAgeIndependently(t *testing.T) {
	dir := t.TempDir()
	mkdirs(t, dir,
		// chain survives: fresh incremental
		"full_2024-01-01_03-00-00",
		"inc_2024-02-08_03-00-00",
		// binlog sets do not benefit from chain adjacency
		"binlog_2024-01-05_12-00-00",
		"binlog_2024-02-08_12-00-00",
	)
	ckpts := &fakeCheckpoints{paths: map[string]string{}}
	now := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)

	res, err := newPruner(ckpts, now).Prune(dir, "shop", 20)
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(dir, "binlog_2024-01-05_12-00-00")}, res.Deleted)
	assert.Equal(t, 1, res.KeptBinlogSets)
	assert.Equal(t, []string{
		"binlog_2024-02-08_12-00-00",
		"full_2024-01-01_03-00-00",
		"inc_2024-02-08_03-00-00",
	}, listNames(t, dir))
}

func TestPrune_RetentionZeroDeletesAgedChains(t *testing.T) {
	dir := t.TempDir()
	mkdirs(t, dir, "full_2024-01-01_03-00-00")
	ckpts := &fakeCheckpoints{paths: map[string]string{}}
	now := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)

	res, err := newPruner(ckpts, now).Prune(dir, "shop", 0)
	require.NoError(t, err)
	assert.Len(t, res.Deleted, 1)
	assert.Empty(t, listNames(t, dir))
}
