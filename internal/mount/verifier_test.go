package mount

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shirou/gopsutil/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/mariabak/internal/errs"
	"github.com/kebairia/mariabak/internal/logger"
)

func fakeTable(entries map[string]string) PartitionLister {
	return func() ([]disk.PartitionStat, error) {
		parts := make([]disk.PartitionStat, 0, len(entries))
		for mountpoint, device := range entries {
			parts = append(parts, disk.PartitionStat{
				Device:     device,
				Mountpoint: mountpoint,
				Fstype:     "nfs",
			})
		}
		return parts, nil
	}
}

func TestCanonicalShare(t *testing.T) {
	assert.Equal(t, "nas01:/export", CanonicalShare("nas01:/export/"))
	assert.Equal(t, "nas01:/export", CanonicalShare("nas01:/export"))
	assert.Equal(t, "nas01:/", CanonicalShare("nas01:/"))
	assert.Equal(t, "nas01:/export/a", CanonicalShare("nas01:/export/a///"))
}

func TestEnsure_AlreadyMountedMatchingShare(t *testing.T) {
	dir := t.TempDir()
	v := &Verifier{
		Partitions:   fakeTable(map[string]string{dir: "nas01:/export/backups/"}),
		Run:          func(ctx context.Context, name string, args ...string) error { t.Fatal("unexpected command"); return nil },
		MountTimeout: time.Second,
		Log:          logger.Global(),
	}

	state, err := v.Ensure(context.Background(), dir, "nas01:/export/backups")
	require.NoError(t, err)
	assert.True(t, state.Mounted)
	assert.True(t, state.Writable)
	assert.Equal(t, "nas01:/export/backups/", state.ActualSource)
}

func TestEnsure_MismatchedShareNeverRemounts(t *testing.T) {
	dir := t.TempDir()
	var commands int
	v := &Verifier{
		Partitions:   fakeTable(map[string]string{dir: "nas02:/export/other"}),
		Run:          func(ctx context.Context, name string, args ...string) error { commands++; return nil },
		MountTimeout: time.Second,
		Log:          logger.Global(),
	}

	_, err := v.Ensure(context.Background(), dir, "nas01:/export/backups")
	assert.ErrorIs(t, err, errs.ErrMount)
	assert.Zero(t, commands, "a differently-sourced mount must never be remounted")
}

func TestEnsure_MountsWhenUnmounted(t *testing.T) {
	dir := t.TempDir()
	table := map[string]string{}
	var mounted []string
	v := &Verifier{
		Partitions: fakeTable(table),
		Run: func(ctx context.Context, name string, args ...string) error {
			mounted = append(mounted, name)
			// simulate the kernel picking up the mount
			table[dir] = "nas01:/export/backups"
			return nil
		},
		MountTimeout: time.Second,
		Log:          logger.Global(),
	}

	state, err := v.Ensure(context.Background(), dir, "nas01:/export/backups")
	require.NoError(t, err)
	assert.Equal(t, []string{"mount"}, mounted)
	assert.True(t, state.Writable)
}

func TestEnsure_MountFailure(t *testing.T) {
	dir := t.TempDir()
	v := &Verifier{
		Partitions:   fakeTable(map[string]string{}),
		Run:          func(ctx context.Context, name string, args ...string) error { return errors.New("exit 32") },
		MountTimeout: time.Second,
		Log:          logger.Global(),
	}

	_, err := v.Ensure(context.Background(), dir, "nas01:/export/backups")
	assert.ErrorIs(t, err, errs.ErrMount)
}

func TestEnsure_MountTimeout(t *testing.T) {
	dir := t.TempDir()
	v := &Verifier{
		Partitions: fakeTable(map[string]string{}),
		Run: func(ctx context.Context, name string, args ...string) error {
			<-ctx.Done()
			return ctx.Err()
		},
		MountTimeout: 10 * time.Millisecond,
		Log:          logger.Global(),
	}

	_, err := v.Ensure(context.Background(), dir, "nas01:/export/backups")
	assert.ErrorIs(t, err, errs.ErrMount)
	assert.Contains(t, err.Error(), "timed out")
}

func TestEnsure_WriteProbeFailure(t *testing.T) {
	// point the verifier at a path that exists in the mount table but
	// not on disk, so the probe cannot create its marker
	missing := "/nonexistent/mariabak-mount"
	v := &Verifier{
		Partitions:   fakeTable(map[string]string{missing: "nas01:/export/backups"}),
		Run:          func(ctx context.Context, name string, args ...string) error { return nil },
		MountTimeout: time.Second,
		Log:          logger.Global(),
	}

	_, err := v.Ensure(context.Background(), missing, "nas01:/export/backups")
	assert.ErrorIs(t, err, errs.ErrWriteTest)
	assert.NotErrorIs(t, err, errs.ErrMount)
}

func TestEnsure_ProbeLeavesNoMarker(t *testing.T) {
	dir := t.TempDir()
	v := &Verifier{
		Partitions:   fakeTable(map[string]string{dir: "nas01:/export/backups"}),
		Run:          func(ctx context.Context, name string, args ...string) error { return nil },
		MountTimeout: time.Second,
		Log:          logger.Global(),
	}

	_, err := v.Ensure(context.Background(), dir, "nas01:/export/backups")
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUnmount(t *testing.T) {
	var got [][]string
	v := &Verifier{
		Run: func(ctx context.Context, name string, args ...string) error {
			got = append(got, append([]string{name}, args...))
			return nil
		},
		Log: logger.Global(),
	}

	require.NoError(t, v.Unmount(context.Background(), "/mnt/backups", false))
	require.NoError(t, v.Unmount(context.Background(), "/mnt/backups", true))
	assert.Equal(t, [][]string{
		{"umount", "/mnt/backups"},
		{"umount", "-l", "/mnt/backups"},
	}, got)
}

func TestUnmount_Failure(t *testing.T) {
	v := &Verifier{
		Run: func(ctx context.Context, name string, args ...string) error { return errors.New("busy") },
		Log: logger.Global(),
	}
	err := v.Unmount(context.Background(), "/mnt/backups", false)
	assert.ErrorIs(t, err, errs.ErrUnmount)
}
