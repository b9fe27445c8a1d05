package chain

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kebairia/mariabak/internal/errs"
	"github.com/kebairia/mariabak/internal/logger"
)

// CheckpointStore is the slice of the checkpoint store the pruner
// needs: it only ever reads a pointer and clears it after deleting the
// chain it pointed into.
type CheckpointStore interface {
	Get(target string) (string, error)
	Clear(target string) error
}

// Pruner deletes backup chains whose every member has aged out of the
// retention window. A chain is prunable only as a whole: one member
// inside the window keeps the entire chain, including an old full that
// still backs a fresh incremental. Deleting that full would silently
// destroy point-in-time restorability of still-retained data.
type Pruner struct {
	Checkpoints CheckpointStore
	Log         logger.Logger
	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time
}

// Result summarizes one prune pass.
type Result struct {
	Deleted           []string
	KeptChains        int
	KeptBinlogSets    int
	CheckpointCleared bool
}

// Prune applies the retention policy to targetDir. Chains follow the
// all-or-none rule; binlog sets are pruned independently by age alone.
// Within an expired chain, incrementals are removed before the full so
// an interrupted pass never leaves incrementals without their base.
func (p *Pruner) Prune(targetDir, target string, retentionDays int) (Result, error) {
	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}

	records, err := List(targetDir, target)
	if err != nil {
		return Result{}, err
	}
	chains, binlogs := Partition(records)

	ckpt, err := p.Checkpoints.Get(target)
	if err != nil && !errors.Is(err, errs.ErrNoCheckpoint) {
		return Result{}, err
	}

	var res Result
	for _, c := range chains {
		if !c.Expired(now, retentionDays) {
			res.KeptChains++
			continue
		}
		deleted, err := p.deleteChain(c)
		res.Deleted = append(res.Deleted, deleted...)
		if err != nil {
			return res, err
		}
		if ckpt != "" && c.Contains(ckpt) {
			if err := p.Checkpoints.Clear(target); err != nil {
				return res, err
			}
			res.CheckpointCleared = true
			p.Log.Info("checkpoint cleared, pointed into deleted chain",
				"target", target, "checkpoint", ckpt)
		}
	}

	for _, b := range binlogs {
		if !b.Expired(now, retentionDays) {
			res.KeptBinlogSets++
			continue
		}
		if err := os.RemoveAll(b.Path); err != nil {
			return res, fmt.Errorf("delete binlog set %q: %w", b.Path, err)
		}
		res.Deleted = append(res.Deleted, b.Path)
		p.Log.Info("binlog set pruned", "target", target, "path", b.Path)
	}

	return res, nil
}

// deleteChain removes every member, incrementals first (newest to
// oldest), the full last.
func (p *Pruner) deleteChain(c Chain) ([]string, error) {
	var deleted []string
	for i := len(c.Incrementals) - 1; i >= 0; i-- {
		inc := c.Incrementals[i]
		if err := os.RemoveAll(inc.Path); err != nil {
			return deleted, fmt.Errorf("delete incremental %q: %w", inc.Path, err)
		}
		deleted = append(deleted, inc.Path)
	}
	if !c.Headless() {
		if err := os.RemoveAll(c.Full.Path); err != nil {
			return deleted, fmt.Errorf("delete full %q: %w", c.Full.Path, err)
		}
		deleted = append(deleted, c.Full.Path)
	}
	p.Log.Info("chain pruned", "members", len(deleted))
	return deleted, nil
}
