package chain

import "time"

// Chain is one full backup with the contiguous incrementals depending
// on it: every incremental whose timestamp falls in the half-open
// interval between this full and the next one (or +inf for the newest
// full). A chain with a zero Full is headless: incrementals found
// before any full backup, kept grouped so the all-or-none rule still
// applies to them.
type Chain struct {
	Full         Record
	Incrementals []Record
	headless     bool
}

// Members returns the chain's records in chronological order, full first.
func (c Chain) Members() []Record {
	if c.headless {
		return append([]Record(nil), c.Incrementals...)
	}
	members := make([]Record, 0, 1+len(c.Incrementals))
	members = append(members, c.Full)
	return append(members, c.Incrementals...)
}

// Headless reports whether the chain has no full backup at its head.
func (c Chain) Headless() bool { return c.headless }

// Contains reports whether path names a member of the chain.
func (c Chain) Contains(path string) bool {
	for _, m := range c.Members() {
		if m.Path == path {
			return true
		}
	}
	return false
}

// Expired reports whether every member's age exceeds the retention
// window. Only a fully expired chain may be deleted; a single fresh
// incremental keeps the whole chain alive, including its full.
func (c Chain) Expired(now time.Time, retentionDays int) bool {
	for _, m := range c.Members() {
		if !m.Expired(now, retentionDays) {
			return false
		}
	}
	return true
}

// Partition groups fulls and incrementals into chains and splits off
// binlog sets, which never belong to a chain. Records must be sorted
// (see Sort); an incremental is attached to the most recent full
// preceding it.
func Partition(records []Record) (chains []Chain, binlogs []Record) {
	var current *Chain
	for _, rec := range records {
		switch rec.Type {
		case TypeBinlogSet:
			binlogs = append(binlogs, rec)
		case TypeFull:
			chains = append(chains, Chain{Full: rec})
			current = &chains[len(chains)-1]
		case TypeIncremental:
			if current == nil {
				chains = append(chains, Chain{headless: true})
				current = &chains[len(chains)-1]
			}
			current.Incrementals = append(current.Incrementals, rec)
		}
	}
	return chains, binlogs
}
