package chain

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kebairia/mariabak/internal/config"
)

// Type classifies a backup directory.
type Type string

const (
	TypeFull        Type = "full"
	TypeIncremental Type = "inc"
	TypeBinlogSet   Type = "binlog"
)

// Record is one backup directory, parsed from its name. The directory
// naming convention (full_<ts>, inc_<ts>, binlog_<ts>) is treated as
// the persisted external format only; everything downstream works on
// Records.
type Record struct {
	Type      Type
	Target    string
	Timestamp time.Time
	Path      string
}

// Age reports how long ago the record was taken.
func (r Record) Age(now time.Time) time.Duration {
	return now.Sub(r.Timestamp)
}

// Expired reports whether the record's age exceeds the retention window.
func (r Record) Expired(now time.Time, retentionDays int) bool {
	return r.Age(now) > time.Duration(retentionDays)*24*time.Hour
}

// DirName renders the record's directory basename.
func (r Record) DirName() string {
	return fmt.Sprintf("%s_%s", r.Type, r.Timestamp.Format(config.TimestampFormat))
}

// ParseRecord parses a backup directory path into a Record. The second
// return value is false for entries that are not backup directories
// (stray files, partial names, foreign timestamps).
func ParseRecord(target, path string) (Record, bool) {
	name := filepath.Base(path)
	prefix, ts, ok := strings.Cut(name, "_")
	if !ok {
		return Record{}, false
	}
	var typ Type
	switch Type(prefix) {
	case TypeFull, TypeIncremental, TypeBinlogSet:
		typ = Type(prefix)
	default:
		return Record{}, false
	}
	stamp, err := time.Parse(config.TimestampFormat, ts)
	if err != nil {
		return Record{}, false
	}
	return Record{Type: typ, Target: target, Timestamp: stamp, Path: path}, true
}

// List scans targetDir and returns every backup record in it, sorted
// ascending by timestamp with fulls ordered before incrementals on
// ties. Non-record entries are ignored. Chain membership is never
// persisted; it is recomputed from this listing on every pass.
func List(targetDir, target string) ([]Record, error) {
	entries, err := os.ReadDir(targetDir)
	if err != nil {
		return nil, fmt.Errorf("list backup directory %q: %w", targetDir, err)
	}
	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		rec, ok := ParseRecord(target, filepath.Join(targetDir, e.Name()))
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	Sort(records)
	return records, nil
}

// Sort orders records ascending by timestamp; on equal timestamps a
// full sorts before an incremental, then path order decides. This keeps
// partitioning deterministic when two backups share a timestamp.
func Sort(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Type != b.Type {
			return a.Type == TypeFull
		}
		return a.Path < b.Path
	})
}
