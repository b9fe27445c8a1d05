package operations

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const MetadataFilename = "metadata.json"

// Metadata describes a single backup produced by a run. It is written
// into the backup directory on success; the pruner never reads it,
// chain membership comes from directory names alone.
type Metadata struct {
	Target      string        `json:"target"`
	Mode        string        `json:"mode"`
	Path        string        `json:"path"`
	Base        string        `json:"base,omitempty"`
	Status      string        `json:"status"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMS  int64     `json:"duration_ms"`
	SizeBytes   int64     `json:"size_bytes"`
}

// Load reads a metadata file from a backup directory.
func (m *Metadata) Load(dirPath string) error {
	filePath := filepath.Join(dirPath, MetadataFilename)
	jsonFile, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("couldn't open metadata file %q: %w", filePath, err)
	}
	defer jsonFile.Close()

	decoder := json.NewDecoder(jsonFile)
	if err := decoder.Decode(m); err != nil {
		return fmt.Errorf("decode metadata JSON: %w", err)
	}
	return nil
}

// Write stores the metadata next to the backup's payload.
func (m *Metadata) Write(dirPath string) error {
	filePath := filepath.Join(dirPath, MetadataFilename)

	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return fmt.Errorf("ensure metadata directory %q: %w", dirPath, err)
	}

	jsonFile, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("create metadata file %q: %w", filePath, err)
	}
	defer jsonFile.Close()

	encoder := json.NewEncoder(jsonFile)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(m); err != nil {
		return fmt.Errorf("encode metadata JSON: %w", err)
	}
	return nil
}
