package operations

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataDurationWrittenInMilliseconds(t *testing.T) {
	dir := t.TempDir()
	m := &Metadata{Target: "shop", Mode: "full", Status: "success", DurationMS: 1500}
	require.NoError(t, m.Write(dir))

	raw, err := os.ReadFile(filepath.Join(dir, MetadataFilename))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.EqualValues(t, 1500, decoded["duration_ms"])
}
