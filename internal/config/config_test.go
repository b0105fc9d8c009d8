package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lkarlslund/orasidsync/internal/input"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint32(180000), cfg.Spacing())
	assert.Equal(t, uint32(800000), cfg.MaxWaitCounters())
	assert.Equal(t, 1112, cfg.Region.Rectangle().Min.X)
	assert.Equal(t, 75, cfg.Region.Rectangle().Max.Y)
	assert.Equal(t, OCR{Language: "eng", Whitelist: "0123456789", PageSegMode: 7}, cfg.OCR)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
target:
  tid: 12345
  sid: 54321
pivot: 0x10000000
discovery:
  interval: 90s
search:
  max_wait: 10m
sequences:
  reset:
    - keys: [HOME]
      hold: 150ms
      gap: 3s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, Target{TID: 12345, SID: 54321}, cfg.Target)
	assert.Equal(t, uint32(0x10000000), cfg.Pivot)
	assert.Equal(t, 90*time.Second, cfg.Discovery.Interval)
	assert.Equal(t, 4, cfg.Discovery.Samples)
	assert.Equal(t, 10*time.Minute, cfg.Search.MaxWait)

	assert.Equal(t, input.Sequence{{Keys: []input.Key{input.Home}, Hold: 150 * time.Millisecond, Gap: 3 * time.Second}}, cfg.Sequences.Reset)
	assert.Equal(t, input.DefaultSequences().Settle, cfg.Sequences.Settle)
}

func TestLoadRejectsNonsense(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("discovery:\n  samples: 0\nsearch:\n  window: 0\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sample")
	assert.Contains(t, err.Error(), "window")

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
