package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mnemo/internal/mnemoerr"
)

func TestLoadConfigAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  backend: memory
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 2000, cfg.Recall.DefaultTokenBudget)
	require.Equal(t, 0.4, cfg.Recall.CurrentEpisodeBudgetPct)
	require.Equal(t, 3, cfg.Reflection.MinEpisodeTurns)
	require.True(t, cfg.Marker.AutoDetect)
	require.Equal(t, 0.3, cfg.Marker.Weights["decision"])
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsOutOfRangeBudgetPct(t *testing.T) {
	cfg := Default()
	cfg.Recall.CurrentEpisodeBudgetPct = 1.5
	require.ErrorIs(t, cfg.Validate(), mnemoerr.ErrValidation)
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "dynamo"
	require.ErrorIs(t, cfg.Validate(), mnemoerr.ErrValidation)
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
}
