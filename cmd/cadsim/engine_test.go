package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/san-kum/cadsim/internal/config"
)

func TestWriteEngine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	cfg := config.DefaultEngine()
	cfg.Backend = "MULTIPROCESSING"
	cfg.Processes = 3
	require.NoError(t, writeEngine(path, cfg, false))

	loaded, err := config.LoadEngine(path)
	require.NoError(t, err)
	require.Equal(t, config.Multiprocessing, loaded.Backend)
	require.Equal(t, 3, loaded.Processes)

	err = writeEngine(path, config.DefaultEngine(), false)
	require.ErrorContains(t, err, "already exists")
	require.NoError(t, writeEngine(path, config.DefaultEngine(), true))

	loaded, err = config.LoadEngine(path)
	require.NoError(t, err)
	require.Equal(t, config.DefaultBackend, loaded.Backend)
}

func TestWriteEngineRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	cfg := config.DefaultEngine()
	cfg.Backend = "dask"
	require.Error(t, writeEngine(path, cfg, false))
	require.NoFileExists(t, path)
}

func TestListBackends(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, listBackends(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, len(config.Backends()))
	for i, b := range config.Backends() {
		require.True(t, strings.HasPrefix(lines[i], string(b)), lines[i])
		require.Contains(t, lines[i], "available")
	}
	require.NotContains(t, buf.String(), "no executor")
	require.Contains(t, buf.String(), "(default)")
}
