package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gpkgparity/internal/config"
	"gpkgparity/internal/gpkg/gpkgtest"
)

func resetGlobals(t *testing.T) {
	t.Helper()
	logger = zap.NewNop()
	cfg = config.DefaultConfig()
	verbose, quiet = false, false
	layerName, configPath = "", ""
	timeout = 0
}

func cityFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "city.gpkg")
	gpkgtest.Create(t, path, gpkgtest.Layer{
		Name: "city",
		Columns: []gpkgtest.Column{
			{Name: "id", Type: "INTEGER"},
			{Name: "name", Type: "TEXT"},
			{Name: "count", Type: "INTEGER"},
		},
		Rows: [][]any{{1, "a", 4}, {2, "b", nil}},
	})
	return path
}

func TestRunParity_Success(t *testing.T) {
	resetGlobals(t)
	path := cityFixture(t)

	output := captureOutput(t, func() {
		if err := runParity(&cobra.Command{}, []string{path}); err != nil {
			t.Fatalf("runParity returned error: %v", err)
		}
	})

	assert.True(t, strings.HasPrefix(output, "=== Processing vector layer ===\nFile: "+path+"\n"))
	assert.Contains(t, output, "Creating 'parity-{field_name}' fields")
	assert.Contains(t, output, "Feature ID 1: id=1, parity-id=odd")
	assert.Contains(t, output, "=== Processing completed successfully! ===")

	rows := gpkgtest.Rows(t, path, "city")
	assert.Equal(t, "even", rows[0]["parity-count"])
	assert.Nil(t, rows[1]["parity-count"])
}

func TestRunParity_MissingFile(t *testing.T) {
	resetGlobals(t)
	path := filepath.Join(t.TempDir(), "missing.gpkg")

	var err error
	output := captureOutput(t, func() {
		err = runParity(&cobra.Command{}, []string{path})
	})

	require.Error(t, err)
	assert.Contains(t, output, "Error: file "+path+" not found!")
	assert.Contains(t, output, "=== Processing completed with errors! ===")
}

func TestRunParity_QuietAndLayerFlag(t *testing.T) {
	resetGlobals(t)
	path := cityFixture(t)
	quiet = true
	layerName = "city"

	output := captureOutput(t, func() {
		require.NoError(t, runParity(&cobra.Command{}, []string{path}))
	})
	assert.NotContains(t, output, "Feature ID")
	assert.Contains(t, output, "Changes saved successfully! Features processed: 2")

	layerName = "nowhere"
	var err error
	output = captureOutput(t, func() {
		err = runParity(&cobra.Command{}, []string{path})
	})
	assert.Error(t, err)
	assert.Contains(t, output, "Error: could not load layer "+path)
}

func TestRunParity_UnknownDriver(t *testing.T) {
	resetGlobals(t)
	cfg.Storage.Driver = "oracle"

	var err error
	captureOutput(t, func() {
		err = runParity(&cobra.Command{}, []string{cityFixture(t)})
	})
	assert.Error(t, err)
}

func TestRootCmd_Args(t *testing.T) {
	assert.Error(t, rootCmd.Args(rootCmd, nil))
	assert.Error(t, rootCmd.Args(rootCmd, []string{"a.gpkg", "b.gpkg"}))
	assert.NoError(t, rootCmd.Args(rootCmd, []string{"a.gpkg"}))
}

func TestPersistentPreRun_Config(t *testing.T) {
	resetGlobals(t)
	t.Setenv("GPKGPARITY_DRIVER", "")
	t.Setenv("GPKGPARITY_WORKERS", "")
	t.Setenv("GPKGPARITY_LOG_LEVEL", "")

	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("processing:\n  workers: 2\n  field_prefix: \"p_\"\n"), 0644))
	configPath = good
	require.NoError(t, rootCmd.PersistentPreRunE(rootCmd, nil))
	assert.Equal(t, 2, cfg.Processing.Workers)
	assert.Equal(t, "p_", cfg.Processing.FieldPrefix)
	assert.NotNil(t, logger)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("processing:\n  workers: 0\n"), 0644))
	configPath = bad
	assert.Error(t, rootCmd.PersistentPreRunE(rootCmd, nil))

	configPath = ""
	t.Setenv(config.EnvConfigPath, good)
	require.NoError(t, rootCmd.PersistentPreRunE(rootCmd, nil))
	assert.Equal(t, "p_", cfg.Processing.FieldPrefix)
}

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	origOut := os.Stdout
	origErr := os.Stderr
	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, rOut)
		_, _ = io.Copy(&buf, rErr)
		done <- buf.String()
	}()

	defer func() {
		_ = wOut.Close()
		_ = wErr.Close()
		os.Stdout = origOut
		os.Stderr = origErr
	}()
	fn()

	_ = wOut.Close()
	_ = wErr.Close()
	os.Stdout = origOut
	os.Stderr = origErr
	return <-done
}
