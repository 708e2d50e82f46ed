package cmd

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTTY_FalseForNonFileWriter(t *testing.T) {
	// Given: a plain in-memory buffer
	buf := &bytes.Buffer{}

	// Then: it is never reported as a terminal
	assert.False(t, isTTY(buf))
}

func TestIsTTY_FalseForPipe(t *testing.T) {
	// Given: one end of an os.Pipe, which is a *os.File but not a tty
	r, w, err := os.Pipe()
	assert.NoError(t, err)
	defer r.Close()
	defer w.Close()

	// Then: isTTY reports false
	assert.False(t, isTTY(w))
}

func TestResolveTier_DefaultsToLite(t *testing.T) {
	assert.Equal(t, resolveTier("auto"), resolveTier(""))
}

func TestSetupLogging_WritesUnderDataDir(t *testing.T) {
	// Given: a fresh data directory and the default (non-verbose) flag
	dataDir := t.TempDir()
	verboseFlag = false

	// When: logging is set up
	logger, cleanup := setupLogging(dataDir)
	defer cleanup()

	// Then: a logger was returned and it writes into dataDir/logs, not the
	// teacher's fixed ~/.corekit/logs path
	assert.NotNil(t, logger)
	logger.Info("test entry")
	assert.FileExists(t, dataDir+"/logs/core.log")
}
