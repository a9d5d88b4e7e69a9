package logging

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionIDStable(t *testing.T) {
	first := SessionID()
	second := SessionID()
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)
}

func TestNewLoggerWritesEntries(t *testing.T) {
	logger, err := NewLogger("test-component")
	require.NoError(t, err)
	defer logger.Close()

	logger.Infof("hello %s", "world")
	logger.Warnf("watch out")
	require.NoError(t, logger.Close())

	raw, err := os.ReadFile(logger.LogPath())
	require.NoError(t, err)
	content := string(raw)
	assert.Contains(t, content, "[test-component] [INFO] hello world")
	assert.Contains(t, content, "[WARN] watch out")
}

func TestLogPathUnderCacheDir(t *testing.T) {
	logger, err := NewLogger("path-check")
	require.NoError(t, err)
	defer logger.Close()

	dir, err := LogDirectory()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(logger.LogPath(), dir))
	assert.True(t, strings.HasSuffix(logger.LogPath(), "-agentdir.log"))
}

func TestCloseIdempotent(t *testing.T) {
	logger, err := NewLogger("close-twice")
	require.NoError(t, err)
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())
}
