package logging

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanotejeda/sondare/internal/config"
)

func TestNewTextLogger(t *testing.T) {
	log, err := New(config.LogConfig{Level: "debug", Format: "text", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, log.Formatter)
}

func TestNewJSONLogger(t *testing.T) {
	log, err := New(config.LogConfig{Level: "warn", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)
}

func TestNewFileLoggerCreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sondare.log")
	log, err := New(config.LogConfig{Level: "info", Format: "text", Output: "file", FilePath: path, MaxSizeMB: 1})
	require.NoError(t, err)

	log.Info("arranque")
	assert.FileExists(t, path)
}

func TestNewInvalidLevelFallsBack(t *testing.T) {
	log, err := New(config.LogConfig{Level: "gritando", Format: "text", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}

func TestNewInvalidFormat(t *testing.T) {
	_, err := New(config.LogConfig{Level: "info", Format: "xml", Output: "stdout"})
	assert.Error(t, err)
}

func TestNewFileWithoutPath(t *testing.T) {
	_, err := New(config.LogConfig{Level: "info", Format: "text", Output: "file"})
	assert.Error(t, err)
}
