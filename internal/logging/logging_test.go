package logging

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	logger, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.Equal(t, os.Stdout, logger.Out)

	formatter, ok := logger.Formatter.(*logrus.TextFormatter)
	require.True(t, ok)
	assert.True(t, formatter.FullTimestamp)
	assert.Equal(t, TimestampFormat, formatter.TimestampFormat)
}

func TestNewWritesTimestampedLinesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reusetrack.log")
	logger, err := New(Options{Level: "DEBUG", Format: "text", Output: path})
	require.NoError(t, err)

	logger.WithField("inode", 42).Debug("Fingerprint saved")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`time="\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2}\.\d{3}"`), string(data))
	assert.Contains(t, string(data), "inode=42")
}

func TestNewJSON(t *testing.T) {
	logger, err := New(Options{Format: "json", Output: "stderr"})
	require.NoError(t, err)
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
	assert.Equal(t, os.Stderr, logger.Out)
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)

	_, err = New(Options{Format: "xml"})
	assert.Error(t, err)

	_, err = New(Options{Output: filepath.Join(t.TempDir(), "missing", "log")})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, level)
}
