package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestParseLevel verifies level names map to zap levels
func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"info":    zapcore.InfoLevel,
		"DEBUG":   zapcore.DebugLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

// TestNew_WritesLogFile verifies the optional log destination receives
// entries
func TestNew_WritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crawl.log")

	log, err := New(Config{Level: "debug", File: path})
	require.NoError(t, err)

	log.Info("indexed unit", String("day", "2020-01-01"), Int("added", 3))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "indexed unit"))
	assert.True(t, strings.Contains(string(data), "2020-01-01"))
}

// TestNew_RejectsUnknownLevel verifies configuration errors surface
func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

// TestWith_CarriesFields verifies child loggers keep their fields
func TestWith_CarriesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := Wrap(zap.New(core)).With(String("run", "abc"))

	log.Warn("ambiguous page")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ambiguous page", entries[0].Message)
	assert.Equal(t, "abc", entries[0].ContextMap()["run"])
}
