package logx

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &m))
	return m
}

func TestWriterFieldsAndWith(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "dispatch"))
	log.Info("item completed",
		String("item", "i1"),
		Int("attempts", 2),
		Err(nil),
		Time("zero", time.Time{}),
		Strings("media", []string{"a", "b"}),
	)
	m := lastLine(t, &buf)
	assert.Equal(t, "item completed", m["message"])
	assert.Equal(t, "dispatch", m["comp"])
	assert.Equal(t, "i1", m["item"])
	assert.Equal(t, float64(2), m["attempts"])
	assert.NotContains(t, m, "err")
	assert.NotContains(t, m, "zero")
	assert.Contains(t, m["caller"], "logx_test.go:")

	log.Warn("publish failed", Err(errors.New("boom")))
	assert.Equal(t, "boom", lastLine(t, &buf)["err"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("hidden")
	assert.Empty(t, buf.String())
	assert.False(t, log.Enabled(LevelInfo))
	assert.True(t, log.Enabled(LevelError))
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	zero.Info("discarded")
	assert.False(t, Nop().IsZero())
}

func TestServiceApplyAndReopen(t *testing.T) {
	var stdout bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "cp.log")
	s := &Service{stdout: &stdout}
	s.Apply(Config{Level: "info", Console: true, JSON: true, Service: "contentpilot", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = s.Close() })
	log := s.Logger().With(String("comp", "app"))

	log.Debug("hidden")
	log.Info("started")
	m := lastLine(t, &stdout)
	assert.Equal(t, "contentpilot", m["svc"])
	assert.Equal(t, "app", m["comp"])

	f := s.file
	s.Apply(Config{Level: "debug", Console: true, JSON: true, File: FileConfig{Enabled: true, Path: path}})
	assert.Same(t, f, s.file)
	assert.Equal(t, LevelDebug, s.Level())
	log.Debug("now visible")
	assert.Equal(t, "now visible", lastLine(t, &stdout)["message"])

	rotated := path + ".1"
	require.NoError(t, os.Rename(path, rotated))
	require.NoError(t, s.Reopen())
	log.Info("after rotate")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "after rotate")
	old, err := os.ReadFile(rotated)
	require.NoError(t, err)
	assert.Contains(t, string(old), "started")
	assert.NotContains(t, string(old), "after rotate")
}
