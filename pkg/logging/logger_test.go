package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewTextFormatter())

	logger.Debug("hidden")
	logger.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	logger.SetLevel(DebugLevel)
	logger.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestWithFieldsAccumulate(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewTextFormatter()).WithFields(String("component", "rpc"))

	logger.Warn("slow request", Duration("elapsed", 0), Int("attempt", 2))
	out := buf.String()
	// The component field becomes a message prefix rather than a pair.
	assert.Contains(t, out, "rpc: slow request")
	assert.Contains(t, out, "attempt=2")
	assert.Contains(t, out, "WARN")
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewJSONFormatter())

	logger.Error("request failed", ErrorField(errors.New("boom")), String("method", "tools/list"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "request failed", entry["msg"])
	assert.Equal(t, "boom", entry["error"])
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNopLogger()
	logger.Info("nothing happens")
	logger.SetLevel(DebugLevel)
	assert.Equal(t, logger, logger.WithFields(String("k", "v")))
}
