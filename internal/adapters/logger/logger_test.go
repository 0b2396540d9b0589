package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/zerr"
)

func newBufferedLogger() (*Logger, *bytes.Buffer) {
	log := New()
	buf := &bytes.Buffer{}
	log.SetOutput(buf)
	return log, buf
}

func TestInfo(t *testing.T) {
	log, buf := newBufferedLogger()

	log.Info("worker ready")
	assert.Contains(t, buf.String(), "worker ready")
}

func TestWarn(t *testing.T) {
	log, buf := newBufferedLogger()

	log.Warn("eviction grace exceeded")
	assert.Contains(t, buf.String(), "! eviction grace exceeded")
}

func TestErrorRendersCauseChain(t *testing.T) {
	log, buf := newBufferedLogger()

	inner := zerr.New("connection refused")
	middle := zerr.Wrap(inner, "failed to reach artifact store")
	outer := zerr.Wrap(middle, "bundle resolution failed")

	log.Error(outer)

	out := buf.String()
	assert.Contains(t, out, "Error: bundle resolution failed")
	assert.Contains(t, out, "Caused by:")
	assert.Contains(t, out, "→ failed to reach artifact store")
	assert.Contains(t, out, "→ connection refused")

	// Outermost message first, root cause last.
	assert.Less(t,
		strings.Index(out, "failed to reach artifact store"),
		strings.Index(out, "connection refused"),
	)
}

func TestErrorNil(t *testing.T) {
	log, buf := newBufferedLogger()

	log.Error(nil)
	assert.Empty(t, buf.String())
}

func TestJSONMode(t *testing.T) {
	log, buf := newBufferedLogger()
	log.SetJSON(true)

	log.Info("worker ready")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "worker ready", record["msg"])
	assert.Equal(t, "INFO", record["level"])
}

func TestJSONModeError(t *testing.T) {
	log, buf := newBufferedLogger()
	log.SetJSON(true)

	log.Error(zerr.New("pool exhausted"))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "ERROR", record["level"])
	errField, ok := record["error"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, errField["msg"], "pool exhausted")
}
