package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RenamesErrorKey(t *testing.T) {
	var buf bytes.Buffer
	New(slog.LevelInfo, WithOutput(&buf)).Error("save failed", "error", errors.New("disk full"))
	assert.Contains(t, buf.String(), `err="disk full"`)
}

func TestNew_JSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(slog.LevelWarn, WithOutput(&buf), WithJSON(true))
	logger.Info("dropped")
	logger.Warn("kept", "form_id", "salon")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "salon", rec["form_id"])
}
