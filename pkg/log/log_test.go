package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	cfg := Config{Level: "info", Format: "text"}
	assert.NoError(t, cfg.Validate(), "stdout only needs no rotation settings")

	cfg.Path = "/tmp/docstore"
	assert.Error(t, cfg.Validate())

	cfg.RotationTime = "24h"
	cfg.MaxAge = "168h"
	assert.NoError(t, cfg.Validate())

	cfg.Level = "verbose"
	assert.Error(t, cfg.Validate())

	cfg.Level = "DEBUG"
	cfg.Format = "xml"
	assert.Error(t, cfg.Validate())
}

func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, Config{Level: "warn", Format: "json"}))

	logger.Info("dropped")
	logger.With("module", "bridge").Warn("recall failed", "index", "docstore_notes")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "recall failed", line["msg"])
	assert.Equal(t, "bridge", line["module"])
	assert.Equal(t, "docstore_notes", line["index"])
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{6}$`, line["time"])
}
