package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	check.NoError(t, err)
	check.Equal(t, slog.LevelDebug, level)

	level, err = ParseLevel("WARN")
	check.NoError(t, err)
	check.Equal(t, slog.LevelWarn, level)

	_, err = ParseLevel("loud")
	check.Error(t, err)
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, FormatJSON, slog.LevelInfo)
	assert.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("auction created", "auction", "abc")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, 1, len(lines))

	var entry map[string]any
	assert.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	check.Equal(t, "auction created", entry["msg"].(string))
	check.Equal(t, "abc", entry["auction"].(string))
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, FormatText, slog.LevelInfo)
	assert.NoError(t, err)

	logger.Info("bid committed")
	check.True(t, strings.Contains(buf.String(), "bid committed"))

	_, err = New(&buf, Format("xml"), slog.LevelInfo)
	check.Error(t, err)
}
