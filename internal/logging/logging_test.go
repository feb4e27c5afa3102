// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New("info", "json", &buf)

	logger.Info().Str("document", "decay-study").Int("claims", 4).Msg("claims extracted")
	logger.Debug().Msg("hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "decay-study", entry["document"])
	assert.Equal(t, float64(4), entry["claims"])
	assert.Equal(t, "claims extracted", entry["message"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNew_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New("debug", "console", &buf)

	logger.Debug().Str("stage", "matched").Msg("stage complete")
	assert.Contains(t, buf.String(), "stage complete")
	assert.Contains(t, buf.String(), "matched")
}

func TestNop(t *testing.T) {
	logger := Nop()
	logger.Error().Msg("dropped")
}
