package observability_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"ForgeLedger/internal/observability"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, observability.ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, observability.ParseLevel(" WARN "))
	assert.Equal(t, zerolog.InfoLevel, observability.ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, observability.ParseLevel("loud"))
}

func TestNewLoggerTo_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLoggerTo(&buf, "engine", zerolog.InfoLevel, false)

	logger.Debug().Msg("hidden")
	logger.Info().Uint64("tx_id", 7).Msg("settled")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "engine", line["component"])
	assert.Equal(t, "settled", line["message"])
	assert.EqualValues(t, 7, line["tx_id"])
	assert.Contains(t, line, "time")
}

func TestNewLoggerTo_Console(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLoggerTo(&buf, "sink", zerolog.InfoLevel, true)

	logger.Info().Msg("delivered")

	assert.Contains(t, buf.String(), "delivered")
	assert.False(t, json.Valid(buf.Bytes()))
}
