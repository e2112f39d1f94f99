package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONOutputCarriesScopedFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})
	defer Init(Config{Level: ErrorLevel})

	hostLogger := WithHost("it01")
	hostLogger.Info().Str("tag", "lock_host").Msg("command sent")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "it01", entry["host"])
	assert.Equal(t, "lock_host", entry["tag"])
	assert.Equal(t, "command sent", entry["message"])
	assert.NotEmpty(t, entry["time"])
}

func TestLevelFiltersOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: ErrorLevel, JSONOutput: true, Output: &buf})
	defer Init(Config{Level: ErrorLevel})

	statusLogger := WithComponent("status")
	statusLogger.Info().Msg("suppressed")
	assert.Zero(t, buf.Len())

	statusLogger.Error().Msg("surfaced")
	assert.NotZero(t, buf.Len())
}

func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	assert.Equal(t, InfoLevel.zerolog(), Level("nonsense").zerolog())
}
