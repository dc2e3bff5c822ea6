package contracts

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionStatus_TerminalPartition(t *testing.T) {
	assert.False(t, StatusReceived.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusSucceeded.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusDenied.Terminal())
}

func TestActionName_Valid(t *testing.T) {
	for _, n := range ActionNames() {
		assert.True(t, n.Valid(), n)
	}
	assert.False(t, ActionName("rm.rf").Valid())
	assert.False(t, ActionName("*").Valid())
}

func TestParseEnvironment(t *testing.T) {
	env, err := ParseEnvironment("  PROD ")
	require.NoError(t, err)
	assert.Equal(t, EnvironmentProd, env)

	_, err = ParseEnvironment("qa")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dev, stage, prod")
}

func TestActionRecord_JSONNullsOptionalFields(t *testing.T) {
	rec := ActionRecord{
		RequestID: uuid.MustParse("6f1c5a43-6b8e-4a57-9d55-0b7d5f5d2f11"),
		Status:    StatusRunning,
		StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "6f1c5a43-6b8e-4a57-9d55-0b7d5f5d2f11", decoded["request_id"])
	assert.Equal(t, "running", decoded["status"])
	assert.Nil(t, decoded["finished_at"])
	assert.Nil(t, decoded["summary"])
	assert.Nil(t, decoded["error"])
}
