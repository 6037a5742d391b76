package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartautomapper/sam/internal/api/models"
)

func TestHealthStatus_Worse(t *testing.T) {
	ok, degraded, fail := models.HealthStatusOK, models.HealthStatusDegraded, models.HealthStatusFail

	assert.Equal(t, degraded, ok.Worse(degraded))
	assert.Equal(t, degraded, degraded.Worse(ok))
	assert.Equal(t, fail, degraded.Worse(fail))
	assert.Equal(t, fail, fail.Worse(ok))

	status := models.SystemStatus{Status: ok}
	status.Degrade(degraded)
	status.Degrade(ok)
	assert.Equal(t, degraded, status.Status)
}

func TestTimestamp_JSON(t *testing.T) {
	paris := time.FixedZone("CEST", 2*60*60)
	ts := models.Timestamp(time.Date(2026, 7, 14, 10, 30, 0, 0, paris))

	b, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2026-07-14T08:30:00Z"`, string(b))

	var back models.Timestamp
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, back.Time().Equal(ts.Time()))

	assert.Error(t, json.Unmarshal([]byte(`1752481800`), &back))
	assert.NoError(t, json.Unmarshal([]byte(`null`), &back))
}

func TestTimestampPtr(t *testing.T) {
	assert.Nil(t, models.TimestampPtr(nil))

	now := time.Now()
	ts := models.TimestampPtr(&now)
	require.NotNil(t, ts)
	assert.True(t, ts.Time().Equal(now))
}
