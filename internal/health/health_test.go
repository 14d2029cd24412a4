package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_Health(t *testing.T) {
	c := NewChecker("1.2.3")

	rec := httptest.NewRecorder()
	c.HealthHandler()(rec, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.NotEmpty(t, resp.Uptime)
}

func TestChecker_ReadinessAggregatesWorstStatus(t *testing.T) {
	c := NewChecker("test")
	c.RegisterCheck("registry", func() Check {
		return Check{Status: StatusHealthy}
	})
	c.RegisterCheck("redis", func() Check {
		return Check{Status: StatusDegraded, Message: "slow"}
	})

	resp := c.Readiness()
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Len(t, resp.Checks, 2)

	c.RegisterCheck("backends", func() Check {
		return Check{Status: StatusUnhealthy, Message: "all instances down"}
	})

	resp = c.Readiness()
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestChecker_ReadinessHandlerReturns503WhenUnhealthy(t *testing.T) {
	c := NewChecker("test")
	c.RegisterCheck("backends", func() Check {
		return Check{Status: StatusUnhealthy}
	})

	rec := httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest("GET", "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestChecker_ReadinessHandlerReturns200WhenHealthy(t *testing.T) {
	c := NewChecker("test")

	rec := httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest("GET", "/health/ready", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChecker_Liveness(t *testing.T) {
	c := NewChecker("test")

	rec := httptest.NewRecorder()
	c.LivenessHandler()(rec, httptest.NewRequest("GET", "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
