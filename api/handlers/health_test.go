package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubProbe struct {
	name string
	err  error
}

func (p stubProbe) Name() string                { return p.name }
func (p stubProbe) Check(context.Context) error { return p.err }

func readyReport(t *testing.T, h *HealthHandler) (int, HealthReport) {
	t.Helper()
	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var report HealthReport
	require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
	return w.Code, report
}

func TestHealthHandler_Liveness(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	h.RegisterCheck(stubProbe{name: "archive", err: errors.New("down")})

	for _, handle := range []http.HandlerFunc{h.HandleHealth, h.HandleHealthz} {
		w := httptest.NewRecorder()
		handle(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code, "liveness ignores probes")

		var report HealthReport
		require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
		assert.Equal(t, StatusAlive, report.Status)
		assert.NotEmpty(t, report.Uptime)
		assert.Empty(t, report.Checks)
	}
}

func TestHealthHandler_ReadyStates(t *testing.T) {
	tests := []struct {
		name       string
		required   []Probe
		optional   []Probe
		wantCode   int
		wantStatus string
	}{
		{"no probes", nil, nil, http.StatusOK, StatusReady},
		{"all pass", []Probe{stubProbe{name: "archive"}}, []Probe{stubProbe{name: "models"}}, http.StatusOK, StatusReady},
		{"optional fails", []Probe{stubProbe{name: "archive"}}, []Probe{stubProbe{name: "models", err: errors.New("none")}}, http.StatusOK, StatusDegraded},
		{"required fails", []Probe{stubProbe{name: "archive", err: errors.New("refused")}}, []Probe{stubProbe{name: "models"}}, http.StatusServiceUnavailable, StatusUnavailable},
		{"both fail", []Probe{stubProbe{name: "archive", err: errors.New("refused")}}, []Probe{stubProbe{name: "models", err: errors.New("none")}}, http.StatusServiceUnavailable, StatusUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(zap.NewNop())
			for _, p := range tt.required {
				h.RegisterCheck(p)
			}
			for _, p := range tt.optional {
				h.RegisterOptionalCheck(p)
			}

			code, report := readyReport(t, h)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, report.Status)
			assert.Len(t, report.Checks, len(tt.required)+len(tt.optional))
		})
	}
}

func TestHealthHandler_ProbeDetails(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	h.RegisterCheck(stubProbe{name: "archive", err: errors.New("connection refused")})
	h.RegisterOptionalCheck(stubProbe{name: "models"})

	_, report := readyReport(t, h)
	archive := report.Checks["archive"]
	assert.Equal(t, "fail", archive.Status)
	assert.Equal(t, "connection refused", archive.Message)
	assert.False(t, archive.Optional)
	assert.NotEmpty(t, archive.Latency)

	models := report.Checks["models"]
	assert.Equal(t, "pass", models.Status)
	assert.True(t, models.Optional)

	assert.Equal(t, []string{"archive", "models"}, h.Names())
}

func TestHealthHandler_ProbeTimeout(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	h.timeout = 20 * time.Millisecond
	h.RegisterCheck(NewPingCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	start := time.Now()
	code, report := readyReport(t, h)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "timed out after 20ms", report.Checks["slow"].Message)
}

func TestHealthHandler_ProbesRunConcurrently(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	release := make(chan struct{})
	waiting := make(chan struct{}, 2)
	blocking := func(ctx context.Context) error {
		waiting <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.RegisterCheck(NewPingCheck("a", blocking))
	h.RegisterCheck(NewPingCheck("b", blocking))

	go func() {
		<-waiting
		<-waiting
		close(release)
	}()

	code, report := readyReport(t, h)
	assert.Equal(t, http.StatusOK, code, "both probes were in flight at once")
	assert.Equal(t, StatusReady, report.Status)
}

func TestModelCountCheck(t *testing.T) {
	n := 0
	p := NewModelCountCheck(func() int { return n })
	assert.Equal(t, "models", p.Name())
	assert.EqualError(t, p.Check(context.Background()), "no models deployed")

	n = 2
	assert.NoError(t, p.Check(context.Background()))
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	w := httptest.NewRecorder()
	h.HandleVersion("1.2.0", "2026-01-01", "abc123")(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool              `json:"success"`
		Data    map[string]string `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "1.2.0", resp.Data["version"])
	assert.Equal(t, "abc123", resp.Data["git_commit"])
}
