package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
	"github.com/cmejo/AI-Scholar-sub007/internal/core"
	"github.com/cmejo/AI-Scholar-sub007/internal/feedback"
	"github.com/cmejo/AI-Scholar-sub007/internal/reward"
	"github.com/cmejo/AI-Scholar-sub007/internal/safety"
	"github.com/cmejo/AI-Scholar-sub007/internal/telemetry"
)

type fakeHealth struct{ h core.Health }

func (f fakeHealth) Health() core.Health { return f.h }

type fakeSafety struct{}

func (fakeSafety) Report() safety.Report {
	return safety.Report{ActiveAlerts: 2, BySeverity: map[string]int{"HIGH": 2}}
}

type fakeTelemetry struct{ degraded bool }

func (f fakeTelemetry) Health() telemetry.HealthStatus {
	return telemetry.HealthStatus{Healthy: true, Degraded: f.degraded}
}

type fakeSubmitter struct {
	err error
	got []conversation.FeedbackEvent
}

func (f *fakeSubmitter) Submit(ev conversation.FeedbackEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, ev)
	return nil
}

func newTestServer(t *testing.T, deps Deps, metrics *HTTPMetrics) *Server {
	t.Helper()
	if deps.Health == nil {
		deps.Health = fakeHealth{core.Health{Running: true, Sessions: 3}}
	}
	s, err := New(Config{}, deps, nil, metrics)
	require.NoError(t, err)
	return s
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNew_RequiresHealth(t *testing.T) {
	_, err := New(Config{}, Deps{}, nil, nil)
	assert.Error(t, err)
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		deps       Deps
		wantCode   int
		wantStatus string
	}{
		{"running", Deps{}, http.StatusOK, "ok"},
		{"not started", Deps{Health: fakeHealth{}}, http.StatusServiceUnavailable, "starting"},
		{"telemetry degraded", Deps{Telemetry: fakeTelemetry{degraded: true}}, http.StatusOK, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.deps, nil)
			rec := do(s, http.MethodGet, "/health", "")
			assert.Equal(t, tt.wantCode, rec.Code)

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
		})
	}

	s := newTestServer(t, Deps{}, nil)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(do(s, http.MethodGet, "/health", "").Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Components.Sessions)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, Deps{}, nil)
	rec := do(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestSafetyReport(t *testing.T) {
	s := newTestServer(t, Deps{Safety: fakeSafety{}}, nil)
	rec := do(s, http.MethodGet, "/v1/safety/report", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report safety.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 2, report.ActiveAlerts)

	s = newTestServer(t, Deps{}, nil)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/v1/safety/report", "").Code)
}

func TestRewardWeights(t *testing.T) {
	calc, err := reward.NewCalculator(reward.DefaultConfig(), nil)
	require.NoError(t, err)
	s := newTestServer(t, Deps{Rewards: calc}, nil)
	before := calc.Weights()[reward.Creativity]

	rec := do(s, http.MethodGet, "/v1/reward", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got RewardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.InDelta(t, before, got.Weights[reward.Creativity], 1e-9)

	rec = do(s, http.MethodPost, "/v1/reward/weights", `{"preferences":{"creativity":1},"rate":0.5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Greater(t, got.Weights[reward.Creativity], before)
	assert.Equal(t, calc.Weights()[reward.Creativity], got.Weights[reward.Creativity])

	var sum float64
	for _, w := range got.Weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	assert.Equal(t, http.StatusBadRequest,
		do(s, http.MethodPost, "/v1/reward/weights", `{"preferences":{"humor":1}}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		do(s, http.MethodPost, "/v1/reward/weights", `{"preferences":{}}`).Code)

	s = newTestServer(t, Deps{}, nil)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/v1/reward", "").Code)
}

func TestHandleFeedback(t *testing.T) {
	valid := `{"kind":"explicit_rating","conversation_id":"c1","turn_index":0,"user_id":"u1","rating":5}`

	t.Run("accepted", func(t *testing.T) {
		sub := &fakeSubmitter{}
		s := newTestServer(t, Deps{Feedback: sub}, nil)
		rec := do(s, http.MethodPost, "/v1/feedback", valid)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.Len(t, sub.got, 1)
		assert.Equal(t, 5, sub.got[0].Rating)
	})

	t.Run("invalid event", func(t *testing.T) {
		s := newTestServer(t, Deps{Feedback: &fakeSubmitter{}}, nil)
		rec := do(s, http.MethodPost, "/v1/feedback",
			`{"kind":"explicit_rating","conversation_id":"c1","user_id":"u1","rating":7}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		s := newTestServer(t, Deps{Feedback: &fakeSubmitter{}}, nil)
		assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/v1/feedback", `{"kind":`).Code)
	})

	t.Run("queue full", func(t *testing.T) {
		s := newTestServer(t, Deps{Feedback: &fakeSubmitter{err: feedback.ErrQueueFull}}, nil)
		assert.Equal(t, http.StatusServiceUnavailable, do(s, http.MethodPost, "/v1/feedback", valid).Code)
	})
}

func TestHTTPMetrics_RecordsRequests(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	metrics := NewHTTPMetrics(tel.Meter(InstrumentationName), nil)
	s := newTestServer(t, Deps{Feedback: &fakeSubmitter{}}, metrics)

	do(s, http.MethodGet, "/health", "")
	do(s, http.MethodGet, "/health", "")
	do(s, http.MethodPost, "/v1/feedback", `{}`)

	ctx := context.Background()
	n, ok := tel.Int64Sum(ctx, "assistant.http.requests", attribute.String("route", "/health"))
	require.True(t, ok)
	assert.Equal(t, int64(2), n)

	n, ok = tel.Int64Sum(ctx, "assistant.http.requests", attribute.Int("status", http.StatusBadRequest))
	require.True(t, ok)
	assert.Equal(t, int64(1), n)

	active, ok := tel.Int64Sum(ctx, "assistant.http.active_requests")
	require.True(t, ok)
	assert.Zero(t, active)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestStart_ServesUntilCancelled(t *testing.T) {
	port := freePort(t)
	s, err := New(Config{Host: "127.0.0.1", Port: port, ShutdownTimeout: time.Second},
		Deps{Health: fakeHealth{core.Health{Running: true}}}, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	url := "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(port)) + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
