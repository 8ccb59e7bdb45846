package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ballotwatch/fraud-engine/internal/infrastructure/config"
	"github.com/ballotwatch/fraud-engine/internal/service/fraud"
	"github.com/ballotwatch/fraud-engine/internal/service/pattern"
)

type apiFixture struct {
	handler   *Handler
	mux       *http.ServeMux
	behaviors *mockBehaviorRepo
	alerts    *mockAlertStore
	clusters  *memClusterRepo
	healthErr error
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	logger := zaptest.NewLogger(t)
	cfg := config.DefaultDetection()

	f := &apiFixture{
		behaviors: &mockBehaviorRepo{},
		alerts:    &mockAlertStore{},
		clusters:  &memClusterRepo{},
	}

	fraudSvc := fraud.NewService(cfg, &stubScorer{}, &stubRetrainer{},
		f.behaviors, f.alerts, nil, 0, nil, logger)

	detector := pattern.NewDetector(cfg,
		emptyVoteRepo{}, emptySurveyRepo{}, emptyVoterRepo{},
		f.behaviors, f.clusters, f.alerts, nil, logger)

	f.handler = NewHandler(fraudSvc, detector, f.clusters, nil,
		func() error { return f.healthErr }, 10, logger)
	f.mux = f.handler.Routes()
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.ContentLength = int64(buf.Len())
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func TestSessionLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/sessions", startSessionRequest{
		ActorID:         "actor-1",
		SessionID:       "sess-1",
		NetworkAddr:     "203.0.113.7",
		DeviceSignature: "Mozilla/5.0",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/sessions/sess-1/phases/registration/start", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/sessions/sess-1/phases/registration/end", endPhaseRequest{
		FormCorrections: 2,
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/sessions/sess-1/pages", logPageRequest{Page: "/register"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/sessions/sess-1/finalize", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp finalizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "actor-1", resp.ActorID)
	assert.NotZero(t, resp.RecordID)
	require.NotNil(t, resp.Assessment)
	assert.False(t, resp.Assessment.ModelTrained)
	require.Len(t, f.behaviors.records, 1)

	// A session can only be finalized once.
	rec = f.do(t, http.MethodPost, "/api/v1/sessions/sess-1/finalize", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartSession_MissingFields(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/sessions", startSessionRequest{ActorID: "actor-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPhaseEndpoints_UnknownPhase(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/sessions/sess-1/phases/checkout/start", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/sessions/sess-1/phases/checkout/end", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEndPhase_InvalidSurveyAnswers(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, http.MethodPost, "/api/v1/sessions", startSessionRequest{ActorID: "a", SessionID: "sess-1"})
	f.do(t, http.MethodPost, "/api/v1/sessions/sess-1/phases/survey/start", nil)

	rec := f.do(t, http.MethodPost, "/api/v1/sessions/sess-1/phases/survey/end", endPhaseRequest{
		SurveyAnswers: []int{5, 5, 5},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFinalize_UnknownSession(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/sessions/ghost/finalize", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAssess(t *testing.T) {
	f := newAPIFixture(t)

	t.Run("valid vector", func(t *testing.T) {
		dur := 5.0
		rec := f.do(t, http.MethodPost, "/api/v1/assessments", map[string]interface{}{
			"registration_duration": dur,
			"form_corrections":      15,
			"total_session_duration": 20,
			"time_of_day":           14,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var assessment fraud.RiskAssessment
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &assessment))
		// Fast registration, excessive corrections, short session.
		assert.GreaterOrEqual(t, assessment.RuleScore, 40.0)
		assert.False(t, assessment.ModelTrained)
	})

	t.Run("negative duration rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/assessments", map[string]interface{}{
			"registration_duration": -3.0,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/assessments", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		f.mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestActorRisk_NoCacheConfigured(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/actors/actor-1/risk", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAlerts(t *testing.T) {
	f := newAPIFixture(t)
	for i := 0; i < 3; i++ {
		actor := fmt.Sprintf("actor-%d", i)
		f.alerts.alerts = append(f.alerts.alerts, &fraud.FraudAlert{
			ID:        uuid.New(),
			ActorID:   &actor,
			Type:      fraud.AlertBehavioralAnomaly,
			Severity:  fraud.SeverityHigh,
			Status:    fraud.StatusOpen,
			CreatedAt: time.Now(),
		})
	}

	t.Run("default limit", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/alerts", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var alerts []*fraud.FraudAlert
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
		assert.Len(t, alerts, 3)
	})

	t.Run("explicit limit", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/alerts?limit=2", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var alerts []*fraud.FraudAlert
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
		assert.Len(t, alerts, 2)
	})

	t.Run("invalid limit", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/alerts?limit=zero", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestStatistics(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/statistics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats fraud.Statistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.False(t, stats.ModelTrained)
}

func TestSweep(t *testing.T) {
	f := newAPIFixture(t)

	t.Run("quiet window", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/analysis/sweep", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp sweepResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 10, resp.WindowMinutes)
		assert.Empty(t, resp.SuspiciousClusters)
	})

	t.Run("invalid window", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/analysis/sweep?window_minutes=-5", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListClusters(t *testing.T) {
	f := newAPIFixture(t)
	f.clusters.clusters = append(f.clusters.clusters,
		&pattern.IPCluster{NetworkAddr: "10.0.0.1", RiskLabel: pattern.LabelSuspicious},
		&pattern.IPCluster{NetworkAddr: "10.0.0.2", RiskLabel: pattern.LabelNormal},
	)

	t.Run("defaults to suspicious", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/clusters", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var clusters []*pattern.IPCluster
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &clusters))
		require.Len(t, clusters, 1)
		assert.Equal(t, "10.0.0.1", clusters[0].NetworkAddr)
	})

	t.Run("invalid label", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/clusters?label=bogus", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRetrain(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/model/retrain", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp["retrained"])
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.healthErr = fmt.Errorf("db unreachable")
	rec = f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), RateLimit(1, 2))

	statuses := make(map[int]int)
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.4:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		statuses[rec.Code]++
	}

	assert.Equal(t, 2, statuses[http.StatusOK])
	assert.Equal(t, 3, statuses[http.StatusTooManyRequests])
}
