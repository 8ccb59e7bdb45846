package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ballotwatch/fraud-engine/internal/domain/behavior"
	apperrors "github.com/ballotwatch/fraud-engine/internal/domain/errors"
	"github.com/ballotwatch/fraud-engine/internal/service/fraud"
	"github.com/ballotwatch/fraud-engine/internal/service/pattern"
)

const defaultAlertLimit = 50

// Handler serves the engine's HTTP API.
type Handler struct {
	fraud    *fraud.Service
	detector *pattern.Detector
	clusters pattern.ClusterRepository
	feed     *AlertFeed
	health   func() error
	logger   *zap.Logger

	sweepWindowMinutes int
}

// NewHandler wires the API handler. feed may be nil when the live alert
// stream is disabled; health may be nil when no backing store is attached.
func NewHandler(
	fraudSvc *fraud.Service,
	detector *pattern.Detector,
	clusters pattern.ClusterRepository,
	feed *AlertFeed,
	health func() error,
	sweepWindowMinutes int,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		fraud:              fraudSvc,
		detector:           detector,
		clusters:           clusters,
		feed:               feed,
		health:             health,
		logger:             logger,
		sweepWindowMinutes: sweepWindowMinutes,
	}
}

// Routes builds the API route table.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/sessions", h.startSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/phases/{phase}/start", h.startPhase)
	mux.HandleFunc("POST /api/v1/sessions/{id}/phases/{phase}/end", h.endPhase)
	mux.HandleFunc("POST /api/v1/sessions/{id}/pages", h.logPage)
	mux.HandleFunc("POST /api/v1/sessions/{id}/finalize", h.finalizeSession)

	mux.HandleFunc("POST /api/v1/assessments", h.assess)
	mux.HandleFunc("GET /api/v1/actors/{id}/risk", h.actorRisk)

	mux.HandleFunc("GET /api/v1/alerts", h.listAlerts)
	mux.HandleFunc("GET /api/v1/statistics", h.statistics)

	mux.HandleFunc("POST /api/v1/analysis/sweep", h.sweep)
	mux.HandleFunc("POST /api/v1/analysis/clusters/refresh", h.refreshClusters)
	mux.HandleFunc("GET /api/v1/clusters", h.listClusters)

	mux.HandleFunc("POST /api/v1/model/retrain", h.retrain)

	mux.HandleFunc("GET /healthz", h.healthz)

	if h.feed != nil {
		mux.HandleFunc("GET /api/v1/ws/alerts", h.feed.Serve)
	}

	return mux
}

type startSessionRequest struct {
	ActorID         string `json:"actor_id"`
	SessionID       string `json:"session_id"`
	NetworkAddr     string `json:"network_addr"`
	DeviceSignature string `json:"device_signature"`
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.NewValidationError("body", "malformed JSON body").WithCause(err))
		return
	}
	if req.ActorID == "" || req.SessionID == "" {
		h.writeError(w, apperrors.NewValidationError("session", "actor_id and session_id are required"))
		return
	}

	h.fraud.Tracker().Start(req.ActorID, req.SessionID, req.NetworkAddr, req.DeviceSignature)
	h.writeJSON(w, http.StatusCreated, map[string]string{"session_id": req.SessionID})
}

func (h *Handler) startPhase(w http.ResponseWriter, r *http.Request) {
	phase := behavior.Phase(r.PathValue("phase"))
	if !phase.IsValid() {
		h.writeError(w, apperrors.NewValidationError("phase", "unknown phase"))
		return
	}

	h.fraud.Tracker().MarkPhaseStart(r.PathValue("id"), phase)
	w.WriteHeader(http.StatusNoContent)
}

type endPhaseRequest struct {
	FormCorrections int   `json:"form_corrections"`
	SurveyAnswers   []int `json:"survey_answers"`
}

func (h *Handler) endPhase(w http.ResponseWriter, r *http.Request) {
	phase := behavior.Phase(r.PathValue("phase"))
	if !phase.IsValid() {
		h.writeError(w, apperrors.NewValidationError("phase", "unknown phase"))
		return
	}

	var req endPhaseRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, apperrors.NewValidationError("body", "malformed JSON body").WithCause(err))
			return
		}
	}

	err := h.fraud.Tracker().MarkPhaseEnd(r.PathValue("id"), phase, fraud.PhaseDetail{
		FormCorrections: req.FormCorrections,
		SurveyAnswers:   req.SurveyAnswers,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type logPageRequest struct {
	Page string `json:"page"`
}

func (h *Handler) logPage(w http.ResponseWriter, r *http.Request) {
	var req logPageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.NewValidationError("body", "malformed JSON body").WithCause(err))
		return
	}
	if req.Page == "" {
		h.writeError(w, apperrors.NewValidationError("page", "page is required"))
		return
	}

	h.fraud.Tracker().LogPageVisit(r.PathValue("id"), req.Page)
	w.WriteHeader(http.StatusNoContent)
}

type finalizeResponse struct {
	RecordID   int64                 `json:"record_id"`
	ActorID    string                `json:"actor_id"`
	Assessment *fraud.RiskAssessment `json:"assessment"`
}

func (h *Handler) finalizeSession(w http.ResponseWriter, r *http.Request) {
	record, assessment, err := h.fraud.FinalizeSession(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, finalizeResponse{
		RecordID:   record.ID,
		ActorID:    record.ActorID,
		Assessment: assessment,
	})
}

func (h *Handler) assess(w http.ResponseWriter, r *http.Request) {
	var fv behavior.FeatureVector
	if err := json.NewDecoder(r.Body).Decode(&fv); err != nil {
		h.writeError(w, apperrors.NewValidationError("body", "malformed JSON body").WithCause(err))
		return
	}

	assessment, err := h.fraud.AssessBehavior(&fv)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, assessment)
}

type actorRiskResponse struct {
	ActorID   string  `json:"actor_id"`
	RiskScore float64 `json:"risk_score"`
	Cached    bool    `json:"cached"`
}

func (h *Handler) actorRisk(w http.ResponseWriter, r *http.Request) {
	actorID := r.PathValue("id")
	score, found, err := h.fraud.CachedRisk(r.Context(), actorID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !found {
		h.writeError(w, apperrors.NewNotFoundError("no cached risk score for actor"))
		return
	}
	h.writeJSON(w, http.StatusOK, actorRiskResponse{ActorID: actorID, RiskScore: score, Cached: true})
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAlertLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, apperrors.NewValidationError("limit", "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	alerts, err := h.fraud.ListAlerts(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if alerts == nil {
		alerts = []*fraud.FraudAlert{}
	}
	h.writeJSON(w, http.StatusOK, alerts)
}

func (h *Handler) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.fraud.GetStatistics(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

type sweepResponse struct {
	WindowMinutes      int                          `json:"window_minutes"`
	SuspiciousClusters []*pattern.SuspiciousCluster `json:"suspicious_clusters"`
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	window := h.sweepWindowMinutes
	if raw := r.URL.Query().Get("window_minutes"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, apperrors.NewValidationError("window_minutes", "window_minutes must be a positive integer"))
			return
		}
		window = parsed
	}

	clusters, err := h.detector.AnalyzeRecentVotes(r.Context(), window)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if clusters == nil {
		clusters = []*pattern.SuspiciousCluster{}
	}
	h.writeJSON(w, http.StatusOK, sweepResponse{WindowMinutes: window, SuspiciousClusters: clusters})
}

func (h *Handler) refreshClusters(w http.ResponseWriter, r *http.Request) {
	updated, err := h.detector.UpdateIPClusters(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"clusters_updated": updated})
}

func (h *Handler) listClusters(w http.ResponseWriter, r *http.Request) {
	label := pattern.RiskLabel(r.URL.Query().Get("label"))
	if label == "" {
		label = pattern.LabelSuspicious
	}
	switch label {
	case pattern.LabelNormal, pattern.LabelSuspicious, pattern.LabelFraud:
	default:
		h.writeError(w, apperrors.NewValidationError("label", "label must be normal, suspicious or fraud"))
		return
	}

	clusters, err := h.clusters.ListClusters(r.Context(), label)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if clusters == nil {
		clusters = []*pattern.IPCluster{}
	}
	h.writeJSON(w, http.StatusOK, clusters)
}

func (h *Handler) retrain(w http.ResponseWriter, r *http.Request) {
	retrained, err := h.fraud.RetrainModel(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"retrained": retrained})
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(); err != nil {
			h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"
	message := "internal error"

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status = appErr.StatusCode
		code = appErr.Code
		message = appErr.Message
	} else {
		h.logger.Error("unhandled error", zap.Error(err))
	}

	h.writeJSON(w, status, map[string]string{"code": code, "message": message})
}
