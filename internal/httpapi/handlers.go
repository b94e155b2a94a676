package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/strategyai/leadforge/internal/analysis"
	"github.com/strategyai/leadforge/internal/apperr"
	"github.com/strategyai/leadforge/internal/cache"
	"github.com/strategyai/leadforge/internal/enrichment"
	"github.com/strategyai/leadforge/internal/events"
	"github.com/strategyai/leadforge/internal/metrics"
	"github.com/strategyai/leadforge/internal/session"
	"github.com/strategyai/leadforge/internal/store"
)

// asyncRunTimeout bounds an enrichment or analysis run kicked off in a
// detached goroutine, since such a run has outlived the request context
// that would otherwise cancel it.
const asyncRunTimeout = 2 * time.Minute

// Handlers implements the §6.1 HTTP surface over the core components.
type Handlers struct {
	orchestrator *enrichment.Orchestrator
	pipeline     *analysis.Pipeline
	loader       *session.Loader
	submissions  store.SubmissionStore
	ec           *cache.EnrichmentCache
	streams      *streamRegistry
	metrics      *metrics.Metrics
	validate     *validator.Validate
	logger       zerolog.Logger
}

// NewHandlers wires every dependency the HTTP surface needs. metrics may
// be nil in tests that don't care about instrumentation.
func NewHandlers(
	orchestrator *enrichment.Orchestrator,
	pipeline *analysis.Pipeline,
	loader *session.Loader,
	submissions store.SubmissionStore,
	ec *cache.EnrichmentCache,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Handlers {
	return &Handlers{
		orchestrator: orchestrator,
		pipeline:     pipeline,
		loader:       loader,
		submissions:  submissions,
		ec:           ec,
		streams:      newStreamRegistry(),
		metrics:      m,
		validate:     validator.New(),
		logger:       logger.With().Str("component", "httpapi").Logger(),
	}
}

type enrichRequest struct {
	URL   string `json:"url" validate:"required,max=500"`
	Email string `json:"email" validate:"required,email"`
}

type enrichResponse struct {
	SessionID string `json:"session_id"`
	StreamURL string `json:"stream_url"`
}

// Enrich handles POST /api/form/enrich: mints a session id, registers
// its event stream, and hands the long-running three-layer enrichment
// off to a background goroutine so the HTTP response returns at once.
func (h *Handlers) Enrich(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	sessionID := uuid.NewString()
	stream := events.NewStream(sessionID, h.metrics)
	h.streams.register(sessionID, stream)

	go func() {
		defer stream.Close()
		defer h.streams.forgetAfter(sessionID, registryForgetGrace)

		ctx, cancel := context.WithTimeout(context.Background(), asyncRunTimeout)
		defer cancel()

		if _, err := h.orchestrator.Run(ctx, sessionID, req.URL, req.Email, stream); err != nil {
			h.logger.Warn().Err(err).Str("session_id", sessionID).Msg("enrichment run ended with error")
		}
	}()

	writeData(w, http.StatusAccepted, enrichResponse{
		SessionID: sessionID,
		StreamURL: "/api/form/stream/" + sessionID,
	})
}

// StreamEnrichment handles GET /api/form/stream/{session_id}.
func (h *Handlers) StreamEnrichment(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	stream, ok := h.streams.get(sessionID)
	if !ok {
		writeErr(w, h.logger, apperr.New(apperr.KindNotFound, "stream_not_found", "no active or recent stream for this session", nil))
		return
	}
	events.WriteSSE(r.Context(), w, stream, h.logger)
}

// Session handles GET /api/form/session/{session_id}: the current,
// post-translation session state, 404 once expired or absent.
func (h *Handlers) Session(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	var sess enrichment.Session
	hit, err := h.ec.Get(r.Context(), h.ec.KeyByID(sessionID), &sess)
	if err != nil {
		writeErr(w, h.logger, apperr.New(apperr.KindCacheFailure, "session_lookup_failed", "failed to read session cache", err))
		return
	}
	if !hit || sess.Expired(time.Now()) {
		writeErr(w, h.logger, apperr.New(apperr.KindNotFound, "session_not_found", "session is expired or does not exist", nil))
		return
	}
	writeData(w, http.StatusOK, sess)
}

type submitRequest struct {
	Name                string `json:"name" validate:"required,max=200"`
	Email               string `json:"email" validate:"required,email"`
	Company             string `json:"company" validate:"required,max=200"`
	Website             string `json:"website" validate:"required,max=500"`
	Industry            string `json:"industry" validate:"max=200"`
	Challenge           string `json:"challenge" validate:"max=5000"`
	EnrichmentSessionID string `json:"enrichment_session_id"`
}

type submitResponse struct {
	ID int64 `json:"id"`
}

// Submit handles POST /api/submit: persists the Submission, overlays
// any cached enrichment session per §4.10, and runs the six-stage
// Analysis Pipeline asynchronously.
func (h *Handlers) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	formFields := map[string]any{
		"name":     req.Name,
		"email":    req.Email,
		"company":  req.Company,
		"website":  req.Website,
		"industry": req.Industry,
	}
	loaded := h.loader.Load(r.Context(), req.EnrichmentSessionID, formFields)

	submission := &store.Submission{
		Name:                req.Name,
		Email:               req.Email,
		Company:             req.Company,
		Website:             req.Website,
		Industry:            req.Industry,
		Challenge:           req.Challenge,
		ProcessingState:     store.ProcessingQueued,
		UserStatus:          store.UserStatusSubmitted,
		EnrichmentSessionID: loaded.SessionID,
	}
	id, err := h.submissions.Create(r.Context(), submission)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}

	streamKey := strconv.FormatInt(id, 10)
	stream := events.NewStream(streamKey, h.metrics)
	h.streams.register(streamKey, stream)

	go h.runPipeline(id, streamKey, stream, req, loaded)

	writeData(w, http.StatusAccepted, submitResponse{ID: id})
}

// runPipeline drives the analysis pipeline for one submission in a
// detached goroutine, persisting processing-state transitions and the
// final report (or failure) around the run.
func (h *Handlers) runPipeline(id int64, streamKey string, stream *events.Stream, req submitRequest, loaded session.Result) {
	defer stream.Close()
	defer h.streams.forgetAfter(streamKey, registryForgetGrace)

	ctx, cancel := context.WithTimeout(context.Background(), asyncRunTimeout)
	defer cancel()

	_ = h.submissions.UpdateProcessingState(ctx, id, store.ProcessingAnalyzing, "")

	report, err := h.pipeline.Run(ctx, analysis.RunInput{
		Company:          req.Company,
		Industry:         req.Industry,
		ChallengeText:    req.Challenge,
		EnrichmentFields: loaded.Fields,
	}, stream)
	if err != nil {
		h.logger.Error().Err(err).Int64("submission_id", id).Msg("analysis pipeline failed")
		_ = h.submissions.UpdateProcessingState(ctx, id, store.ProcessingFailed, err.Error())
		return
	}

	reportJSON := map[string]any{
		"sections":       report.Sections,
		"total_cost_usd": report.TotalCostUSD,
		"generated_at":   report.GeneratedAt,
	}
	if err := h.submissions.UpdateReport(ctx, id, reportJSON); err != nil {
		h.logger.Error().Err(err).Int64("submission_id", id).Msg("failed to persist report")
	}
	_ = h.submissions.UpdateProcessingState(ctx, id, store.ProcessingCompleted, "")
}

// StreamSubmission handles GET /api/submissions/{id}/stream.
func (h *Handlers) StreamSubmission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stream, ok := h.streams.get(id)
	if !ok {
		writeErr(w, h.logger, apperr.New(apperr.KindNotFound, "stream_not_found", "no active or recent stream for this submission", nil))
		return
	}
	events.WriteSSE(r.Context(), w, stream, h.logger)
}

// decodeAndValidate decodes a JSON body into dst and runs struct-tag
// validation, writing a uniform validation error and reporting false on
// any failure so callers can return immediately.
func (h *Handlers) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeValidationErr(w, "malformed JSON body: "+err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeValidationErr(w, err.Error())
		return false
	}
	return true
}
