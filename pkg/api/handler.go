// Package api provides the REST surface of the proctoring platform:
// session administration, student frame and violation submission, results
// retrieval, and the live observer stream.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/proctorwatch/proctor-platform/pkg/archive"
	"github.com/proctorwatch/proctor-platform/pkg/auth"
	"github.com/proctorwatch/proctor-platform/pkg/broadcast"
	"github.com/proctorwatch/proctor-platform/pkg/classify"
	"github.com/proctorwatch/proctor-platform/pkg/ingest"
	"github.com/proctorwatch/proctor-platform/pkg/proctor"
	"github.com/proctorwatch/proctor-platform/pkg/results"
	"github.com/proctorwatch/proctor-platform/pkg/session"
)

const defaultHeartbeat = 15 * time.Second

// HandlerConfig wires the API handler to the platform components.
type HandlerConfig struct {
	Registry   session.Registry
	Service    *proctor.Service
	Pipeline   *ingest.Pipeline
	Aggregator *results.Aggregator
	Hub        *broadcast.Hub
	Archive    archive.Store
	Auth       *auth.Manager

	// Heartbeat is the observer stream keepalive interval.
	Heartbeat time.Duration

	Logger *slog.Logger
}

// Handler serves the platform REST API.
type Handler struct {
	mux        *http.ServeMux
	registry   session.Registry
	svc        *proctor.Service
	pipeline   *ingest.Pipeline
	aggregator *results.Aggregator
	hub        *broadcast.Hub
	archive    archive.Store
	auth       *auth.Manager
	heartbeat  time.Duration
	log        *slog.Logger
}

// NewHandler creates the API handler and registers its routes.
func NewHandler(cfg HandlerConfig) *Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	heartbeat := cfg.Heartbeat
	if heartbeat == 0 {
		heartbeat = defaultHeartbeat
	}
	h := &Handler{
		mux:        http.NewServeMux(),
		registry:   cfg.Registry,
		svc:        cfg.Service,
		pipeline:   cfg.Pipeline,
		aggregator: cfg.Aggregator,
		hub:        cfg.Hub,
		archive:    cfg.Archive,
		auth:       cfg.Auth,
		heartbeat:  heartbeat,
		log:        log,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// registerRoutes registers all API routes. Proctor-facing routes are gated
// behind authentication; student submission routes are session-scoped and
// open.
func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("POST /api/v1/login", h.handleLogin)

	h.mux.Handle("POST /api/v1/sessions", h.admin(h.handleCreateSession))
	h.mux.Handle("GET /api/v1/sessions", h.admin(h.handleListSessions))
	h.mux.HandleFunc("GET /api/v1/sessions/{id}", h.handleGetSession)
	h.mux.Handle("DELETE /api/v1/sessions/{id}", h.admin(h.handleDeleteSession))

	h.mux.HandleFunc("POST /api/v1/sessions/{id}/students/{sid}/attach", h.handleAttach)
	h.mux.HandleFunc("POST /api/v1/sessions/{id}/students/{sid}/frames", h.handleSubmitFrame)
	h.mux.HandleFunc("POST /api/v1/sessions/{id}/students/{sid}/violations", h.handleReportViolation)
	h.mux.Handle("POST /api/v1/sessions/{id}/students/{sid}/stop", h.admin(h.handleStopStudent))
	h.mux.HandleFunc("GET /api/v1/sessions/{id}/students/{sid}/results", h.handleStudentResults)
	h.mux.Handle("GET /api/v1/sessions/{id}/archive", h.admin(h.handleArchivedResults))

	h.mux.Handle("GET /api/v1/watch", h.admin(h.handleWatch))
}

// admin wraps a handler with the auth middleware.
func (h *Handler) admin(fn http.HandlerFunc) http.Handler {
	if h.auth == nil {
		return fn
	}
	return h.auth.Require(fn)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil {
		writeError(w, http.StatusNotFound, "authentication not configured")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

type createSessionRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	FormLink    string   `json:"form_link"`
	StudentIDs  []string `json:"student_ids"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	snap, err := h.svc.Start(session.ExamMeta{
		Title:       req.Title,
		Description: req.Description,
		FormLink:    req.FormLink,
	}, req.StudentIDs)
	if err != nil {
		h.log.Error("creating session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": h.registry.List()})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Remove(r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAttach(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Attach(r.PathValue("id"), r.PathValue("sid"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type submitFrameRequest struct {
	// Frame is the base64-encoded webcam capture.
	Frame      []byte    `json:"frame"`
	CapturedAt time.Time `json:"captured_at"`
}

func (h *Handler) handleSubmitFrame(w http.ResponseWriter, r *http.Request) {
	var req submitFrameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.pipeline.Submit(r.Context(), r.PathValue("id"), r.PathValue("sid"), classify.Frame{
		Data:       req.Frame,
		CapturedAt: req.CapturedAt,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type violationRequest struct {
	Kind session.ViolationKind `json:"kind"`
}

type violationResponse struct {
	Status session.StudentStatus `json:"proctoring_status"`
}

func (h *Handler) handleReportViolation(w http.ResponseWriter, r *http.Request) {
	var req violationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status, err := h.pipeline.ReportViolation(r.PathValue("id"), r.PathValue("sid"), req.Kind)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, violationResponse{Status: status})
}

func (h *Handler) handleStopStudent(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.StopStudent(r.Context(), r.PathValue("id"), r.PathValue("sid"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleStudentResults(w http.ResponseWriter, r *http.Request) {
	res, err := h.aggregator.Summarize(r.PathValue("id"), r.PathValue("sid"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleArchivedResults(w http.ResponseWriter, r *http.Request) {
	records, err := h.archive.SessionResults(r.Context(), r.PathValue("id"))
	if err != nil {
		h.log.Error("reading archived results", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read archive")
		return
	}
	if records == nil {
		records = []archive.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": records})
}

// writeDomainError maps domain errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrStudentNotFound):
		writeError(w, http.StatusNotFound, "student not found")
	case errors.Is(err, ingest.ErrUnknownViolation):
		writeError(w, http.StatusBadRequest, "unknown violation kind")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
