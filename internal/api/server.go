package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"scan-dispatcher/internal/dispatch"
	"scan-dispatcher/internal/logger"
	"scan-dispatcher/internal/models"
	"scan-dispatcher/internal/ratelimit"
	"scan-dispatcher/internal/telemetry"
)

const maxResultBytes = 32 << 20

// Server wires HTTP handlers for the agent API.
type Server struct {
	gate    *dispatch.Gate
	coord   *dispatch.Coordinator
	ingest  *dispatch.Ingestor
	limiter ratelimit.Limiter
	methods map[string]methodFunc
}

type methodFunc func(w http.ResponseWriter, r *http.Request, agent models.AgentID)

// New constructs the API server. limiter may be nil.
func New(gate *dispatch.Gate, coord *dispatch.Coordinator, ingest *dispatch.Ingestor, limiter ratelimit.Limiter) *Server {
	s := &Server{
		gate:    gate,
		coord:   coord,
		ingest:  ingest,
		limiter: limiter,
	}
	s.methods = map[string]methodFunc{
		models.MethodFetchAvailable: s.handleFetchAvailable,
		models.MethodAssignJob:      s.handleAssignJob,
		models.MethodSaveResults:    s.handleSaveResults,
	}
	return s
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.HandleFunc("/api", s.handleAPI)
	r.HandleFunc("/api/*", s.handleAPI)
	return r
}

// handleAPI runs authentication, then rate limiting, then method lookup.
// Every verb and path under /api lands here so that order always holds.
func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxResultBytes)
	if err := r.ParseForm(); err != nil {
		writeBodyError(w, err)
		return
	}

	agent, err := s.gate.Authenticate(r.Context(), tokenFromRequest(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), fmt.Sprintf("agent:%d", agent))
		if err != nil {
			requestLog(r).WithError(err).Error("rate limiter failed")
			writeStatus(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeStatus(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
	}

	handler, ok := s.methods[chi.URLParam(r, "*")]
	if !ok {
		writeStatus(w, http.StatusNotFound, "Method not found")
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeStatus(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	handler(w, r, agent)
}

func (s *Server) handleFetchAvailable(w http.ResponseWriter, r *http.Request, _ models.AgentID) {
	jobs, err := s.coord.ListAvailable(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, jobs)
}

func (s *Server) handleAssignJob(w http.ResponseWriter, r *http.Request, agent models.AgentID) {
	detail, err := s.coord.Assign(r.Context(), agent, r.FormValue("job_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, detail)
}

func (s *Server) handleSaveResults(w http.ResponseWriter, r *http.Request, agent models.AgentID) {
	raw, err := resultsPayload(r)
	if err != nil {
		writeBodyError(w, err)
		return
	}
	if _, err := s.ingest.Submit(r.Context(), agent, raw); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: models.EnvelopeOK})
}

// resultsPayload reads the JSON body for application/json requests and the
// results form field otherwise. handleAPI has already capped the body.
func resultsPayload(r *http.Request) ([]byte, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		return io.ReadAll(r.Body)
	}
	return []byte(r.FormValue("results")), nil
}

// writeBodyError reports a request body that could not be read.
func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeStatus(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
		return
	}
	writeStatus(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
}

func tokenFromRequest(r *http.Request) string {
	if v := r.FormValue("auth_token"); v != "" {
		return v
	}
	if v := r.Header.Get("X-Auth-Token"); v != "" {
		return v
	}
	if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

type okResponse struct {
	Status     string `json:"status"`
	ReturnData any    `json:"return_data"`
}

type statusResponse struct {
	Status    string `json:"status"`
	StatusMsg string `json:"status_msg,omitempty"`
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, okResponse{Status: models.EnvelopeOK, ReturnData: data})
}

func writeStatus(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, statusResponse{Status: models.EnvelopeError, StatusMsg: msg})
}

// writeError maps dispatch errors onto HTTP responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, dispatch.ErrUnauthorized):
		writeStatus(w, http.StatusForbidden, dispatch.ErrUnauthorized.Error())
	case errors.Is(err, dispatch.ErrInvalidArgument):
		writeStatus(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispatch.ErrJobNotAssigned):
		writeStatus(w, http.StatusConflict, err.Error())
	default:
		requestLog(r).WithError(err).Error("request failed")
		writeStatus(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func requestLog(r *http.Request) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"request_id": requestIDFrom(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
	})
}
