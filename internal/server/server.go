// Package server exposes the pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"policy-rag/internal/models"
)

const (
	maxRequestBytes = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// Pipeline is the part of the orchestrator the server calls
type Pipeline interface {
	Run(ctx context.Context, ref string, questions []string) (*models.BatchResult, error)
	Analyze(ctx context.Context, ref string) (*models.DocumentAnalysis, error)
	Summarize(ctx context.Context, ref string, maxLen int) (string, error)
}

type RunRequest struct {
	Documents string   `json:"documents"`
	Questions []string `json:"questions"`
	Detailed  bool     `json:"detailed,omitempty"`
}

type RunResponse struct {
	Answers         []string        `json:"answers"`
	Results         []models.Result `json:"results,omitempty"`
	BatchID         string          `json:"batch_id,omitempty"`
	ProcessingTime  float64         `json:"processing_time,omitempty"`
	TotalTokensUsed int             `json:"total_tokens_used,omitempty"`
}

type DocumentRequest struct {
	Documents string `json:"documents"`
	MaxLength int    `json:"max_length,omitempty"`
}

type SummaryResponse struct {
	Summary string `json:"summary"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type Server struct {
	pipeline Pipeline
	addr     string
}

func New(pipeline Pipeline, addr string) *Server {
	return &Server{pipeline: pipeline, addr: addr}
}

// Handler returns the routes of the API
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/run", s.handleRun)
	mux.HandleFunc("POST /api/v1/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /api/v1/summarize", s.handleSummarize)
	mux.HandleFunc("GET /health", s.handleHealth)
	return logRequests(mux)
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	log.Info().Msg("Shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !decode(w, r, &req) {
		return
	}

	batch, err := s.pipeline.Run(r.Context(), req.Documents, req.Questions)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := RunResponse{Answers: batch.Answers()}
	if req.Detailed || r.URL.Query().Get("detailed") == "true" {
		resp.Results = batch.Results
		resp.BatchID = batch.ID
		resp.ProcessingTime = batch.ProcessingTime
		resp.TotalTokensUsed = batch.TotalTokens
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req DocumentRequest
	if !decode(w, r, &req) {
		return
	}
	analysis, err := s.pipeline.Analyze(r.Context(), req.Documents)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req DocumentRequest
	if !decode(w, r, &req) {
		return
	}
	summary, err := s.pipeline.Summarize(r.Context(), req.Documents, req.MaxLength)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SummaryResponse{Summary: summary})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body: %v", models.ErrInvalidInput, err))
		return false
	}
	return true
}

// statusFor maps error kinds to HTTP status codes
func statusFor(kind string) int {
	switch kind {
	case models.KindInvalidInput:
		return http.StatusBadRequest
	case models.KindDocumentFetch, models.KindEmbeddingService, models.KindSynthesis:
		return http.StatusBadGateway
	case models.KindDocumentParse:
		return http.StatusUnprocessableEntity
	case models.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := models.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("kind", kind).Msg("Request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: kind, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Error encoding response")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
