// Package server exposes the pipeline and its components over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mwiater/ragguard/internal/conversation"
	"github.com/mwiater/ragguard/internal/evaluation"
	"github.com/mwiater/ragguard/internal/guardrails"
	"github.com/mwiater/ragguard/internal/logging"
	"github.com/mwiater/ragguard/internal/metrics"
	"github.com/mwiater/ragguard/internal/pipeline"
	"github.com/mwiater/ragguard/internal/providerfactory"
	"github.com/mwiater/ragguard/internal/rag"
	"github.com/mwiater/ragguard/internal/schema"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// ErrResp is the body of every non-2xx reply.
type ErrResp struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Deps are the components the handlers call. Index and Indexer may be nil, in
// which case the document routes report 503.
type Deps struct {
	Pipeline       *pipeline.Pipeline
	Guard          *guardrails.Filter
	Evaluator      *evaluation.Service
	Store          conversation.Store
	Index          rag.Index
	Indexer        *rag.Indexer
	Backend        providerfactory.InitResult
	BackendMetrics *metrics.Aggregator
}

// Server routes requests to the components in Deps.
type Server struct {
	deps Deps
	mux  *http.ServeMux
}

// New builds a Server and registers its routes.
func New(deps Deps) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("POST /api/validate", s.handleValidate)
	s.mux.HandleFunc("POST /api/sanitize", s.handleSanitize)
	s.mux.HandleFunc("GET /api/guardrails/status", s.handleGuardrailsStatus)
	s.mux.HandleFunc("PUT /api/guardrails/policy", s.handleGuardrailsPolicy)
	s.mux.HandleFunc("POST /api/evaluate", s.handleEvaluate)
	s.mux.HandleFunc("POST /api/evaluate/batch", s.handleEvaluateBatch)
	s.mux.HandleFunc("GET /api/evaluate/metrics", s.handleEvaluationMetrics)
	s.mux.HandleFunc("GET /api/evaluate/golden", s.handleGoldenList)
	s.mux.HandleFunc("POST /api/evaluate/golden", s.handleGoldenAdd)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessionList)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleSessionGet)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleSessionDelete)
	s.mux.HandleFunc("GET /api/documents", s.handleDocumentList)
	s.mux.HandleFunc("POST /api/documents", s.handleDocumentAdd)
	s.mux.HandleFunc("DELETE /api/documents/{id}", s.handleDocumentDelete)
	s.mux.HandleFunc("GET /api/backends", s.handleBackends)
	return s
}

// ServeHTTP lets a Server be used as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.LogEvent("[SERVER] listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// decodeJSON reads at most maxBytes, validates the body against schemaDef,
// and decodes it into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, schemaDef map[string]any, v any, maxBytes int64) error {
	body, err := readBody(w, r, maxBytes)
	if err != nil {
		return err
	}
	if err := schema.Validate(schemaDef, body); err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func readBody(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, error) {
	if r.Body == nil {
		return nil, errors.New("empty body")
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	if !json.Valid(body) {
		return nil, errors.New("body is not valid JSON")
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrResp{OK: false, Error: msg})
}

func badRequest(w http.ResponseWriter, route string, err error) {
	logging.LogEvent("[SERVER] %s decode error: %v", route, err)
	writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
}
