package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/mwiater/ragguard/internal/evaluation"
	"github.com/mwiater/ragguard/internal/guardrails"
	"github.com/mwiater/ragguard/internal/logging"
	"github.com/mwiater/ragguard/internal/metrics"
	"github.com/mwiater/ragguard/internal/pipeline"
	"github.com/mwiater/ragguard/internal/providerfactory"
	"github.com/mwiater/ragguard/internal/schema"
)

type textRequest struct {
	Text string `json:"text"`
}

type validateResponse struct {
	Valid     bool               `json:"valid"`
	Verdict   guardrails.Verdict `json:"verdict"`
	Sanitized string             `json:"sanitized"`
}

type sanitizeResponse struct {
	Original  string `json:"original"`
	Sanitized string `json:"sanitized"`
}

type batchRequest struct {
	Items []evaluation.Input `json:"items"`
}

type documentRequest struct {
	DocumentID string            `json:"document_id"`
	Source     string            `json:"source"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata"`
}

type documentResponse struct {
	OK         bool   `json:"ok"`
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
}

type deleteResponse struct {
	OK      bool   `json:"ok"`
	ID      string `json:"id"`
	Removed int    `json:"removed,omitempty"`
}

type backendsResponse struct {
	Init    providerfactory.InitResult `json:"init"`
	Metrics []metrics.BackendMetrics   `json:"metrics"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := decodeJSON(w, r, chatSchema, &req, maxBodyBytes); err != nil {
		badRequest(w, "chat", err)
		return
	}

	resp, err := s.deps.Pipeline.ProcessQuery(r.Context(), req)
	if errors.Is(err, pipeline.ErrEmptyQuery) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		logging.LogEvent("[SERVER] chat failed: %v", err)
		writeError(w, http.StatusInternalServerError, pipeline.FailureMessage)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeJSON(w, r, textSchema, &req, maxBodyBytes); err != nil {
		badRequest(w, "validate", err)
		return
	}
	v := s.deps.Guard.CheckInput(req.Text)
	writeJSON(w, http.StatusOK, validateResponse{
		Valid:     v.Allowed,
		Verdict:   v,
		Sanitized: s.deps.Guard.Sanitize(req.Text),
	})
}

func (s *Server) handleSanitize(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeJSON(w, r, textSchema, &req, maxBodyBytes); err != nil {
		badRequest(w, "sanitize", err)
		return
	}
	writeJSON(w, http.StatusOK, sanitizeResponse{Original: req.Text, Sanitized: s.deps.Guard.Sanitize(req.Text)})
}

func (s *Server) handleGuardrailsStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Guard.Status())
}

// handleGuardrailsPolicy merges the body onto the active policy. The policy
// keys are the same as the YAML policy file, and JSON is valid YAML. enabled,
// maxInputLength and contentFilters are required.
func (s *Server) handleGuardrailsPolicy(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, maxBodyBytes)
	if err == nil {
		err = schema.Validate(policySchema, body)
	}
	if err != nil {
		badRequest(w, "policy", err)
		return
	}
	overlay, err := guardrails.ParsePolicy(body)
	if err != nil {
		badRequest(w, "policy", err)
		return
	}
	if err := s.deps.Guard.Reconfigure(s.deps.Guard.Policy().Merge(overlay)); err != nil {
		badRequest(w, "policy", err)
		return
	}
	logging.LogEvent("[SERVER] guardrails policy updated")
	writeJSON(w, http.StatusOK, s.deps.Guard.Status())
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var in evaluation.Input
	if err := decodeJSON(w, r, evaluateInputSchema, &in, maxBodyBytes); err != nil {
		badRequest(w, "evaluate", err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Evaluator.Evaluate(r.Context(), in))
}

func (s *Server) handleEvaluateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(w, r, batchSchema, &req, 8*maxBodyBytes); err != nil {
		badRequest(w, "evaluate batch", err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Evaluator.EvaluateBatch(r.Context(), req.Items))
}

func (s *Server) handleEvaluationMetrics(w http.ResponseWriter, _ *http.Request) {
	history := s.deps.Evaluator.History()
	if history == nil {
		writeError(w, http.StatusServiceUnavailable, "evaluation history is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, history.Metrics())
}

func (s *Server) handleGoldenList(w http.ResponseWriter, _ *http.Request) {
	golden := s.deps.Evaluator.Golden()
	if golden == nil {
		writeJSON(w, http.StatusOK, []evaluation.GoldenExample{})
		return
	}
	writeJSON(w, http.StatusOK, golden.Examples())
}

func (s *Server) handleGoldenAdd(w http.ResponseWriter, r *http.Request) {
	golden := s.deps.Evaluator.Golden()
	if golden == nil {
		writeError(w, http.StatusServiceUnavailable, "golden dataset is not enabled")
		return
	}
	var ex evaluation.GoldenExample
	if err := decodeJSON(w, r, goldenSchema, &ex, maxBodyBytes); err != nil {
		badRequest(w, "golden", err)
		return
	}
	if err := golden.Add(ex); err != nil {
		logging.LogEvent("[SERVER] adding golden example failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, ex)
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Store.List(r.Context())
	if err != nil {
		logging.LogEvent("[SERVER] listing sessions failed: %v", err)
		writeError(w, http.StatusInternalServerError, "could not list sessions")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session, ok, err := s.deps.Store.Get(r.Context(), id)
	if err != nil {
		logging.LogEvent("[SERVER] loading session %s failed: %v", id, err)
		writeError(w, http.StatusInternalServerError, "could not load session")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "session not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted, err := s.deps.Store.Delete(r.Context(), id)
	if err != nil {
		logging.LogEvent("[SERVER] deleting session %s failed: %v", id, err)
		writeError(w, http.StatusInternalServerError, "could not delete session")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "session not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{OK: true, ID: id})
}

func (s *Server) handleDocumentList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Index == nil {
		writeError(w, http.StatusServiceUnavailable, "document index is not available")
		return
	}
	docs, err := s.deps.Index.ListDocuments(r.Context())
	if err != nil {
		logging.LogEvent("[SERVER] listing documents failed: %v", err)
		writeError(w, http.StatusInternalServerError, "could not list documents")
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleDocumentAdd(w http.ResponseWriter, r *http.Request) {
	if s.deps.Indexer == nil {
		writeError(w, http.StatusServiceUnavailable, "document index is not available")
		return
	}
	var req documentRequest
	if err := decodeJSON(w, r, documentSchema, &req, 8*maxBodyBytes); err != nil {
		badRequest(w, "documents", err)
		return
	}
	id, n, err := s.deps.Indexer.IngestText(r.Context(), strings.TrimSpace(req.DocumentID), req.Source, req.Content, req.Metadata)
	if err != nil {
		logging.LogEvent("[SERVER] ingesting document failed: %v", err)
		writeError(w, http.StatusBadGateway, "could not index document: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, documentResponse{OK: true, DocumentID: id, Chunks: n})
}

func (s *Server) handleDocumentDelete(w http.ResponseWriter, r *http.Request) {
	if s.deps.Index == nil {
		writeError(w, http.StatusServiceUnavailable, "document index is not available")
		return
	}
	id := r.PathValue("id")
	n, err := s.deps.Index.DeleteDocument(r.Context(), id)
	if err != nil {
		logging.LogEvent("[SERVER] deleting document %s failed: %v", id, err)
		writeError(w, http.StatusInternalServerError, "could not delete document")
		return
	}
	if n == 0 {
		writeError(w, http.StatusNotFound, "document not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{OK: true, ID: id, Removed: n})
}

func (s *Server) handleBackends(w http.ResponseWriter, _ *http.Request) {
	resp := backendsResponse{Init: s.deps.Backend, Metrics: []metrics.BackendMetrics{}}
	if s.deps.BackendMetrics != nil {
		resp.Metrics = s.deps.BackendMetrics.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}
