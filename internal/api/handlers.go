package api

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/Andival-Sei/pennora/backend/internal/errors"
	"github.com/Andival-Sei/pennora/backend/internal/logging"
	"github.com/Andival-Sei/pennora/backend/internal/models"
	"github.com/Andival-Sei/pennora/backend/internal/remote"
	"github.com/Andival-Sei/pennora/backend/internal/uuid"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status code and writes it.
func writeError(w http.ResponseWriter, err error) {
	var remoteErr *remote.Error
	switch {
	case stderrors.As(err, &remoteErr):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: remoteErr.Error(), Code: string(apperrors.ErrRemote)})
		return
	case remote.IsConnectivity(err):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: apperrors.Message(err), Code: string(apperrors.ErrNetworkUnavailable)})
		return
	}

	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrInvalid, apperrors.ErrValidation, apperrors.ErrUnknownTable, apperrors.ErrRecordIDRequired:
		status = http.StatusBadRequest
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrSyncInProgress:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		logging.ErrorWithCode("Request failed", string(code), err, nil)
	}
	writeJSON(w, status, errorResponse{Error: apperrors.Message(err), Code: string(code)})
}

// tableParam reads and validates the {table} URL parameter.
func tableParam(r *http.Request) (models.Table, error) {
	table := models.Table(chi.URLParam(r, "table"))
	if err := remote.ValidateTable(table); err != nil {
		return "", err
	}
	return table, nil
}

// readPayload reads the request body as a JSON payload.
func (s *Server) readPayload(w http.ResponseWriter, r *http.Request) (models.Payload, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to read request body", err)
	}
	if !json.Valid(body) {
		return nil, apperrors.New(apperrors.ErrInvalid, "request body must be valid JSON")
	}
	return models.Payload(body), nil
}

// =====================================================
// Health / Status
// =====================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Snapshot())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	greeting, err := encodeEnvelope(EventStatus, map[string]interface{}{"status": s.status.Snapshot()})
	if err != nil {
		greeting = nil
	}
	s.hub.ServeWS(w, r, greeting)
}

// =====================================================
// Sync Endpoints
// =====================================================

// syncResponse wraps a run result; Error is set when the run aborted.
type syncResponse struct {
	Result *models.SyncResult `json:"result"`
	Error  string             `json:"error,omitempty"`
}

func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.SyncAll(r.Context())
	s.writeSyncResult(w, result, err)
}

func (s *Server) handleSyncTable(w http.ResponseWriter, r *http.Request) {
	table, err := tableParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.engine.SyncTable(r.Context(), table)
	s.writeSyncResult(w, result, err)
}

func (s *Server) writeSyncResult(w http.ResponseWriter, result *models.SyncResult, err error) {
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, syncResponse{Result: result, Error: apperrors.Message(err)})
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{Result: result})
}

// =====================================================
// Queue Endpoints
// =====================================================

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	var (
		ops []models.QueueOperation
		err error
	)
	if t := r.URL.Query().Get("table"); t != "" {
		table := models.Table(t)
		if err := remote.ValidateTable(table); err != nil {
			writeError(w, err)
			return
		}
		ops, err = s.queue.GetByTable(r.Context(), table)
	} else {
		ops, err = s.queue.GetAll(r.Context())
	}
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrQueueStorage, "failed to list queue", err))
		return
	}
	if ops == nil {
		ops = []models.QueueOperation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": ops})
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.queue.GetStatus(r.Context())
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrQueueStorage, "failed to read queue status", err))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleQueueNext(w http.ResponseWriter, r *http.Request) {
	op, err := s.queue.GetNext(r.Context())
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrQueueStorage, "failed to read next operation", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operation": op})
}

func (s *Server) handlePurgeQueue(w http.ResponseWriter, r *http.Request) {
	n, err := s.queue.ClearProcessed(r.Context())
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrQueueStorage, "failed to purge queue", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"purged": n})
}

func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.ClearAll(r.Context()); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrQueueStorage, "failed to clear queue", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := uuid.Validate(id); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid operation id", err))
		return
	}
	if err := s.queue.Remove(r.Context(), id); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrQueueStorage, "failed to remove operation", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =====================================================
// Record Endpoints
// =====================================================

// writeOutcome answers 202 when the write was queued for later.
func writeOutcome(w http.ResponseWriter, okStatus int, outcome any, queued bool) {
	if queued {
		writeJSON(w, http.StatusAccepted, outcome)
		return
	}
	writeJSON(w, okStatus, outcome)
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	table, err := tableParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := s.readPayload(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := s.writer.Create(r.Context(), table, data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOutcome(w, http.StatusCreated, out, out.Queued)
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	table, err := tableParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := s.readPayload(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := s.writer.Update(r.Context(), table, chi.URLParam(r, "id"), data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOutcome(w, http.StatusOK, out, out.Queued)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	table, err := tableParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := s.writer.Delete(r.Context(), table, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOutcome(w, http.StatusOK, out, out.Queued)
}
