package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethpandaops/indexoor/pkg/store"
	"github.com/go-chi/chi/v5"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// sessionDetail is the payload of a single session lookup.
type sessionDetail struct {
	Session         *store.SessionRecord         `json:"session"`
	Results         []store.RunResultRecord      `json:"results"`
	IndexOperations []store.IndexOperationRecord `json:"index_operations"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeStoreError maps a store error onto an HTTP response.
func (s *server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{"not found"})

		return
	}

	s.log.WithError(err).Error("History store request failed")
	writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})
}

// parseLimit reads the optional limit query parameter.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}

	return limit, nil
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListSessions returns stored sessions, newest first.
func (s *server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	sessions, err := s.store.ListSessions(r.Context(), limit)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	if sessions == nil {
		sessions = []store.SessionRecord{}
	}

	writeJSON(w, http.StatusOK, sessions)
}

// handleGetSession returns a session with its cells and index operations.
func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	session, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	results, err := s.store.ListResults(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	ops, err := s.store.ListIndexOperations(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, sessionDetail{
		Session:         session,
		Results:         results,
		IndexOperations: ops,
	})
}

func (s *server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.store.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, rep)
}

// handleQueryHistory returns one query's cells across sessions.
func (s *server) handleQueryHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	results, err := s.store.ListResultsForQuery(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	if results == nil {
		results = []store.RunResultRecord{}
	}

	writeJSON(w, http.StatusOK, results)
}
