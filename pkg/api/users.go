package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Sternrassler/usersvc/pkg/fanout"
	"github.com/Sternrassler/usersvc/pkg/store"
)

type listResponse struct {
	IDs   []int64 `json:"ids"`
	Count int     `json:"count"`
}

func parseID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid user id %q", raw)
	}
	return id, nil
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var in store.NewUser
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	u, err := s.users.Create(r.Context(), in)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	ids, err := s.users.List(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{IDs: ids, Count: len(ids)})
}

// handleGetUser reads one user through the same fetch path and per-item
// deadline as batch reads.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, status, err := fanout.RunWithDeadline(r.Context(), s.policy.PerItemTimeout, func(ctx context.Context) (*store.User, error) {
		return s.fetch(ctx, id)
	})
	switch status {
	case fanout.StatusSuccess:
		writeJSON(w, http.StatusOK, u)
	case fanout.StatusTimedOut:
		writeError(w, http.StatusGatewayTimeout, "user lookup timed out")
	default:
		s.writeStoreError(w, err)
	}
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var in store.UserUpdate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	u, err := s.users.Update(r.Context(), id, in)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.invalidateUser(r.Context(), id)
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.users.Delete(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.invalidateUser(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) invalidateUser(ctx context.Context, id int64) {
	if s.invalidate == nil {
		return
	}
	if err := s.invalidate(ctx, id); err != nil {
		s.logger.Warn().Err(err).Int64("id", id).Msg("Failed to invalidate cached user")
	}
}

// writeStoreError maps store errors to status codes. Unknown errors are
// logged and reported without detail.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, store.ErrInvalidUser):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrDuplicate), errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.logger.Error().Err(err).Msg("Store operation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
