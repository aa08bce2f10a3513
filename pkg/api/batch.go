package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Sternrassler/usersvc/pkg/fanout"
	"github.com/Sternrassler/usersvc/pkg/store"
)

type batchResponse struct {
	Users     []*store.User `json:"users"`
	Requested int           `json:"requested"`
	Dropped   int           `json:"dropped"`
	Mode      string        `json:"mode"`
}

type abortResponse struct {
	Error  string        `json:"error"`
	ID     int64         `json:"id"`
	Index  int           `json:"index"`
	Status fanout.Status `json:"status"`
}

// parseIDs parses a comma separated id list. Duplicates are kept.
func parseIDs(raw string, max int) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("ids is required")
	}

	parts := strings.Split(raw, ",")
	if len(parts) > max {
		return nil, fmt.Errorf("too many ids: %d > %d", len(parts), max)
	}

	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || id < 1 {
			return nil, fmt.Errorf("invalid user id %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// policyFor applies the optional fail_fast query parameter to the server policy.
func (s *Server) policyFor(r *http.Request) (fanout.Policy, error) {
	policy := s.policy
	if raw := r.URL.Query().Get("fail_fast"); raw != "" {
		ff, err := strconv.ParseBool(raw)
		if err != nil {
			return policy, fmt.Errorf("invalid fail_fast %q", raw)
		}
		policy.FailFast = ff
	}
	return policy, nil
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	ids, err := parseIDs(r.URL.Query().Get("ids"), s.maxBatch)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	policy, err := s.policyFor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.runBatch(w, r, ids, policy)
}

// handleLoadConcurrent lists every user id and fetches all of them as one batch.
func (s *Server) handleLoadConcurrent(w http.ResponseWriter, r *http.Request) {
	policy, err := s.policyFor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ids, err := s.users.List(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.runBatch(w, r, ids, policy)
}

func (s *Server) runBatch(w http.ResponseWriter, r *http.Request, ids []int64, policy fanout.Policy) {
	res, err := fanout.FetchAll(r.Context(), ids, s.fetch, policy)
	if err == nil {
		writeJSON(w, http.StatusOK, batchResponse{
			Users:     res.Values,
			Requested: len(ids),
			Dropped:   res.Dropped,
			Mode:      policy.Mode(),
		})
		return
	}

	var abort *fanout.AbortError[int64]
	switch {
	case errors.As(err, &abort):
		status := http.StatusBadGateway
		switch {
		case abort.TimedOut():
			status = http.StatusGatewayTimeout
		case errors.Is(abort.Err, store.ErrNotFound):
			status = http.StatusNotFound
		}
		writeJSON(w, status, abortResponse{
			Error:  abort.Error(),
			ID:     abort.Key,
			Index:  abort.Index,
			Status: abort.Status,
		})
	case errors.Is(err, fanout.ErrInvalidPolicy):
		s.logger.Error().Err(err).Msg("Batch rejected by policy validation")
		writeError(w, http.StatusInternalServerError, "invalid batch policy")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.logger.Error().Err(err).Msg("Batch fetch failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
