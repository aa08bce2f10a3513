package api

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/usersvc/pkg/fanout"
	"github.com/Sternrassler/usersvc/pkg/store"
)

func usernames(users []*store.User) []string {
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Username
	}
	return names
}

func TestParseIDs(t *testing.T) {
	tests := []struct {
		raw     string
		want    []int64
		wantErr bool
	}{
		{raw: "1,2,3", want: []int64{1, 2, 3}},
		{raw: " 3 , 1 ", want: []int64{3, 1}},
		{raw: "2,2", want: []int64{2, 2}},
		{raw: "", wantErr: true},
		{raw: "1,,2", wantErr: true},
		{raw: "1,x", wantErr: true},
		{raw: "-4", wantErr: true},
		{raw: "1,2,3,4,5", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseIDs(tt.raw, 4)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBatch_BestEffortDropsMissing(t *testing.T) {
	h := NewServer(newFakeUsers("ana", "ben", "cy"), Options{Policy: testPolicy}).Handler()
	require.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/users/2", "").Code)

	w := do(t, h, http.MethodGet, "/users/batch?ids=3,2,1,3", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := decode[batchResponse](t, w)
	assert.Equal(t, []string{"cy", "ana", "cy"}, usernames(got.Users))
	assert.Equal(t, 4, got.Requested)
	assert.Equal(t, 1, got.Dropped)
	assert.Equal(t, fanout.ModeBestEffort, got.Mode)
}

func TestBatch_FailFastMissingIsNotFound(t *testing.T) {
	h := NewServer(newFakeUsers("ana"), Options{Policy: testPolicy}).Handler()

	w := do(t, h, http.MethodGet, "/users/batch?ids=1,5&fail_fast=true", "")
	require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())

	got := decode[abortResponse](t, w)
	assert.Equal(t, int64(5), got.ID)
	assert.Equal(t, 1, got.Index)
	assert.Equal(t, fanout.StatusFailure, got.Status)
}

func TestBatch_FailFastUpstreamError(t *testing.T) {
	users := newFakeUsers("ana", "ben")
	users.getErrs[2] = errConnReset
	h := NewServer(users, Options{Policy: testPolicy}).Handler()

	w := do(t, h, http.MethodGet, "/users/batch?ids=1,2&fail_fast=1", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)

	// the same batch without fail_fast completes
	w = do(t, h, http.MethodGet, "/users/batch?ids=1,2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"ana"}, usernames(decode[batchResponse](t, w).Users))
}

func TestBatch_FailFastTimeout(t *testing.T) {
	users := newFakeUsers("ana", "ben")
	fetch := func(ctx context.Context, id int64) (*store.User, error) {
		if id == 2 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return users.Get(ctx, id)
	}
	policy := testPolicy
	policy.FailFast = true
	h := NewServer(users, Options{Policy: policy, Fetch: fetch}).Handler()

	w := do(t, h, http.MethodGet, "/users/batch?ids=1,2", "")
	require.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, fanout.StatusTimedOut, decode[abortResponse](t, w).Status)

	// fail_fast=false overrides the server policy
	w = do(t, h, http.MethodGet, "/users/batch?ids=1,2&fail_fast=false", "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[batchResponse](t, w)
	assert.Equal(t, 1, got.Dropped)
	assert.Equal(t, fanout.ModeBestEffort, got.Mode)
}

func TestBatch_BadRequests(t *testing.T) {
	h := NewServer(newFakeUsers(), Options{Policy: testPolicy, MaxBatchSize: 3}).Handler()

	for _, target := range []string{
		"/users/batch",
		"/users/batch?ids=a",
		"/users/batch?ids=1,2,3,4",
		"/users/batch?ids=1&fail_fast=perhaps",
	} {
		t.Run(target, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, target, "").Code)
		})
	}
}

func TestBatch_InvalidServerPolicy(t *testing.T) {
	h := NewServer(newFakeUsers("ana"), Options{Policy: fanout.Policy{MaxConcurrency: 0, PerItemTimeout: 1}}).Handler()

	w := do(t, h, http.MethodGet, "/users/batch?ids=1", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestLoadConcurrent(t *testing.T) {
	users := newFakeUsers("ana", "ben", "cy")
	users.getErrs[2] = errConnReset
	h := NewServer(users, Options{Policy: testPolicy}).Handler()

	w := do(t, h, http.MethodGet, "/load_concurrent", "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[batchResponse](t, w)
	assert.Equal(t, []string{"ana", "cy"}, usernames(got.Users))
	assert.Equal(t, 3, got.Requested)
	assert.Equal(t, 1, got.Dropped)
}

func TestLoadConcurrent_Empty(t *testing.T) {
	h := NewServer(newFakeUsers(), Options{Policy: testPolicy}).Handler()

	w := do(t, h, http.MethodGet, "/load_concurrent", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `"users":[]`), w.Body.String())
}
