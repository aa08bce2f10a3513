// Package api exposes the user service over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/usersvc/pkg/fanout"
	"github.com/Sternrassler/usersvc/pkg/logging"
	"github.com/Sternrassler/usersvc/pkg/metrics"
	"github.com/Sternrassler/usersvc/pkg/store"
)

// DefaultMaxBatchSize caps the number of ids accepted by /users/batch.
const DefaultMaxBatchSize = 1000

// Users is the user store used by the handlers.
type Users interface {
	Create(ctx context.Context, in store.NewUser) (*store.User, error)
	Get(ctx context.Context, id int64) (*store.User, error)
	List(ctx context.Context) ([]int64, error)
	Update(ctx context.Context, id int64, in store.UserUpdate) (*store.User, error)
	Delete(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	// Policy is the default policy for batch reads. Its PerItemTimeout also
	// bounds single reads. The zero value means fanout.DefaultPolicy().
	Policy fanout.Policy

	// Fetch replaces Users.Get for single and batch reads, typically with
	// retries and caching layered on top. Defaults to Users.Get.
	Fetch fanout.FetchFunc[int64, *store.User]

	// Invalidate is called after a user is updated or deleted. Errors are logged.
	Invalidate func(ctx context.Context, id int64) error

	// MaxBatchSize defaults to DefaultMaxBatchSize.
	MaxBatchSize int
}

// Server holds the HTTP handlers.
type Server struct {
	users      Users
	fetch      fanout.FetchFunc[int64, *store.User]
	invalidate func(ctx context.Context, id int64) error
	policy     fanout.Policy
	maxBatch   int
	logger     zerolog.Logger
}

// NewServer creates a Server. It panics if users is nil.
func NewServer(users Users, opts Options) *Server {
	if users == nil {
		panic("users cannot be nil")
	}

	s := &Server{
		users:      users,
		fetch:      opts.Fetch,
		invalidate: opts.Invalidate,
		policy:     opts.Policy,
		maxBatch:   opts.MaxBatchSize,
		logger:     logging.NewLogger("api"),
	}
	if s.policy == (fanout.Policy{}) {
		s.policy = fanout.DefaultPolicy()
	}
	if s.fetch == nil {
		s.fetch = users.Get
	}
	if s.maxBatch <= 0 {
		s.maxBatch = DefaultMaxBatchSize
	}
	return s
}

// Handler returns the routed handler with request metrics and logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /users", s.handleCreateUser)
	mux.HandleFunc("GET /users", s.handleListUsers)
	mux.HandleFunc("GET /users/batch", s.handleBatch)
	mux.HandleFunc("GET /users/{id}", s.handleGetUser)
	mux.HandleFunc("PUT /users/{id}", s.handleUpdateUser)
	mux.HandleFunc("DELETE /users/{id}", s.handleDeleteUser)
	mux.HandleFunc("GET /load_concurrent", s.handleLoadConcurrent)

	return s.instrument(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.users.Ping(r.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("Readiness check failed")
		writeError(w, http.StatusServiceUnavailable, "redis not ready")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("READY"))
}
