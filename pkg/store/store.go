// Package store persists users in Redis.
//
// Each user is a JSON document at users:<id>. The sorted set users:ids indexes
// all ids, users:by_name maps usernames to ids, and users:seq allocates ids.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/usersvc/pkg/logging"
	"github.com/Sternrassler/usersvc/pkg/retry"
)

// Redis keys.
const (
	KeyPrefix   = "users:"
	KeySequence = "users:seq"
	KeyIndex    = "users:ids"
	KeyByName   = "users:by_name"
)

var (
	// ErrNotFound indicates no user exists for the given id.
	ErrNotFound = errors.New("user not found")

	// ErrDuplicate indicates the username is already taken.
	ErrDuplicate = errors.New("username already exists")

	// ErrInvalidUser indicates the input failed validation.
	ErrInvalidUser = errors.New("invalid user")

	// ErrCorrupt indicates a stored document could not be decoded.
	ErrCorrupt = errors.New("corrupt user document")

	// ErrConflict indicates a write kept losing to concurrent writers.
	ErrConflict = errors.New("concurrent modification")
)

// maxTxAttempts bounds the retries of an optimistic transaction.
const maxTxAttempts = 10

var (
	storeOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "store_operations_total",
		Help: "Total user store operations by operation and result",
	}, []string{"operation", "result"})

	storeOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "store_operation_duration_seconds",
		Help:    "User store operation duration in seconds",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"operation"})
)

// User is a stored user.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// NewUser is the input for Create.
type NewUser struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Validate checks the input for Create.
func (u NewUser) Validate() error {
	if strings.TrimSpace(u.Username) == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidUser)
	}
	if u.Email != "" && !strings.Contains(u.Email, "@") {
		return fmt.Errorf("%w: email %q is not an address", ErrInvalidUser, u.Email)
	}
	return nil
}

// UserUpdate is the input for Update. Nil fields are left unchanged.
type UserUpdate struct {
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
}

// Store is a Redis-backed user store.
type Store struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// New creates a store on the given Redis client.
func New(redisClient *redis.Client) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Store{
		redis:  redisClient,
		logger: logging.NewLogger("store"),
	}
}

func userKey(id int64) string {
	return KeyPrefix + strconv.FormatInt(id, 10)
}

func observe(operation string, start time.Time, err error) {
	result := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	storeOperationsTotal.WithLabelValues(operation, result).Inc()
	storeOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Create stores a new user and assigns its id.
func (s *Store) Create(ctx context.Context, in NewUser) (u *User, err error) {
	defer func(start time.Time) { observe("create", start, err) }(time.Now())

	if err := in.Validate(); err != nil {
		return nil, err
	}

	id, err := s.redis.Incr(ctx, KeySequence).Result()
	if err != nil {
		return nil, fmt.Errorf("redis incr: %w", err)
	}

	claimed, err := s.redis.HSetNX(ctx, KeyByName, in.Username, id).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hsetnx: %w", err)
	}
	if !claimed {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, in.Username)
	}

	user := &User{ID: id, Username: in.Username, Email: in.Email}
	data, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("marshal user: %w", err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, userKey(id), data, 0)
		pipe.ZAdd(ctx, KeyIndex, redis.Z{Score: float64(id), Member: id})
		return nil
	})
	if err != nil {
		// Release the username so a retry can succeed.
		s.redis.HDel(context.WithoutCancel(ctx), KeyByName, in.Username)
		return nil, fmt.Errorf("redis store user: %w", err)
	}

	s.logger.Debug().Int64("id", id).Str("username", in.Username).Msg("User created")
	return user, nil
}

// Get returns the user with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (u *User, err error) {
	defer func(start time.Time) { observe("get", start, err) }(time.Now())
	return readUser(ctx, s.redis, id)
}

func readUser(ctx context.Context, c redis.Cmdable, id int64) (*User, error) {
	data, err := c.Get(ctx, userKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("%w: user %d: %v", ErrCorrupt, id, err)
	}
	return &user, nil
}

// List returns all user ids in ascending order.
func (s *Store) List(ctx context.Context) (ids []int64, err error) {
	defer func(start time.Time) { observe("list", start, err) }(time.Now())

	members, err := s.redis.ZRange(ctx, KeyIndex, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange: %w", err)
	}

	ids = make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt index member %q: %w", m, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Update applies the non-nil fields of in to the user with the given id.
// Renaming to a taken username returns ErrDuplicate.
func (s *Store) Update(ctx context.Context, id int64, in UserUpdate) (u *User, err error) {
	defer func(start time.Time) { observe("update", start, err) }(time.Now())

	err = s.watch(ctx, func(tx *redis.Tx) error {
		current, err := readUser(ctx, tx, id)
		if err != nil {
			return err
		}

		next := *current
		if in.Username != nil {
			next.Username = *in.Username
		}
		if in.Email != nil {
			next.Email = *in.Email
		}
		if err := (NewUser{Username: next.Username, Email: next.Email}).Validate(); err != nil {
			return err
		}

		renamed := next.Username != current.Username
		if renamed {
			taken, err := tx.HExists(ctx, KeyByName, next.Username).Result()
			if err != nil {
				return fmt.Errorf("redis hexists: %w", err)
			}
			if taken {
				return fmt.Errorf("%w: %s", ErrDuplicate, next.Username)
			}
		}

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal user: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, userKey(id), data, 0)
			if renamed {
				pipe.HDel(ctx, KeyByName, current.Username)
				pipe.HSet(ctx, KeyByName, next.Username, id)
			}
			return nil
		})
		if err != nil {
			return err
		}
		u = &next
		return nil
	}, userKey(id), KeyByName)
	if err != nil {
		return nil, err
	}

	s.logger.Debug().Int64("id", id).Str("username", u.Username).Msg("User updated")
	return u, nil
}

// Delete removes the user with the given id, or returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, id int64) (err error) {
	defer func(start time.Time) { observe("delete", start, err) }(time.Now())

	err = s.watch(ctx, func(tx *redis.Tx) error {
		user, err := readUser(ctx, tx, id)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, userKey(id))
			pipe.ZRem(ctx, KeyIndex, id)
			pipe.HDel(ctx, KeyByName, user.Username)
			return nil
		})
		return err
	}, userKey(id))
	if err != nil {
		return err
	}

	s.logger.Debug().Int64("id", id).Msg("User deleted")
	return nil
}

// watch runs fn as an optimistic transaction over keys, retrying when another
// client modified a watched key between the reads in fn and its EXEC.
func (s *Store) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err := s.redis.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		s.logger.Debug().Strs("keys", keys).Int("attempt", attempt).Msg("Transaction conflict, retrying")
	}
	return fmt.Errorf("%w after %d attempts on %v", ErrConflict, maxTxAttempts, keys)
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

// Classify tells retry which store errors are worth another attempt: missing
// users, invalid input and cancellations are final, everything else is
// assumed to be a connection problem.
func Classify(err error) retry.Class {
	switch {
	case err == nil,
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrInvalidUser),
		errors.Is(err, ErrCorrupt),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return retry.ClassPermanent
	default:
		return retry.ClassTransient
	}
}
