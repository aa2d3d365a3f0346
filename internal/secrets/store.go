// Package secrets resolves device secrets and derives per-day session keys from them.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/logging"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/metrics"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
)

// Secret error reasons.
const (
	ReasonNotFound     = "not_found"
	ReasonUnauthorized = "unauthorized"
	ReasonBackend      = "backend"
	ReasonInvalidName  = "invalid_name"
)

// Store looks up a secret value by name.
type Store interface {
	Secret(ctx context.Context, name string) (string, error)
}

// RedisStore reads secrets stored as plain string keys under a prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisClient parses url and checks the server. Only a malformed url is
// an error; an unreachable server is logged and every lookup then fails
// with a backend SecretError until it recovers.
func NewRedisClient(ctx context.Context, url string, logger *logging.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if logger == nil {
		logger = logging.Default()
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WarnContext(ctx, "secret store unreachable", "addr", opt.Addr, logging.Error(err))
	}
	return client, nil
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Secret returns the value of name. Failures are *model.SecretError.
func (s *RedisStore) Secret(ctx context.Context, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, " \t\r\n") {
		metrics.SecretLookups.WithLabelValues(ReasonInvalidName).Inc()
		return "", &model.SecretError{Name: name, Reason: ReasonInvalidName}
	}

	value, err := s.client.Get(ctx, s.prefix+name).Result()
	if err != nil {
		reason := classify(err)
		metrics.SecretLookups.WithLabelValues(reason).Inc()
		return "", &model.SecretError{Name: name, Reason: reason, Err: err}
	}
	metrics.SecretLookups.WithLabelValues("found").Inc()
	return value, nil
}

func classify(err error) string {
	if errors.Is(err, redis.Nil) {
		return ReasonNotFound
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "NOAUTH") || strings.HasPrefix(msg, "WRONGPASS") || strings.HasPrefix(msg, "NOPERM") {
		return ReasonUnauthorized
	}
	return ReasonBackend
}
