package redis

// Package redis provides Redis-based adapters for the jobwell system.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/jobwell/jobwell-go/internal/errors"
)

// SubmissionLeaser enforces at-most-one-in-flight per application with a
// Redis key under NX + TTL. The TTL bounds how long a crashed worker can
// block re-submission.
type SubmissionLeaser struct {
	client redis.UniversalClient
	prefix string
}

// NewSubmissionLeaser creates a Redis-backed submission leaser.
func NewSubmissionLeaser(client redis.UniversalClient) *SubmissionLeaser {
	return &SubmissionLeaser{
		client: client,
		prefix: "submission_lease:",
	}
}

// NewSubmissionLeaserWithPrefix creates a leaser with a custom key prefix.
func NewSubmissionLeaserWithPrefix(client redis.UniversalClient, prefix string) *SubmissionLeaser {
	return &SubmissionLeaser{
		client: client,
		prefix: prefix,
	}
}

// releaseScript deletes the lease key only if the caller still owns it, so a
// worker whose lease expired cannot release a successor's lease.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0
`)

// Acquire takes the in-flight marker for an application. It returns a
// release token on success, or AlreadyInFlight when another holder exists.
func (l *SubmissionLeaser) Acquire(
	ctx context.Context,
	applicationID string,
	ttl time.Duration,
) (string, error) {
	if applicationID == "" {
		return "", errors.New("application ID cannot be empty")
	}
	if ttl <= 0 {
		return "", errors.New("lease TTL must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+applicationID, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return "", apperrors.AlreadyInFlight(
			fmt.Sprintf("submission already in flight for application %s", applicationID))
	}
	return token, nil
}

// Release frees the marker if token still owns it. Releasing a lease that
// already expired or was taken over is not an error.
func (l *SubmissionLeaser) Release(ctx context.Context, applicationID, token string) error {
	if applicationID == "" || token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.prefix + applicationID}, token).Err(); err != nil &&
		!errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis release lease: %w", err)
	}
	return nil
}

// Held reports whether an in-flight marker currently exists.
func (l *SubmissionLeaser) Held(ctx context.Context, applicationID string) (bool, error) {
	n, err := l.client.Exists(ctx, l.prefix+applicationID).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}
