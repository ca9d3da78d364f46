package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tachesure/escrow-service/internal/domain"
)

// store runs one ledger store call under the configured timeout. A blown
// deadline is reported as a retryable storage failure.
func (s *Service) store(ctx context.Context, op func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	err := op(callCtx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return err
}

// storeWithRetry is used for the authoritative payment write: storage
// failures are retried with exponential backoff until the budget runs out.
func (s *Service) storeWithRetry(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := s.cfg.PersistenceRetryBackoff
	var err error
	for attempt := 1; attempt <= s.cfg.PersistenceRetryAttempts; attempt++ {
		err = s.store(ctx, op)
		if err == nil || !domain.IsRetryable(err) {
			return err
		}
		if attempt == s.cfg.PersistenceRetryAttempts {
			break
		}
		s.logger.WarnContext(ctx, "ledger store write failed, retrying",
			"operation", "store_with_retry",
			"outcome", "retry",
			"attempt", attempt,
			"error", err,
		)
		if waitErr := wait(ctx, backoff); waitErr != nil {
			return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, waitErr)
		}
		backoff *= 2
	}
	return err
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type idempotentRequest struct {
	Operation string `json:"operation"`
	Input     any    `json:"input"`
}

// withIdempotency replays the stored response when the same caller sends the
// same key and request again. A failed call releases the key so the client may
// retry.
func withIdempotency[T any](ctx context.Context, s *Service, actor Actor, operation string, input any, fn func() (T, error)) (T, error) {
	var zero T
	key := scopedIdempotencyKey(actor)
	if key == "" || s.idempotency == nil {
		return fn()
	}
	requestHash := hashRequest(idempotentRequest{Operation: operation, Input: input})

	rec, err := s.idempotency.Get(ctx, key, s.nowFn())
	if err != nil {
		return zero, err
	}
	if rec != nil {
		if rec.RequestHash != requestHash {
			return zero, domain.ErrIdempotencyConflict
		}
		if len(rec.ResponseBody) == 0 {
			return zero, fmt.Errorf("%w: request still in flight", domain.ErrIdempotencyConflict)
		}
		var cached T
		if err := json.Unmarshal(rec.ResponseBody, &cached); err != nil {
			return zero, fmt.Errorf("decode idempotent response: %w", err)
		}
		return cached, nil
	}

	if err := s.idempotency.Reserve(ctx, key, requestHash, s.nowFn().Add(s.cfg.IdempotencyTTL)); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return zero, domain.ErrIdempotencyConflict
		}
		return zero, err
	}
	out, err := fn()
	if err != nil {
		if releaseErr := s.idempotency.Release(ctx, key); releaseErr != nil {
			s.logger.WarnContext(ctx, "release idempotency key failed", "operation", operation, "error", releaseErr)
		}
		return zero, err
	}
	body, err := json.Marshal(out)
	if err == nil {
		err = s.idempotency.Complete(ctx, key, 200, body, s.nowFn())
	}
	if err != nil {
		s.logger.WarnContext(ctx, "complete idempotency key failed", "operation", operation, "error", err)
	}
	return out, nil
}

// scopedIdempotencyKey namespaces the client key by subject so two callers
// never collide on the same key.
func scopedIdempotencyKey(actor Actor) string {
	key := strings.TrimSpace(actor.IdempotencyKey)
	if key == "" {
		return ""
	}
	subject := strings.TrimSpace(actor.SubjectID)
	if subject == "" {
		subject = "anonymous"
	}
	return subject + ":" + key
}

func hashRequest(v any) string {
	raw, _ := json.Marshal(v)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
