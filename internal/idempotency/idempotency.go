// Package idempotency implements the two-layer idempotency gate: a Redis
// cache primary fronting a durable Postgres store, acquiring a lock on
// (tenant, method:path, key) before a mutating handler runs and releasing
// it on failure. Grounded on nat-prohmpiriya's pkg/middleware/idempotency.go
// (SetNX-based acquire, dual-TTL strategy, response capture) generalized
// from a single Redis layer to the engine's cache+durable-store protocol,
// and on the teacher's optimistic-locking repository style for the
// durable side.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jsoonworld/fluxpay-engine/internal/domainerr"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// Outcome is the result of the acquire-lock protocol.
type Outcome string

const (
	OutcomeAcquired   Outcome = "ACQUIRED"
	OutcomeConflict   Outcome = "CONFLICT"
	OutcomeProcessing Outcome = "PROCESSING"
	OutcomeHit        Outcome = "HIT"
)

// Record is the idempotency record, whichever layer it is read from.
type Record struct {
	TenantID       string
	MethodPath     string
	Key            string
	RequestHash    string
	Status         Status
	ResponseStatus int
	ResponseBody   []byte
	CreatedAt      time.Time
	CompletedAt    *time.Time
	ExpiresAt      time.Time
}

// HashBody returns the SHA-256 hex digest of the raw request body, the
// hash stored alongside the record and compared on replay.
func HashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// CacheStore is the Redis-backed primary layer.
type CacheStore interface {
	// TryAcquire atomically evaluates the existing record (if any) and
	// either inserts a new processing record or reports the existing
	// one, per the gate's acquire-lock protocol.
	TryAcquire(ctx context.Context, key string, requestHash string, processingTTL time.Duration) (Outcome, *Record, error)
	Complete(ctx context.Context, key string, record *Record, ttl time.Duration) error
	Release(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (*Record, error)
}

// DurableStore is the Postgres-backed fallback/source-of-truth layer.
type DurableStore interface {
	Insert(ctx context.Context, rec *Record, ttl time.Duration) error
	Get(ctx context.Context, tenantID, methodPath, key string) (*Record, error)
	Complete(ctx context.Context, tenantID, methodPath, key string, statusCode int, body []byte, ttl time.Duration) error
	Delete(ctx context.Context, tenantID, methodPath, key string) error
	PurgeExpired(ctx context.Context) (int64, error)
}

// Gate implements the engine's idempotency contract described in its
// external-interfaces section: cache-first acquire with durable
// fallback, response caching, and lock release on handler failure.
type Gate struct {
	cache       CacheStore
	durable     DurableStore
	defaultTTL  time.Duration
	processingTTL time.Duration
}

func NewGate(cache CacheStore, durable DurableStore, defaultTTL, processingTTL time.Duration) *Gate {
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	if processingTTL <= 0 {
		processingTTL = 60 * time.Second
	}
	return &Gate{cache: cache, durable: durable, defaultTTL: defaultTTL, processingTTL: processingTTL}
}

func recordKey(tenantID, methodPath, key string) string {
	return tenantID + "|" + methodPath + "|" + key
}

// Acquire runs the acquire-lock protocol: try the cache first; if the
// cache is unreachable, fall back to the durable store directly. A
// durable record the cache doesn't know about (e.g. after a cache
// restart) always wins over a cache miss.
func (g *Gate) Acquire(ctx context.Context, tenantID, methodPath, key string, body []byte) (Outcome, *Record, error) {
	requestHash := HashBody(body)
	rk := recordKey(tenantID, methodPath, key)

	if g.cache != nil {
		outcome, rec, err := g.cache.TryAcquire(ctx, rk, requestHash, g.processingTTL)
		if err == nil {
			if outcome == OutcomeAcquired {
				// The cache thought this was a fresh key (e.g. after a
				// cache restart), but the durable store is the source of
				// truth: if it already holds a row for this key, that
				// row's classification wins over the cache's ACQUIRED,
				// otherwise two instances could both believe they hold
				// the lock and both run the handler.
				if derr := g.durable.Insert(ctx, &Record{
					TenantID: tenantID, MethodPath: methodPath, Key: key,
					RequestHash: requestHash, Status: StatusProcessing,
					CreatedAt: time.Now().UTC(),
				}, g.processingTTL); derr != nil {
					existing, gerr := g.durable.Get(ctx, tenantID, methodPath, key)
					if gerr == nil && existing != nil {
						if existing.RequestHash != requestHash {
							_ = g.cache.Release(ctx, rk)
							return OutcomeConflict, existing, nil
						}
						if existing.Status == StatusProcessing {
							_ = g.cache.Release(ctx, rk)
							return OutcomeProcessing, existing, nil
						}
						return OutcomeHit, existing, nil
					}
					return "", nil, domainerr.NewPGClientError("idempotency: durable lookup failed after insert conflict", derr)
				}
			}
			return outcome, rec, nil
		}
	}

	return g.acquireDurable(ctx, tenantID, methodPath, key, requestHash)
}

func (g *Gate) acquireDurable(ctx context.Context, tenantID, methodPath, key, requestHash string) (Outcome, *Record, error) {
	existing, err := g.durable.Get(ctx, tenantID, methodPath, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", nil, domainerr.NewPGClientError("idempotency: durable lookup failed", err)
	}
	if existing != nil {
		if existing.RequestHash != requestHash {
			return OutcomeConflict, existing, nil
		}
		if existing.Status == StatusProcessing {
			return OutcomeProcessing, existing, nil
		}
		return OutcomeHit, existing, nil
	}

	rec := &Record{
		TenantID: tenantID, MethodPath: methodPath, Key: key,
		RequestHash: requestHash, Status: StatusProcessing, CreatedAt: time.Now().UTC(),
	}
	if err := g.durable.Insert(ctx, rec, g.processingTTL); err != nil {
		existing, gerr := g.durable.Get(ctx, tenantID, methodPath, key)
		if gerr == nil && existing != nil {
			if existing.RequestHash != requestHash {
				return OutcomeConflict, existing, nil
			}
			if existing.Status == StatusProcessing {
				return OutcomeProcessing, existing, nil
			}
			return OutcomeHit, existing, nil
		}
		return "", nil, domainerr.NewPGClientError("idempotency: durable insert failed", err)
	}
	return OutcomeAcquired, rec, nil
}

// Complete writes the handler's response to both layers with the default
// TTL, finalizing the record as completed.
func (g *Gate) Complete(ctx context.Context, tenantID, methodPath, key string, statusCode int, body []byte) error {
	rk := recordKey(tenantID, methodPath, key)
	now := time.Now().UTC()
	if g.cache != nil {
		rec := &Record{
			TenantID: tenantID, MethodPath: methodPath, Key: key,
			Status: StatusCompleted, ResponseStatus: statusCode, ResponseBody: body, CompletedAt: &now,
		}
		// Carry the lock's request hash forward so a replay with the same
		// body is still recognised as a HIT rather than a CONFLICT.
		if prev, err := g.cache.Get(ctx, rk); err == nil && prev != nil {
			rec.RequestHash, rec.CreatedAt = prev.RequestHash, prev.CreatedAt
		} else if prev, err := g.durable.Get(ctx, tenantID, methodPath, key); err == nil && prev != nil {
			rec.RequestHash, rec.CreatedAt = prev.RequestHash, prev.CreatedAt
		}
		_ = g.cache.Complete(ctx, rk, rec, g.defaultTTL)
	}
	return g.durable.Complete(ctx, tenantID, methodPath, key, statusCode, body, g.defaultTTL)
}

// Release deletes the lock record from both layers so a failed request
// can be retried with the same key.
func (g *Gate) Release(ctx context.Context, tenantID, methodPath, key string) error {
	rk := recordKey(tenantID, methodPath, key)
	if g.cache != nil {
		_ = g.cache.Release(ctx, rk)
	}
	return g.durable.Delete(ctx, tenantID, methodPath, key)
}

// ErrNotFound is returned by DurableStore.Get when no record exists.
var ErrNotFound = errors.New("idempotency: record not found")
