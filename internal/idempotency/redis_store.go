package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// acquireScript atomically inspects the existing record (if any) and
// either installs a new processing record or returns the existing record
// for TryAcquire to classify, matching the gate's acquire-lock protocol in one
// round trip so concurrent requests racing on the same key never both
// observe ACQUIRED.
const acquireScript = `
local existing = redis.call("GET", KEYS[1])
if existing == false then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
  return "ACQUIRED"
end
local rec = cjson.decode(existing)
if rec.request_hash ~= ARGV[3] then
  return existing
end
if rec.status == "processing" then
  return existing
end
return existing
`

// RedisStore is the Redis-backed CacheStore implementation.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "idempotency:"
	}
	return &RedisStore{client: client, prefix: keyPrefix}
}

type cacheRecord struct {
	RequestHash    string     `json:"request_hash"`
	Status         string     `json:"status"`
	ResponseStatus int        `json:"response_status,omitempty"`
	ResponseBody   []byte     `json:"response_body,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func (s *RedisStore) key(k string) string { return s.prefix + k }

func (s *RedisStore) TryAcquire(ctx context.Context, key, requestHash string, processingTTL time.Duration) (Outcome, *Record, error) {
	newRec := cacheRecord{RequestHash: requestHash, Status: string(StatusProcessing), CreatedAt: time.Now().UTC()}
	payload, err := json.Marshal(newRec)
	if err != nil {
		return "", nil, err
	}

	result, err := s.client.Eval(ctx, acquireScript, []string{s.key(key)}, string(payload), processingTTL.Milliseconds(), requestHash).Result()
	if err != nil {
		return "", nil, err
	}

	raw, ok := result.(string)
	if !ok {
		return "", nil, errors.New("idempotency: unexpected script result type")
	}
	if raw == "ACQUIRED" {
		return OutcomeAcquired, &Record{RequestHash: requestHash, Status: StatusProcessing, CreatedAt: newRec.CreatedAt}, nil
	}

	var existing cacheRecord
	if err := json.Unmarshal([]byte(raw), &existing); err != nil {
		return "", nil, err
	}
	rec := &Record{
		RequestHash: existing.RequestHash, Status: Status(existing.Status),
		ResponseStatus: existing.ResponseStatus, ResponseBody: existing.ResponseBody,
		CreatedAt: existing.CreatedAt, CompletedAt: existing.CompletedAt,
	}
	if existing.RequestHash != requestHash {
		return OutcomeConflict, rec, nil
	}
	if Status(existing.Status) == StatusProcessing {
		return OutcomeProcessing, rec, nil
	}
	return OutcomeHit, rec, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, record *Record, ttl time.Duration) error {
	rec := cacheRecord{
		RequestHash: record.RequestHash, Status: string(StatusCompleted),
		ResponseStatus: record.ResponseStatus, ResponseBody: record.ResponseBody,
		CreatedAt: record.CreatedAt, CompletedAt: record.CompletedAt,
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(key), payload, ttl).Err()
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec cacheRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &Record{
		RequestHash: rec.RequestHash, Status: Status(rec.Status),
		ResponseStatus: rec.ResponseStatus, ResponseBody: rec.ResponseBody,
		CreatedAt: rec.CreatedAt, CompletedAt: rec.CompletedAt,
	}, nil
}
