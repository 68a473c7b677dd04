//go:build integration

package main_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/jsoonworld/fluxpay-engine/internal/events"
	"github.com/jsoonworld/fluxpay-engine/internal/idempotency"
	"github.com/jsoonworld/fluxpay-engine/internal/outbox"
	"github.com/jsoonworld/fluxpay-engine/internal/repository"
	"github.com/jsoonworld/fluxpay-engine/internal/saga"
)

// TestIdempotencyGate_Replay_ReturnsHitWithCachedResponse verifies the
// core exactly-once contract end to end against a live Postgres durable
// store and a Redis-shaped cache: a second Acquire for the same key only
// ever sees HIT once the first request has completed, and replays the
// exact response the first request stored.
func TestIdempotencyGate_Replay_ReturnsHitWithCachedResponse(t *testing.T) {
	infra := setupPostgres(t)
	defer infra.Cleanup()
	redisClient, redisCleanup := setupMiniredis(t)
	defer redisCleanup()

	durable := repository.NewIdempotencyDurableStore(infra.DB)
	cache := idempotency.NewRedisStore(redisClient, "test:")
	gate := idempotency.NewGate(cache, durable, 24*time.Hour, 30*time.Second)

	tenantID := newTenantID()
	key := uuid.New().String()
	body := []byte(`{"amount":"10.00"}`)

	outcome, _, err := gate.Acquire(context.Background(), tenantID, "POST:/api/v1/payments", key, body)
	require.NoError(t, err)
	require.Equal(t, idempotency.OutcomeAcquired, outcome)

	// A racing request with the same key while the first is still in
	// flight must see PROCESSING, never a second ACQUIRED.
	outcome, _, err = gate.Acquire(context.Background(), tenantID, "POST:/api/v1/payments", key, body)
	require.NoError(t, err)
	assert.Equal(t, idempotency.OutcomeProcessing, outcome)

	require.NoError(t, gate.Complete(context.Background(), tenantID, "POST:/api/v1/payments", key, 201, []byte(`{"status":"CREATED"}`)))

	outcome, rec, err := gate.Acquire(context.Background(), tenantID, "POST:/api/v1/payments", key, body)
	require.NoError(t, err)
	require.Equal(t, idempotency.OutcomeHit, outcome)
	assert.Equal(t, 201, rec.ResponseStatus)
	assert.JSONEq(t, `{"status":"CREATED"}`, string(rec.ResponseBody))
}

// TestIdempotencyGate_ConflictingBody_ReturnsConflict verifies that reuse
// of an idempotency key with a different request body is rejected
// regardless of whether the first request has completed.
func TestIdempotencyGate_ConflictingBody_ReturnsConflict(t *testing.T) {
	infra := setupPostgres(t)
	defer infra.Cleanup()
	redisClient, redisCleanup := setupMiniredis(t)
	defer redisCleanup()

	durable := repository.NewIdempotencyDurableStore(infra.DB)
	cache := idempotency.NewRedisStore(redisClient, "test:")
	gate := idempotency.NewGate(cache, durable, 24*time.Hour, 30*time.Second)

	tenantID := newTenantID()
	key := uuid.New().String()

	outcome, _, err := gate.Acquire(context.Background(), tenantID, "POST:/api/v1/payments", key, []byte(`{"amount":"10.00"}`))
	require.NoError(t, err)
	require.Equal(t, idempotency.OutcomeAcquired, outcome)

	outcome, _, err = gate.Acquire(context.Background(), tenantID, "POST:/api/v1/payments", key, []byte(`{"amount":"99.00"}`))
	require.NoError(t, err)
	assert.Equal(t, idempotency.OutcomeConflict, outcome)
}

// TestIdempotencyGate_CacheMiss_FallsBackToDurableProcessing reproduces
// the scenario that once let two instances both win ACQUIRED: the cache
// reports a fresh key (as it would after a restart) while the durable
// store already holds a PROCESSING row for it. The gate must reclassify
// off the durable record instead of trusting the stale cache result.
func TestIdempotencyGate_CacheMiss_FallsBackToDurableProcessing(t *testing.T) {
	infra := setupPostgres(t)
	defer infra.Cleanup()
	redisClient, redisCleanup := setupMiniredis(t)
	defer redisCleanup()

	durable := repository.NewIdempotencyDurableStore(infra.DB)
	cache := idempotency.NewRedisStore(redisClient, "test:")
	gate := idempotency.NewGate(cache, durable, 24*time.Hour, 30*time.Second)

	tenantID := newTenantID()
	key := uuid.New().String()
	body := []byte(`{"amount":"10.00"}`)

	outcome, _, err := gate.Acquire(context.Background(), tenantID, "POST:/api/v1/payments", key, body)
	require.NoError(t, err)
	require.Equal(t, idempotency.OutcomeAcquired, outcome)

	// Simulate a cache restart: the Redis-backed cache layer forgets the
	// key, but the durable Postgres row is still PROCESSING.
	require.NoError(t, redisClient.FlushAll(context.Background()).Err())

	outcome, _, err = gate.Acquire(context.Background(), tenantID, "POST:/api/v1/payments", key, body)
	require.NoError(t, err)
	assert.Equal(t, idempotency.OutcomeProcessing, outcome, "a second caller must never see ACQUIRED while the durable store still holds the lock")
}

// TestOutboxRepository_ClaimPending_CompetingConsumers_NoDuplicateClaims
// verifies the transactional outbox's core competing-consumer guarantee:
// concurrent publisher instances claiming from the same pending batch
// never claim the same row twice, and every row is eventually claimed
// exactly once.
func TestOutboxRepository_ClaimPending_CompetingConsumers_NoDuplicateClaims(t *testing.T) {
	infra := setupPostgres(t)
	defer infra.Cleanup()

	repo := repository.NewOutboxRepository(infra.DB)
	tenantID := newTenantID()

	const totalEvents = 40
	for i := 0; i < totalEvents; i++ {
		ce, err := events.New(tenantID, events.TypeOrderCreated, map[string]interface{}{"i": i})
		require.NoError(t, err)
		require.NoError(t, infra.DB.Transaction(func(tx *gorm.DB) error {
			return repository.AppendOutboxEventTx(tx, tenantID, "Order", uuid.New().String(), ce, 3)
		}))
	}

	var mu sync.Mutex
	claimedIDs := map[uuid.UUID]int{}
	var wg sync.WaitGroup
	const consumers = 5
	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := repo.ClaimPending(context.Background(), 7)
				if err != nil || len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, ev := range batch {
					claimedIDs[ev.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimedIDs, totalEvents, "every pending row must be claimed exactly once across all consumers")
	for id, count := range claimedIDs {
		assert.Equal(t, 1, count, "row %s was claimed more than once", id)
	}
}

// TestOutboxPublisher_PublishesClaimedEventToKafka exercises the full
// claim -> dispatch -> mark-published path against a live Kafka broker.
func TestOutboxPublisher_PublishesClaimedEventToKafka(t *testing.T) {
	infra := setupPostgres(t)
	defer infra.Cleanup()
	kafkaInf := setupKafka(t)
	defer kafkaInf.Cleanup()

	tenantID := newTenantID()
	createTopics(t, kafkaInf.Brokers, events.Topic("Order"))

	repo := repository.NewOutboxRepository(infra.DB)
	ce, err := events.New(tenantID, events.TypeOrderCreated, map[string]interface{}{"orderId": "o-1"})
	require.NoError(t, err)
	require.NoError(t, infra.DB.Transaction(func(tx *gorm.DB) error {
		return repository.AppendOutboxEventTx(tx, tenantID, "Order", "o-1", ce, 3)
	}))

	logger := testLogger(t)
	producer := events.NewProducer(kafkaInf.Brokers, logger)
	defer producer.Close()
	dispatcher := events.NewOutboxDispatcher(producer)

	publisher := outbox.NewPublisher(repo, dispatcher, outbox.PublisherConfig{
		BatchSize: 10, PollingInterval: 100 * time.Millisecond,
	}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	publisher.Start(ctx)
	defer publisher.Stop()

	require.Eventually(t, func() bool {
		deadLetters, err := repo.DeadLetters(context.Background(), 10)
		if err != nil || len(deadLetters) > 0 {
			return false
		}
		var pending int64
		infra.DB.Model(&repository.OutboxModel{}).Where("status = ?", "PENDING").Count(&pending)
		var published int64
		infra.DB.Model(&repository.OutboxModel{}).Where("status = ?", "PUBLISHED").Count(&published)
		return pending == 0 && published == 1
	}, 15*time.Second, 200*time.Millisecond, "outbox row was not published")
}

// TestSagaOrchestrator_RecoverNonTerminal_ResumesStartedInstance verifies
// crash recovery: a saga instance left STARTED (as if the process died
// mid-execution) is picked up and driven to completion by the recovery
// sweep a fresh orchestrator runs at startup.
func TestSagaOrchestrator_RecoverNonTerminal_ResumesStartedInstance(t *testing.T) {
	infra := setupPostgres(t)
	defer infra.Cleanup()

	sagaRepo := repository.NewSagaRepository(infra.DB)
	logger := testLogger(t)
	orchestrator := saga.NewOrchestrator(sagaRepo, logger)

	var executed int32
	const definitionName = "TEST_RECOVERY_SAGA"
	orchestrator.Register(saga.NewDefinition(definitionName, saga.Step{
		Name: "ONLY_STEP",
		Execute: func(_ context.Context, data map[string]interface{}) (map[string]interface{}, error) {
			executed++
			return map[string]interface{}{"done": true}, nil
		},
		Compensate: func(_ context.Context, _ map[string]interface{}) error { return nil },
	}))

	instanceID := uuid.New().String()
	tenantID := newTenantID()
	now := time.Now().UTC()
	seeded := repository.SagaInstanceModel{
		ID: instanceID, DefinitionName: definitionName, TenantID: tenantID,
		Status: string(saga.StatusStarted), Data: []byte(`{}`), StepResults: []byte(`[]`),
		CurrentStep: 0, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, infra.DB.Create(&seeded).Error)

	recovered, err := orchestrator.RecoverNonTerminal(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)
	assert.EqualValues(t, 1, executed)

	resumed, err := sagaRepo.Get(context.Background(), instanceID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompleted, resumed.Status)
}
