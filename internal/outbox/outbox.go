// Package outbox implements the transactional outbox: an in-transaction
// writer that appends a pending event row alongside an aggregate write,
// and a publisher that claims pending rows with competing-consumer
// safety and at-least-once delivers them to the broker. Grounded on
// nat-prohmpiriya's PostgresOutboxRepository/OutboxWorker (FOR UPDATE
// SKIP LOCKED claim, poll/retry/cleanup loops) and eCo13rus's pkg/outbox
// domain model (PENDING/PROCESSING/PUBLISHED/FAILED lifecycle), reworked
// onto GORM and the engine's CloudEvent envelope.
package outbox

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusPublished Status = "PUBLISHED"
	StatusFailed    Status = "FAILED"
)

// Event is the persisted row for a pending or processed domain event.
type Event struct {
	ID            uuid.UUID
	TenantID      string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	PartitionKey  string
	Payload       []byte
	Status        Status
	RetryCount    int
	MaxRetries    int
	LastError     string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	PublishedAt   *time.Time
}
