// Package events builds and parses the CloudEvents 1.0 JSON envelope that
// wraps every domain event published to the broker. The teacher calls
// kafka.NewCloudEvent/ParseCloudEvent from an external, unavailable
// package; this package reimplements that envelope in-module to the exact
// wire shape the engine's external interfaces require.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	specVersion     = "1.0"
	source          = "fluxpay-engine"
	dataContentType = "application/json"
)

// CloudEvent is the wire envelope published to Kafka.
type CloudEvent struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	Type            string          `json:"type"`
	DataContentType string          `json:"datacontenttype"`
	Time            time.Time       `json:"time"`
	TenantID        string          `json:"tenantid"`
	Data            json.RawMessage `json:"data"`
}

// New builds a CloudEvent envelope for the given domain event type
// (e.g. "payment.approved" becomes "com.fluxpay.payment.approved") and
// tenant, serializing data as the envelope's data field.
func New(tenantID, eventType string, data interface{}) (CloudEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return CloudEvent{}, fmt.Errorf("events: failed to marshal event data: %w", err)
	}
	return CloudEvent{
		SpecVersion:     specVersion,
		ID:              uuid.New().String(),
		Source:          source,
		Type:            "com.fluxpay." + eventType,
		DataContentType: dataContentType,
		Time:            time.Now().UTC(),
		TenantID:        tenantID,
		Data:            raw,
	}, nil
}

// ParseData unmarshals the envelope's data field into dst.
func (ce CloudEvent) ParseData(dst interface{}) error {
	return json.Unmarshal(ce.Data, dst)
}

// Parse decodes a raw CloudEvent JSON payload, as read off the broker.
func Parse(raw []byte) (CloudEvent, error) {
	var ce CloudEvent
	if err := json.Unmarshal(raw, &ce); err != nil {
		return CloudEvent{}, fmt.Errorf("events: failed to parse cloud event: %w", err)
	}
	return ce, nil
}

// Marshal serializes the envelope to the JSON bytes placed on the wire.
func (ce CloudEvent) Marshal() ([]byte, error) {
	return json.Marshal(ce)
}

// Topic returns the broker topic for the given aggregate type, per the
// engine's `fluxpay.<aggregateType-lowercase>.events` naming rule.
func Topic(aggregateType string) string {
	return fmt.Sprintf("fluxpay.%s.events", strings.ToLower(aggregateType))
}

// PartitionKey returns the broker partition key for a tenant/aggregate
// pair, guaranteeing per-aggregate ordering.
func PartitionKey(tenantID, aggregateID string) string {
	return tenantID + ":" + aggregateID
}

// Event type constants used by the payment saga and refund flow.
const (
	TypeOrderCreated     = "order.created"
	TypeOrderCancelled   = "order.cancelled"
	TypeOrderCompleted   = "order.completed"
	TypePaymentApproved  = "payment.approved"
	TypePaymentConfirmed = "payment.confirmed"
	TypePaymentFailed    = "payment.failed"
	TypeRefundRequested  = "refund.requested"
	TypeRefundCompleted  = "refund.completed"
	TypeRefundFailed     = "refund.failed"
)
