package store

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// EventStatus tracks the lifecycle of a persisted webhook event record.
type EventStatus string

const (
	EventStatusProcessing EventStatus = "processing"
	EventStatusCompleted  EventStatus = "completed"
	EventStatusFailed     EventStatus = "failed"
)

// IntentStatus mirrors the provider payment intent lifecycle.
type IntentStatus string

const (
	IntentStatusRequiresAction IntentStatus = "requires_action"
	IntentStatusProcessing     IntentStatus = "processing"
	IntentStatusSucceeded      IntentStatus = "succeeded"
	IntentStatusFailed         IntentStatus = "failed"
	IntentStatusCanceled       IntentStatus = "canceled"
)

// PaymentMethod enumerates the payment channels residents can use.
type PaymentMethod string

const (
	MethodCard PaymentMethod = "card"
	MethodOxxo PaymentMethod = "oxxo"
	MethodSpei PaymentMethod = "spei"
)

// WebhookEvent is the durable idempotency and audit record for one provider event.
type WebhookEvent struct {
	ID            pgtype.UUID
	EventID       string
	EventType     string
	Payload       []byte
	Status        EventStatus
	ErrorMessage  pgtype.Text
	TransactionID pgtype.UUID
	ReceivedAt    pgtype.Timestamptz
	ProcessedAt   pgtype.Timestamptz
}

// PaymentIntent tracks a single attempted payment opened with the provider.
type PaymentIntent struct {
	ID            pgtype.UUID
	ProviderID    string
	Status        IntentStatus
	Method        PaymentMethod
	Amount        int64
	TransactionID pgtype.UUID
	Metadata      map[string]string
	CreatedAt     pgtype.Timestamptz
	UpdatedAt     pgtype.Timestamptz
}
