package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vecino-labs/backend-vecino/internal/common"
)

// ErrDuplicateEvent is returned when an event identifier has already been recorded.
// The unique constraint on webhook_events.event_id is the sole duplicate-detection
// mechanism; callers must not pre-check existence with a separate read.
var ErrDuplicateEvent = errors.New("store: duplicate webhook event")

// ErrIntentNotFound is returned when no payment intent matches the provider identifier.
var ErrIntentNotFound = errors.New("store: payment intent not found")

// Store provides Postgres persistence for webhook processing.
type Store struct {
	Pool *pgxpool.Pool
}

// New constructs a Store backed by the given pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// InsertWebhookEvent atomically records a new inbound event with status processing.
// A unique violation on the event identifier is reported as ErrDuplicateEvent.
func (s *Store) InsertWebhookEvent(ctx context.Context, eventID, eventType string, payload []byte) error {
	if len(payload) == 0 || !json.Valid(payload) {
		payload = []byte("{}")
	}
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO webhook_events (event_id, event_type, payload, status)
		 VALUES ($1, $2, $3, 'processing')`,
		eventID, eventType, payload)
	if err != nil {
		if common.IsUniqueViolation(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

// FinalizeWebhookEventParams captures the terminal outcome written back onto the event record.
type FinalizeWebhookEventParams struct {
	EventID       string
	Status        EventStatus
	ErrorMessage  string
	TransactionID pgtype.UUID
}

// FinalizeWebhookEvent writes the terminal status, error detail and linked transaction
// onto the persisted event record.
func (s *Store) FinalizeWebhookEvent(ctx context.Context, arg FinalizeWebhookEventParams) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE webhook_events
		 SET status = $2, error_message = NULLIF($3, ''), transaction_id = $4, processed_at = now()
		 WHERE event_id = $1`,
		arg.EventID, string(arg.Status), arg.ErrorMessage, arg.TransactionID)
	if err != nil {
		return fmt.Errorf("finalize webhook event: %w", err)
	}
	return nil
}

// GetWebhookEvent fetches the audit record for an event identifier.
func (s *Store) GetWebhookEvent(ctx context.Context, eventID string) (WebhookEvent, error) {
	var ev WebhookEvent
	err := s.Pool.QueryRow(ctx,
		`SELECT id, event_id, event_type, payload, status, error_message, transaction_id, received_at, processed_at
		 FROM webhook_events WHERE event_id = $1`,
		eventID).Scan(&ev.ID, &ev.EventID, &ev.EventType, &ev.Payload, &ev.Status,
		&ev.ErrorMessage, &ev.TransactionID, &ev.ReceivedAt, &ev.ProcessedAt)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("get webhook event: %w", err)
	}
	return ev, nil
}

// GetPaymentIntent loads the payment intent tracked for a provider identifier.
func (s *Store) GetPaymentIntent(ctx context.Context, providerID string) (PaymentIntent, error) {
	var pi PaymentIntent
	err := s.Pool.QueryRow(ctx,
		`SELECT id, provider_intent_id, status, method, amount, transaction_id, metadata, created_at, updated_at
		 FROM payment_intents WHERE provider_intent_id = $1`,
		providerID).Scan(&pi.ID, &pi.ProviderID, &pi.Status, &pi.Method, &pi.Amount,
		&pi.TransactionID, &pi.Metadata, &pi.CreatedAt, &pi.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentIntent{}, ErrIntentNotFound
		}
		return PaymentIntent{}, fmt.Errorf("get payment intent: %w", err)
	}
	return pi, nil
}

// UpdatePaymentIntentStatus moves the intent to the given status.
func (s *Store) UpdatePaymentIntentStatus(ctx context.Context, providerID string, status IntentStatus) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE payment_intents SET status = $2, updated_at = now() WHERE provider_intent_id = $1`,
		providerID, string(status))
	if err != nil {
		return fmt.Errorf("update payment intent status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// UpdatePaymentIntentAction writes the status together with the already-merged metadata
// map. Callers are responsible for the read-merge step so unrelated keys survive.
func (s *Store) UpdatePaymentIntentAction(ctx context.Context, providerID string, status IntentStatus, metadata map[string]string) error {
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode intent metadata: %w", err)
	}
	tag, err := s.Pool.Exec(ctx,
		`UPDATE payment_intents SET status = $2, metadata = $3, updated_at = now() WHERE provider_intent_id = $1`,
		providerID, string(status), encoded)
	if err != nil {
		return fmt.Errorf("update payment intent action: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// SetPaymentIntentTransaction links the posted ledger transaction onto the intent.
func (s *Store) SetPaymentIntentTransaction(ctx context.Context, providerID string, txID pgtype.UUID) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE payment_intents SET transaction_id = $2, updated_at = now() WHERE provider_intent_id = $1`,
		providerID, txID)
	if err != nil {
		return fmt.Errorf("set payment intent transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// PostResidentPaymentParams carries everything the ledger function needs to post one payment.
type PostResidentPaymentParams struct {
	CommunityID string
	UnitID      string
	Amount      string // major units, e.g. "500.00"
	PaidAt      time.Time
	Description string
	Actor       string
}

// PostResidentPayment invokes the atomic ledger-posting function. The returned UUID is
// invalid when the function declined to post; callers treat that as a failure.
func (s *Store) PostResidentPayment(ctx context.Context, arg PostResidentPaymentParams) (pgtype.UUID, error) {
	var txID pgtype.UUID
	err := s.Pool.QueryRow(ctx,
		`SELECT post_resident_payment($1::uuid, $2::uuid, $3::numeric, $4, $5, $6)`,
		arg.CommunityID, arg.UnitID, arg.Amount, arg.PaidAt, arg.Description, arg.Actor).Scan(&txID)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("post resident payment: %w", err)
	}
	return txID, nil
}

// NextReceiptNumber returns the next human-facing receipt number for a community.
func (s *Store) NextReceiptNumber(ctx context.Context, communityID string) (int64, error) {
	var n int64
	err := s.Pool.QueryRow(ctx,
		`SELECT next_receipt_number($1::uuid)`, communityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("next receipt number: %w", err)
	}
	return n, nil
}

// InsertReceiptParams describes one receipt row keyed by the ledger transaction.
type InsertReceiptParams struct {
	TransactionID pgtype.UUID
	CommunityID   string
	Number        int64
	Amount        string
}

// InsertReceipt records the human-facing receipt. The caller decides how to treat a
// unique violation on the transaction identifier (an already-issued receipt).
func (s *Store) InsertReceipt(ctx context.Context, arg InsertReceiptParams) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO receipts (transaction_id, community_id, receipt_number, amount)
		 VALUES ($1, $2::uuid, $3, $4::numeric)`,
		arg.TransactionID, arg.CommunityID, arg.Number, arg.Amount)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

// ResidentDeviceToken resolves the freshest push token registered for a resident.
func (s *Store) ResidentDeviceToken(ctx context.Context, residentID string) (string, error) {
	var token string
	err := s.Pool.QueryRow(ctx,
		`SELECT device_token FROM resident_devices
		 WHERE resident_id = $1::uuid ORDER BY updated_at DESC LIMIT 1`,
		residentID).Scan(&token)
	if err != nil {
		return "", fmt.Errorf("resident device token: %w", err)
	}
	return token, nil
}
