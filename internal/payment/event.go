package payment

import (
	"encoding/json"
	"errors"
	"fmt"

	validator "github.com/go-playground/validator/v10"
)

// EventType tags the provider event envelope.
type EventType string

const (
	EventPaymentSucceeded      EventType = "payment_intent.succeeded"
	EventPaymentFailed         EventType = "payment_intent.payment_failed"
	EventPaymentCanceled       EventType = "payment_intent.canceled"
	EventPaymentRequiresAction EventType = "payment_intent.requires_action"
	EventPaymentProcessing     EventType = "payment_intent.processing"
	EventChargeRefunded        EventType = "charge.refunded"
)

// Metadata keys the platform stamps onto every payment intent at creation time.
const (
	metaCommunityID      = "community_id"
	metaUnitID           = "unit_id"
	metaResidentID       = "resident_id"
	metaHostedVoucherURL = "hosted_voucher_url"
)

// ErrMalformedEvent indicates the verified body could not be decoded into an event
// envelope. Distinct from signature failures so alerting can tell forgery attempts
// apart from provider contract drift.
var ErrMalformedEvent = errors.New("payment: malformed event payload")

var validate = validator.New()

// Event is the provider's event envelope. Immutable once received; used only for
// routing and payload extraction.
type Event struct {
	ID      string    `json:"id" validate:"required"`
	Type    EventType `json:"type" validate:"required"`
	Created int64     `json:"created"`
	Data    EventData `json:"data"`
}

// EventData wraps the nested, event-type-specific payload object.
type EventData struct {
	Object json.RawMessage `json:"object"`
}

// ParseEvent decodes and validates the envelope. Callers must only invoke this after
// signature verification succeeded on the exact same bytes.
func ParseEvent(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := validate.Struct(ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return ev, nil
}

// IntentPayload is the payment_intent object schema shared by the intent-lifecycle
// events. Amounts are in minor units (centavos).
type IntentPayload struct {
	ID       string            `json:"id" validate:"required"`
	Amount   int64             `json:"amount" validate:"gte=0"`
	Currency string            `json:"currency"`
	Created  int64             `json:"created"`
	Metadata map[string]string `json:"metadata"`

	NextAction *NextAction `json:"next_action"`
}

// NextAction holds provider instructions for payments that need a customer step.
type NextAction struct {
	OxxoDisplayDetails *OxxoDisplayDetails `json:"oxxo_display_details"`
}

// OxxoDisplayDetails points the resident at their printable OXXO voucher.
type OxxoDisplayDetails struct {
	HostedVoucherURL string `json:"hosted_voucher_url"`
	ExpiresAfter     int64  `json:"expires_after"`
}

// HostedVoucherURL extracts the voucher link if the provider attached one.
func (p IntentPayload) HostedVoucherURL() string {
	if p.NextAction == nil || p.NextAction.OxxoDisplayDetails == nil {
		return ""
	}
	return p.NextAction.OxxoDisplayDetails.HostedVoucherURL
}

// IntentPayload decodes data.object as a payment intent and validates the schema.
// A decode failure here is a handler failure, not a transport failure.
func (e Event) IntentPayload() (IntentPayload, error) {
	var p IntentPayload
	if err := json.Unmarshal(e.Data.Object, &p); err != nil {
		return IntentPayload{}, fmt.Errorf("decode payment intent payload: %w", err)
	}
	if err := validate.Struct(p); err != nil {
		return IntentPayload{}, fmt.Errorf("invalid payment intent payload: %w", err)
	}
	return p, nil
}

// ChargePayload is the charge object schema carried by refund events.
type ChargePayload struct {
	ID             string `json:"id" validate:"required"`
	PaymentIntent  string `json:"payment_intent"`
	AmountRefunded int64  `json:"amount_refunded"`
}

// ChargePayload decodes data.object as a charge and validates the schema.
func (e Event) ChargePayload() (ChargePayload, error) {
	var p ChargePayload
	if err := json.Unmarshal(e.Data.Object, &p); err != nil {
		return ChargePayload{}, fmt.Errorf("decode charge payload: %w", err)
	}
	if err := validate.Struct(p); err != nil {
		return ChargePayload{}, fmt.Errorf("invalid charge payload: %w", err)
	}
	return p, nil
}
