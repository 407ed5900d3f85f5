package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vecino-labs/backend-vecino/internal/common"
	"github.com/vecino-labs/backend-vecino/internal/obs"
	"github.com/vecino-labs/backend-vecino/internal/store"
)

// Store is the persistence surface the webhook needs. The unique insert in
// InsertWebhookEvent is the single serialization point for duplicate delivery;
// there is no in-process locking anywhere in this package.
type Store interface {
	InsertWebhookEvent(ctx context.Context, eventID, eventType string, payload []byte) error
	FinalizeWebhookEvent(ctx context.Context, arg store.FinalizeWebhookEventParams) error
	GetWebhookEvent(ctx context.Context, eventID string) (store.WebhookEvent, error)
	GetPaymentIntent(ctx context.Context, providerID string) (store.PaymentIntent, error)
	UpdatePaymentIntentStatus(ctx context.Context, providerID string, status store.IntentStatus) error
	UpdatePaymentIntentAction(ctx context.Context, providerID string, status store.IntentStatus, metadata map[string]string) error
	SetPaymentIntentTransaction(ctx context.Context, providerID string, txID pgtype.UUID) error
	PostResidentPayment(ctx context.Context, arg store.PostResidentPaymentParams) (pgtype.UUID, error)
	NextReceiptNumber(ctx context.Context, communityID string) (int64, error)
	InsertReceipt(ctx context.Context, arg store.InsertReceiptParams) error
	ResidentDeviceToken(ctx context.Context, residentID string) (string, error)
}

// Pusher dispatches a push notification to a resident device. Its failure mode is
// independent of webhook processing and must never affect the endpoint's outcome.
type Pusher interface {
	Send(ctx context.Context, deviceToken, title, body string) error
}

// Result is what an event handler reports back for the outcome record.
type Result struct {
	Success       bool
	TransactionID pgtype.UUID
	ErrorDetail   string
}

func failure(err error) Result {
	return Result{ErrorDetail: err.Error()}
}

// Webhook handles payment provider callbacks: signature verification, idempotent
// event recording, per-event-type handling and outcome persistence.
type Webhook struct {
	Store       Store
	Push        Pusher
	Secret      string
	Tolerance   time.Duration
	LedgerActor string
	Logger      zerolog.Logger

	// now is swappable in tests for signature freshness checks.
	now func() time.Time
}

func (h *Webhook) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

// Handle processes one provider callback. Once the event is durably recorded the
// response is always 200: a non-success answer would make the provider redeliver an
// event we already captured, and remediation of handler failures happens out of band
// from the stored failed status.
func (h *Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "WEBHOOK_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	if r.Method != http.MethodPost {
		common.JSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
		return
	}
	ctx, span := otel.Tracer("payment.Webhook").Start(r.Context(), "PaymentWebhook.Handle")
	defer span.End()

	result := "error"
	defer func() {
		if obs.PaymentWebhookTotal != nil {
			obs.PaymentWebhookTotal.WithLabelValues(result).Inc()
		}
	}()

	// The raw bytes feed the signature computation; re-serialising a parsed form
	// would change the byte sequence and break verification.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		result = "bad_request"
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}

	header := r.Header.Get(SignatureHeader)
	if header == "" {
		h.Logger.Warn().Str("reason", "missing_signature_header").Msg("webhook rejected")
		result = "rejected"
		h.reject(w)
		return
	}
	if err := VerifySignature(body, header, h.Secret, h.Tolerance, h.clock()); err != nil {
		// The precise reason stays in the logs; the caller sees one generic message
		// so failed forgeries learn nothing about which check tripped.
		h.Logger.Warn().Err(err).Str("reason", rejectReason(err)).Msg("webhook rejected")
		result = "rejected"
		h.reject(w)
		return
	}

	ev, err := ParseEvent(body)
	if err != nil {
		h.Logger.Warn().Err(err).Str("reason", "malformed_payload").Msg("webhook rejected")
		result = "malformed"
		h.reject(w)
		return
	}
	span.SetAttributes(
		attribute.String("payment.event_id", ev.ID),
		attribute.String("payment.event_type", string(ev.Type)),
	)

	if err := h.Store.InsertWebhookEvent(ctx, ev.ID, string(ev.Type), body); err != nil {
		if errors.Is(err, store.ErrDuplicateEvent) {
			entry := h.Logger.Info().
				Str("event_id", ev.ID).
				Str("payload_sha256", common.Sha256Hex(string(body)))
			if prior, lookupErr := h.Store.GetWebhookEvent(ctx, ev.ID); lookupErr == nil {
				entry = entry.Str("original_status", string(prior.Status))
			}
			entry.Msg("duplicate webhook event")
			result = "duplicate"
			common.JSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
			return
		}
		// Infrastructure fault before the idempotency checkpoint: tell the provider
		// to retry, nothing has been applied yet.
		h.Logger.Error().Err(err).Str("event_id", ev.ID).Msg("record webhook event")
		result = "store_error"
		common.JSONError(w, http.StatusInternalServerError, "EVENT_STORE_ERROR", "unable to record event", nil)
		return
	}

	res := h.process(ctx, ev)

	status := store.EventStatusCompleted
	if !res.Success {
		status = store.EventStatusFailed
		h.Logger.Error().
			Str("event_id", ev.ID).
			Str("event_type", string(ev.Type)).
			Str("error", res.ErrorDetail).
			Msg("webhook event failed")
	}
	if err := h.Store.FinalizeWebhookEvent(ctx, store.FinalizeWebhookEventParams{
		EventID:       ev.ID,
		Status:        status,
		ErrorMessage:  res.ErrorDetail,
		TransactionID: res.TransactionID,
	}); err != nil {
		h.Logger.Error().Err(err).Str("event_id", ev.ID).Msg("finalize webhook event")
	}
	if obs.WebhookEventTotal != nil {
		obs.WebhookEventTotal.WithLabelValues(string(ev.Type), string(status)).Inc()
	}

	result = "accepted"
	common.JSON(w, http.StatusOK, map[string]any{"received": true})
}

// reject sends the single generic authentication-failure response.
func (h *Webhook) reject(w http.ResponseWriter) {
	common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", "webhook verification failed", nil)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrMalformedSignature):
		return "malformed_signature_header"
	case errors.Is(err, ErrStaleTimestamp):
		return "stale_timestamp"
	case errors.Is(err, ErrSignatureMismatch):
		return "signature_mismatch"
	default:
		return "verification_error"
	}
}

// process routes a recorded event to its handler. Panics are converted into failure
// results here so a bad payload can never take the endpoint down.
func (h *Webhook) process(ctx context.Context, ev Event) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = Result{ErrorDetail: fmt.Sprintf("handler panic: %v", p)}
		}
	}()

	switch ev.Type {
	case EventPaymentSucceeded:
		return h.handleSucceeded(ctx, ev)
	case EventPaymentFailed:
		return h.handleFailed(ctx, ev)
	case EventPaymentCanceled:
		return h.handleCanceled(ctx, ev)
	case EventPaymentRequiresAction:
		return h.handleRequiresAction(ctx, ev)
	case EventPaymentProcessing:
		return h.handleProcessing(ctx, ev)
	case EventChargeRefunded:
		return h.handleRefunded(ctx, ev)
	default:
		// Provider event catalogs evolve; unknown types must not break the endpoint.
		h.Logger.Info().
			Str("event_id", ev.ID).
			Str("event_type", string(ev.Type)).
			Msg("unhandled webhook event type")
		return Result{Success: true}
	}
}
