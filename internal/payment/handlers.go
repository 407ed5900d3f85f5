package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vecino-labs/backend-vecino/internal/common"
	"github.com/vecino-labs/backend-vecino/internal/obs"
	"github.com/vecino-labs/backend-vecino/internal/store"
)

// bestEffort runs a non-critical step. Failures are logged and swallowed; they must
// never flip a handler's overall result.
func (h *Webhook) bestEffort(ctx context.Context, eventID, step string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		h.Logger.Warn().
			Err(err).
			Str("event_id", eventID).
			Str("step", step).
			Msg("best-effort step failed")
	}
}

// requireMeta pulls a required platform key out of the intent metadata.
func requireMeta(meta map[string]string, key string) (string, error) {
	value := strings.TrimSpace(meta[key])
	if value == "" {
		return "", fmt.Errorf("event metadata missing %s", key)
	}
	return value, nil
}

func paymentDescription(method store.PaymentMethod) string {
	switch method {
	case store.MethodOxxo:
		return "Pago de mantenimiento (OXXO)"
	case store.MethodSpei:
		return "Pago de mantenimiento (transferencia SPEI)"
	default:
		return "Pago de mantenimiento (tarjeta)"
	}
}

// handleSucceeded applies the financial effect of a completed payment. Everything up
// to and including the transaction link is critical; receipt and notification are
// best-effort.
func (h *Webhook) handleSucceeded(ctx context.Context, ev Event) Result {
	pay, err := ev.IntentPayload()
	if err != nil {
		return failure(err)
	}

	if err := h.Store.UpdatePaymentIntentStatus(ctx, pay.ID, store.IntentStatusSucceeded); err != nil {
		return failure(fmt.Errorf("mark intent succeeded: %w", err))
	}
	intent, err := h.Store.GetPaymentIntent(ctx, pay.ID)
	if err != nil {
		return failure(fmt.Errorf("load intent: %w", err))
	}

	communityID, err := requireMeta(pay.Metadata, metaCommunityID)
	if err != nil {
		return failure(err)
	}
	unitID, err := requireMeta(pay.Metadata, metaUnitID)
	if err != nil {
		return failure(err)
	}
	residentID := strings.TrimSpace(pay.Metadata[metaResidentID])

	paidAt := pay.Created
	if paidAt == 0 {
		paidAt = ev.Created
	}
	amount := MinorToMajor(pay.Amount)

	txID, err := h.Store.PostResidentPayment(ctx, store.PostResidentPaymentParams{
		CommunityID: communityID,
		UnitID:      unitID,
		Amount:      amount,
		PaidAt:      time.Unix(paidAt, 0).UTC(),
		Description: paymentDescription(intent.Method),
		Actor:       h.LedgerActor,
	})
	if err != nil {
		if obs.LedgerPostTotal != nil {
			obs.LedgerPostTotal.WithLabelValues("error").Inc()
		}
		return failure(fmt.Errorf("post payment to ledger: %w", err))
	}
	if !txID.Valid {
		if obs.LedgerPostTotal != nil {
			obs.LedgerPostTotal.WithLabelValues("declined").Inc()
		}
		return failure(errors.New("ledger posting returned no transaction"))
	}
	if obs.LedgerPostTotal != nil {
		obs.LedgerPostTotal.WithLabelValues("posted").Inc()
	}

	if err := h.Store.SetPaymentIntentTransaction(ctx, pay.ID, txID); err != nil {
		return failure(fmt.Errorf("link transaction to intent: %w", err))
	}

	h.bestEffort(ctx, ev.ID, "receipt", func(ctx context.Context) error {
		number, err := h.Store.NextReceiptNumber(ctx, communityID)
		if err != nil {
			return err
		}
		err = h.Store.InsertReceipt(ctx, store.InsertReceiptParams{
			TransactionID: txID,
			CommunityID:   communityID,
			Number:        number,
			Amount:        amount,
		})
		if err != nil && common.IsUniqueViolation(err) {
			// Receipt already issued for this transaction, e.g. a retried step.
			return nil
		}
		return err
	})

	if residentID != "" && h.Push != nil {
		h.bestEffort(ctx, ev.ID, "push", func(ctx context.Context) error {
			token, err := h.Store.ResidentDeviceToken(ctx, residentID)
			if err != nil {
				return err
			}
			return h.Push.Send(ctx, token,
				"Pago recibido",
				fmt.Sprintf("Tu pago de $%s MXN fue aplicado a tu unidad.", amount))
		})
	}

	return Result{Success: true, TransactionID: txID}
}

// handleFailed marks the intent failed and, for OXXO payments, warns the resident
// their voucher likely expired.
func (h *Webhook) handleFailed(ctx context.Context, ev Event) Result {
	pay, err := ev.IntentPayload()
	if err != nil {
		return failure(err)
	}
	if err := h.Store.UpdatePaymentIntentStatus(ctx, pay.ID, store.IntentStatusFailed); err != nil {
		return failure(fmt.Errorf("mark intent failed: %w", err))
	}

	h.bestEffort(ctx, ev.ID, "oxxo-expiry-notice", func(ctx context.Context) error {
		intent, err := h.Store.GetPaymentIntent(ctx, pay.ID)
		if err != nil {
			return err
		}
		if intent.Method != store.MethodOxxo || h.Push == nil {
			return nil
		}
		residentID := strings.TrimSpace(pay.Metadata[metaResidentID])
		if residentID == "" {
			return nil
		}
		token, err := h.Store.ResidentDeviceToken(ctx, residentID)
		if err != nil {
			return err
		}
		return h.Push.Send(ctx, token,
			"Pago no completado",
			"Tu ficha de pago OXXO expiró. Genera una nueva desde la app.")
	})

	return Result{Success: true}
}

func (h *Webhook) handleCanceled(ctx context.Context, ev Event) Result {
	pay, err := ev.IntentPayload()
	if err != nil {
		return failure(err)
	}
	if err := h.Store.UpdatePaymentIntentStatus(ctx, pay.ID, store.IntentStatusCanceled); err != nil {
		return failure(fmt.Errorf("mark intent canceled: %w", err))
	}
	return Result{Success: true}
}

// handleRequiresAction merges the hosted voucher URL into the intent metadata. The
// read-merge-write keeps keys written by earlier handlers intact; a blind overwrite
// would destroy them.
func (h *Webhook) handleRequiresAction(ctx context.Context, ev Event) Result {
	pay, err := ev.IntentPayload()
	if err != nil {
		return failure(err)
	}
	intent, err := h.Store.GetPaymentIntent(ctx, pay.ID)
	if err != nil {
		return failure(fmt.Errorf("load intent: %w", err))
	}

	merged := make(map[string]string, len(intent.Metadata)+1)
	for k, v := range intent.Metadata {
		merged[k] = v
	}
	if url := pay.HostedVoucherURL(); url != "" {
		merged[metaHostedVoucherURL] = url
	}

	if err := h.Store.UpdatePaymentIntentAction(ctx, pay.ID, store.IntentStatusRequiresAction, merged); err != nil {
		return failure(fmt.Errorf("update intent action: %w", err))
	}
	return Result{Success: true}
}

func (h *Webhook) handleProcessing(ctx context.Context, ev Event) Result {
	pay, err := ev.IntentPayload()
	if err != nil {
		return failure(err)
	}
	if err := h.Store.UpdatePaymentIntentStatus(ctx, pay.ID, store.IntentStatusProcessing); err != nil {
		return failure(fmt.Errorf("mark intent processing: %w", err))
	}
	return Result{Success: true}
}

// handleRefunded records the refund for manual reconciliation. Ledger reversal is a
// deferred capability; this handler never fails the event over a lookup problem.
func (h *Webhook) handleRefunded(ctx context.Context, ev Event) Result {
	charge, err := ev.ChargePayload()
	if err != nil {
		return failure(err)
	}
	if charge.PaymentIntent == "" {
		h.Logger.Warn().
			Str("event_id", ev.ID).
			Str("charge_id", charge.ID).
			Msg("refund without linked payment intent")
		return Result{Success: true}
	}
	intent, err := h.Store.GetPaymentIntent(ctx, charge.PaymentIntent)
	if err != nil {
		h.Logger.Warn().
			Err(err).
			Str("event_id", ev.ID).
			Str("provider_intent_id", charge.PaymentIntent).
			Msg("refund for unknown payment intent")
		return Result{Success: true}
	}
	h.Logger.Info().
		Str("event_id", ev.ID).
		Str("provider_intent_id", intent.ProviderID).
		Str("refunded_amount", MinorToMajor(charge.AmountRefunded)).
		Msg("refund received; manual ledger reconciliation required")
	return Result{Success: true}
}
