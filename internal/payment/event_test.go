package payment_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vecino-labs/backend-vecino/internal/payment"
)

func TestParseEvent(t *testing.T) {
	body := []byte(`{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"created": 1700000000,
		"data": {"object": {"id": "pi_1", "amount": 50000, "currency": "mxn"}}
	}`)

	ev, err := payment.ParseEvent(body)
	require.NoError(t, err)
	require.Equal(t, "evt_1", ev.ID)
	require.Equal(t, payment.EventPaymentSucceeded, ev.Type)

	pay, err := ev.IntentPayload()
	require.NoError(t, err)
	require.Equal(t, "pi_1", pay.ID)
	require.Equal(t, int64(50000), pay.Amount)
}

func TestParseEventRejectsMissingFields(t *testing.T) {
	cases := map[string]string{
		"not JSON":     `{"id": "evt_1"`,
		"missing id":   `{"type": "payment_intent.succeeded"}`,
		"missing type": `{"id": "evt_1"}`,
	}
	for name, body := range cases {
		_, err := payment.ParseEvent([]byte(body))
		require.ErrorIs(t, err, payment.ErrMalformedEvent, name)
	}
}

func TestIntentPayloadRejectsMissingID(t *testing.T) {
	ev, err := payment.ParseEvent([]byte(`{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"data": {"object": {"amount": 100}}
	}`))
	require.NoError(t, err)

	_, err = ev.IntentPayload()
	require.Error(t, err)
}

func TestIntentPayloadHostedVoucherURL(t *testing.T) {
	ev, err := payment.ParseEvent([]byte(`{
		"id": "evt_1",
		"type": "payment_intent.requires_action",
		"data": {"object": {
			"id": "pi_1",
			"amount": 50000,
			"next_action": {"oxxo_display_details": {"hosted_voucher_url": "https://pay.example.com/oxxo/v_1"}}
		}}
	}`))
	require.NoError(t, err)

	pay, err := ev.IntentPayload()
	require.NoError(t, err)
	require.Equal(t, "https://pay.example.com/oxxo/v_1", pay.HostedVoucherURL())
}

func TestChargePayload(t *testing.T) {
	ev, err := payment.ParseEvent([]byte(`{
		"id": "evt_1",
		"type": "charge.refunded",
		"data": {"object": {"id": "ch_1", "payment_intent": "pi_1", "amount_refunded": 15050}}
	}`))
	require.NoError(t, err)

	charge, err := ev.ChargePayload()
	require.NoError(t, err)
	require.Equal(t, "ch_1", charge.ID)
	require.Equal(t, "pi_1", charge.PaymentIntent)
	require.Equal(t, int64(15050), charge.AmountRefunded)
}

func TestMinorToMajor(t *testing.T) {
	cases := map[int64]string{
		0:       "0.00",
		5:       "0.05",
		50:      "0.50",
		100:     "1.00",
		15050:   "150.50",
		50000:   "500.00",
		1234567: "12345.67",
		-15050:  "-150.50",
	}
	for minor, want := range cases {
		require.Equal(t, want, payment.MinorToMajor(minor), "minor %d", minor)
	}
}
