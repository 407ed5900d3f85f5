package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentWebhookTotal counts inbound payment webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// WebhookEventTotal counts handled provider events by type and terminal status.
	WebhookEventTotal *prometheus.CounterVec
	// LedgerPostTotal counts ledger posting attempts by result.
	LedgerPostTotal *prometheus.CounterVec
	// PushDispatchTotal counts push notification dispatch outcomes.
	PushDispatchTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of inbound payment webhooks by outcome.",
		}, []string{"result"})
		WebhookEventTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_event_total",
			Help:      "Count of processed provider events by type and terminal status.",
		}, []string{"event_type", "status"})
		LedgerPostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_post_total",
			Help:      "Count of ledger posting attempts by result.",
		}, []string{"result"})
		PushDispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_dispatch_total",
			Help:      "Count of push notification dispatch outcomes.",
		}, []string{"result"})

		mustRegisterCollector(reg, PaymentWebhookTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentWebhookTotal = v
			}
		})
		mustRegisterCollector(reg, WebhookEventTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				WebhookEventTotal = v
			}
		})
		mustRegisterCollector(reg, LedgerPostTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				LedgerPostTotal = v
			}
		})
		mustRegisterCollector(reg, PushDispatchTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PushDispatchTotal = v
			}
		})
	})
}
