package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	CheckoutOrders   *prometheus.CounterVec
	PaymentOps       *prometheus.CounterVec
	WebhookRejected  prometheus.Counter
	CheckoutDuration prometheus.Histogram
}

func New(service string) *Metrics {
	checkout := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shop",
		Subsystem: service,
		Name:      "checkout_orders_total",
		Help:      "Checkout attempts by result.",
	}, []string{"result"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shop",
		Subsystem: service,
		Name:      "payment_ops_total",
		Help:      "Payment operations by op and result.",
	}, []string{"op", "result"})
	webhook := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shop",
		Subsystem: service,
		Name:      "webhook_rejected_total",
		Help:      "Webhooks rejected on signature check.",
	})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "shop",
		Subsystem: service,
		Name:      "checkout_duration_ms",
		Help:      "CreateOrder latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	prometheus.MustRegister(checkout, payments, webhook, duration)
	return &Metrics{
		CheckoutOrders:   checkout,
		PaymentOps:       payments,
		WebhookRejected:  webhook,
		CheckoutDuration: duration,
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
