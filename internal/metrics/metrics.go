// Package metrics exports SMTP session events as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shineum/smtp-gateway/internal/delivery"
	"github.com/shineum/smtp-gateway/internal/smtp"
)

// Observer implements smtp.Observer by updating Prometheus collectors.
type Observer struct {
	sessionsOpen     prometheus.Gauge
	authentication   *prometheus.CounterVec
	rejected         *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	recipients       prometheus.Counter
}

// NewObserver registers the gateway's collectors with reg.
func NewObserver(reg prometheus.Registerer) *Observer {
	factory := promauto.With(reg)
	return &Observer{
		sessionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "smtpgw_sessions_open",
			Help: "SMTP sessions currently open.",
		}),
		authentication: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smtpgw_authentication_total",
				Help: "Authentication attempts and results.",
			},
			[]string{
				"result", // ok, unknown_tenant, bad_secret, lookup_error, empty_credentials
			},
		),
		rejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smtpgw_messages_rejected_total",
				Help: "Messages rejected before delivery.",
			},
			[]string{
				"reason", // not_authenticated, context_missing, parse_error, missing_parameters, no_recipients
			},
		),
		deliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smtpgw_deliveries_total",
				Help: "Delivery attempts and results.",
			},
			[]string{
				"result", // ok, temporary, permanent
			},
		),
		deliveryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "smtpgw_delivery_duration_seconds",
				Help:    "Delivery backend call duration.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"result"},
		),
		recipients: factory.NewCounter(prometheus.CounterOpts{
			Name: "smtpgw_delivered_recipients_total",
			Help: "Recipients of successfully delivered messages.",
		}),
	}
}

var _ smtp.Observer = (*Observer)(nil)

func (o *Observer) SessionOpened(smtp.SessionInfo) {
	o.sessionsOpen.Inc()
}

func (o *Observer) SessionClosed(smtp.SessionInfo) {
	o.sessionsOpen.Dec()
}

func (o *Observer) AuthSucceeded(smtp.SessionInfo) {
	o.authentication.WithLabelValues("ok").Inc()
}

func (o *Observer) AuthFailed(_ smtp.SessionInfo, _, reason string, _ error) {
	o.authentication.WithLabelValues(reason).Inc()
}

func (o *Observer) MessageRejected(_ smtp.SessionInfo, reason string, _ error) {
	o.rejected.WithLabelValues(reason).Inc()
}

func (o *Observer) DeliveryStarted(smtp.SessionInfo, []string) {}

func (o *Observer) DeliverySucceeded(_ smtp.SessionInfo, recipients []string, _ *delivery.Result, elapsed time.Duration) {
	o.deliveries.WithLabelValues("ok").Inc()
	o.deliveryDuration.WithLabelValues("ok").Observe(elapsed.Seconds())
	o.recipients.Add(float64(len(recipients)))
}

func (o *Observer) DeliveryFailed(_ smtp.SessionInfo, _ []string, err error, elapsed time.Duration) {
	result := "permanent"
	if delivery.IsTemporary(err) {
		result = "temporary"
	}
	o.deliveries.WithLabelValues(result).Inc()
	o.deliveryDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return mux
}

// ListenAndServe serves Handler(g) on addr until the context is cancelled.
func ListenAndServe(ctx context.Context, addr string, g prometheus.Gatherer) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(g),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown", "error", err)
		}
	}()

	slog.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
