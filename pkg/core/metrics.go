package core

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/oceanbase/tiermem-go/pkg/core"

// Metrics holds the Prometheus collectors of the engine. A nil *Metrics
// records nothing.
type Metrics struct {
	operations    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	stores        *prometheus.CounterVec
	consolidation *prometheus.CounterVec
	forgotten     *prometheus.CounterVec
	background    *prometheus.CounterVec
}

// NewMetrics creates the engine collectors and registers them with reg.
// Collectors already registered under the same name are reused, so several
// clients can share one registry.
//
// Example:
//
//	metrics, _ := core.NewMetrics("tiermem", prometheus.DefaultRegisterer)
//	client, _ := core.New(store, emb, core.WithMetrics(metrics))
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = "tiermem"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{}
	var err error
	if m.operations, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Engine operations by name and status.",
	}, []string{"op", "status"})); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Engine operation latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})); err != nil {
		return nil, err
	}
	if m.stores, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_outcomes_total",
		Help:      "Store calls by outcome: created, reinforced or rejected.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if m.consolidation, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "consolidation_actions_total",
		Help:      "Applied consolidation actions.",
	}, []string{"action"})); err != nil {
		return nil, err
	}
	if m.forgotten, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "forgotten_total",
		Help:      "Memories removed by forget, by mode.",
	}, []string{"mode"})); err != nil {
		return nil, err
	}
	if m.background, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "background_failures_total",
		Help:      "Failed fire-and-forget tasks.",
	}, []string{"task"})); err != nil {
		return nil, err
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) observeOp(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	switch {
	case errors.Is(err, ErrMemoryRejected):
		status = "rejected"
	case err != nil:
		status = "error"
	}
	m.operations.WithLabelValues(op, status).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeStore(outcome string) {
	if m == nil {
		return
	}
	m.stores.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeConsolidation(res *ConsolidationResult) {
	if m == nil || res.DryRun {
		return
	}
	m.consolidation.WithLabelValues("promote").Add(float64(res.Promoted))
	m.consolidation.WithLabelValues("demote").Add(float64(res.Demoted))
	m.consolidation.WithLabelValues("archive").Add(float64(res.Archived))
	m.consolidation.WithLabelValues("merge").Add(float64(res.Merged))
	m.consolidation.WithLabelValues("delete").Add(float64(res.Deleted))
	m.consolidation.WithLabelValues("keep").Add(float64(res.Kept))
}

func (m *Metrics) observeForget(n int, hard bool) {
	if m == nil {
		return
	}
	mode := "soft"
	if hard {
		mode = "hard"
	}
	m.forgotten.WithLabelValues(mode).Add(float64(n))
}

func (m *Metrics) observeBackgroundFailure(task string) {
	if m == nil {
		return
	}
	m.background.WithLabelValues(task).Inc()
}

// begin opens a span and starts the latency clock of an operation. The
// returned function ends both; pass it the operation's final error.
func (c *Client) begin(ctx context.Context, op, tenantID, userID string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "tiermem."+op, trace.WithAttributes(
		attribute.String("tiermem.tenant_id", tenantID),
		attribute.String("tiermem.user_id", userID),
	))
	return ctx, func(err error) {
		if err != nil && !errors.Is(err, ErrMemoryRejected) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		c.metrics.observeOp(op, start, err)
	}
}
