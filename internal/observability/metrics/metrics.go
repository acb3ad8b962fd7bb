package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	needsCreated       metric.Int64Counter
	matchesRecorded    metric.Int64Counter
	matchedQuantity    metric.Int64Counter
	needTransitions    metric.Int64Counter
	transitionRejected metric.Int64Counter
	batchEvents        metric.Int64Counter
	batchMembers       metric.Int64Histogram
	inconsistentBatch  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "needflow"
	}
	meter := provider.Meter(name)

	needsCreated, err := meter.Int64Counter("needflow_needs_created_total")
	if err != nil {
		return nil, err
	}
	matchesRecorded, err := meter.Int64Counter("needflow_matches_recorded_total")
	if err != nil {
		return nil, err
	}
	matchedQuantity, err := meter.Int64Counter("needflow_matched_quantity_total")
	if err != nil {
		return nil, err
	}
	needTransitions, err := meter.Int64Counter("needflow_need_transitions_total")
	if err != nil {
		return nil, err
	}
	transitionRejected, err := meter.Int64Counter("needflow_need_transitions_rejected_total")
	if err != nil {
		return nil, err
	}
	batchEvents, err := meter.Int64Counter("needflow_batch_events_total")
	if err != nil {
		return nil, err
	}
	batchMembers, err := meter.Int64Histogram("needflow_batch_members")
	if err != nil {
		return nil, err
	}
	inconsistentBatch, err := meter.Int64Counter("needflow_batch_inconsistent_total",
		metric.WithDescription("Batch cascades aborted because a member left the approved state."),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		needsCreated:       needsCreated,
		matchesRecorded:    matchesRecorded,
		matchedQuantity:    matchedQuantity,
		needTransitions:    needTransitions,
		transitionRejected: transitionRejected,
		batchEvents:        batchEvents,
		batchMembers:       batchMembers,
		inconsistentBatch:  inconsistentBatch,
	}, nil
}

// RecordNeedCreated increments need creation counts.
func (m *Metrics) RecordNeedCreated(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))
	m.needsCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordMatch increments match counts and the matched quantity.
func (m *Metrics) RecordMatch(ctx context.Context, kind string, quantity int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))
	m.matchesRecorded.Add(ctx, 1, metric.WithAttributes(attrs...))
	if quantity > 0 {
		m.matchedQuantity.Add(ctx, quantity, metric.WithAttributes(attrs...))
	}
}

// RecordTransition counts applied need transitions.
func (m *Metrics) RecordTransition(ctx context.Context, kind, action string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("kind", strings.TrimSpace(kind)),
		attribute.String("action", strings.TrimSpace(action)),
	)
	m.needTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTransitionRejected counts transitions refused by the engine.
func (m *Metrics) RecordTransitionRejected(ctx context.Context, kind, action, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("kind", strings.TrimSpace(kind)),
		attribute.String("action", strings.TrimSpace(action)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.transitionRejected.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBatchEvent counts batch lifecycle events and member volume.
func (m *Metrics) RecordBatchEvent(ctx context.Context, event string, members int) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event", strings.TrimSpace(event)))
	m.batchEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
	if members > 0 {
		m.batchMembers.Record(ctx, int64(members), metric.WithAttributes(attrs...))
	}
}

// RecordInconsistentBatch raises the alert counter for aborted cascades.
func (m *Metrics) RecordInconsistentBatch(ctx context.Context, event string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event", strings.TrimSpace(event)))
	m.inconsistentBatch.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"kind":        {},
	"action":      {},
	"event":       {},
	"reason":      {},
	"status_code": {},
	"route":       {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
