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
	redemptions         metric.Int64Counter
	rateLimitBlocked    metric.Int64Counter
	rateLimitDenied     metric.Int64Counter
	entitlementEvents   metric.Int64Counter
	suspiciousRedeemers metric.Int64Counter
	accessGateLocked    metric.Int64Counter
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
		name = "keygate"
	}
	meter := provider.Meter(name)

	redemptions, err := meter.Int64Counter("keygate_access_key_redemptions_total")
	if err != nil {
		return nil, err
	}
	rateLimitBlocked, err := meter.Int64Counter("keygate_rate_limit_blocked_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("keygate_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}
	entitlementEvents, err := meter.Int64Counter("keygate_entitlement_events_total")
	if err != nil {
		return nil, err
	}
	suspiciousRedeemers, err := meter.Int64Counter("keygate_suspicious_redeemers_total")
	if err != nil {
		return nil, err
	}
	accessGateLocked, err := meter.Int64Counter("keygate_access_gate_locked_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		redemptions:         redemptions,
		rateLimitBlocked:    rateLimitBlocked,
		rateLimitDenied:     rateLimitDenied,
		entitlementEvents:   entitlementEvents,
		suspiciousRedeemers: suspiciousRedeemers,
		accessGateLocked:    accessGateLocked,
	}, nil
}

// RecordRedemption counts redemption outcomes by result kind.
func (m *Metrics) RecordRedemption(ctx context.Context, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("result", strings.TrimSpace(result)))
	m.redemptions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitBlocked counts blocks applied by the failure limiter.
func (m *Metrics) RecordRateLimitBlocked(ctx context.Context, action, class string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("action", strings.TrimSpace(action)),
		attribute.String("class", strings.TrimSpace(class)),
	)
	m.rateLimitBlocked.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordEntitlementEvent counts published entitlement changes.
func (m *Metrics) RecordEntitlementEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_type", strings.TrimSpace(eventType)))
	m.entitlementEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSuspiciousRedeemers adds flagged users from the activity audit.
func (m *Metrics) RecordSuspiciousRedeemers(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.suspiciousRedeemers.Add(ctx, int64(count))
}

// RecordAccessGateLocked counts requests refused by the access gate.
func (m *Metrics) RecordAccessGateLocked(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.accessGateLocked.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
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
	"action":      {},
	"class":       {},
	"endpoint":    {},
	"status_code": {},
	"method":      {},
	"result":      {},
	"event_type":  {},
	"reason":      {},
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
