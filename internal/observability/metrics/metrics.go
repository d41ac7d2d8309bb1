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
	spendWrites       metric.Int64Counter
	relinks           metric.Int64Counter
	snapshots         metric.Int64Counter
	reconcileRowsSeen metric.Int64Counter
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
		name = "spendledger"
	}
	meter := provider.Meter(name)

	spendWrites, err := meter.Int64Counter("spendledger_spend_writes_total")
	if err != nil {
		return nil, err
	}
	relinks, err := meter.Int64Counter("spendledger_relink_operations_total")
	if err != nil {
		return nil, err
	}
	snapshots, err := meter.Int64Counter("spendledger_snapshots_written_total")
	if err != nil {
		return nil, err
	}
	reconcileRowsSeen, err := meter.Int64Counter("spendledger_reconcile_rows_scanned_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		spendWrites:       spendWrites,
		relinks:           relinks,
		snapshots:         snapshots,
		reconcileRowsSeen: reconcileRowsSeen,
	}, nil
}

// RecordSpendWrite counts ledger upserts by result (inserted, replaced, unchanged).
func (m *Metrics) RecordSpendWrite(ctx context.Context, result, currency string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("result", strings.TrimSpace(result)),
		attribute.String("currency", strings.ToUpper(strings.TrimSpace(currency))),
	)
	m.spendWrites.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRelink counts relink calls by axis and result (changed, unchanged).
func (m *Metrics) RecordRelink(ctx context.Context, axis, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("axis", strings.TrimSpace(axis)),
		attribute.String("result", strings.TrimSpace(result)),
	)
	m.relinks.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSnapshots counts snapshots written by type.
func (m *Metrics) RecordSnapshots(ctx context.Context, snapshotType string, count int64) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("snapshot_type", strings.TrimSpace(snapshotType)))
	m.snapshots.Add(ctx, count, metric.WithAttributes(attrs...))
}

// RecordReconcileRows counts rows scanned by a reconcile pass.
func (m *Metrics) RecordReconcileRows(ctx context.Context, entityType string, rows int) {
	if m == nil || rows <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("entity_type", strings.TrimSpace(entityType)))
	m.reconcileRowsSeen.Add(ctx, int64(rows), metric.WithAttributes(attrs...))
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
	"result":        {},
	"currency":      {},
	"axis":          {},
	"snapshot_type": {},
	"entity_type":   {},
	"endpoint":      {},
	"status_code":   {},
	"reason":        {},
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
