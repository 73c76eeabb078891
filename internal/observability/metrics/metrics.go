package metrics

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
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
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments for the billing core.
type Metrics struct {
	invoicesGenerated  metric.Int64Counter
	invoicesFinalized  metric.Int64Counter
	readingCorrections metric.Int64Counter
	cascadeRecalcs     metric.Int64Counter
	cascadeFailures    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := otlpmetricgrpc.New(context.Background(),
		otlpmetricgrpc.WithEndpoint(cfg.ExporterEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metric instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "utiliko-billing"
	}
	meter := provider.Meter(name)

	invoicesGenerated, err := meter.Int64Counter("billing_invoices_generated_total")
	if err != nil {
		return nil, err
	}
	invoicesFinalized, err := meter.Int64Counter("billing_invoices_finalized_total")
	if err != nil {
		return nil, err
	}
	readingCorrections, err := meter.Int64Counter("billing_reading_corrections_total")
	if err != nil {
		return nil, err
	}
	cascadeRecalcs, err := meter.Int64Counter("billing_cascade_recalculations_total")
	if err != nil {
		return nil, err
	}
	cascadeFailures, err := meter.Int64Counter("billing_cascade_failures_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		invoicesGenerated:  invoicesGenerated,
		invoicesFinalized:  invoicesFinalized,
		readingCorrections: readingCorrections,
		cascadeRecalcs:     cascadeRecalcs,
		cascadeFailures:    cascadeFailures,
	}, nil
}

func (m *Metrics) IncInvoiceGenerated(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.invoicesGenerated.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) IncInvoiceFinalized(ctx context.Context) {
	if m == nil {
		return
	}
	m.invoicesFinalized.Add(ctx, 1)
}

func (m *Metrics) IncReadingCorrection(ctx context.Context) {
	if m == nil {
		return
	}
	m.readingCorrections.Add(ctx, 1)
}

func (m *Metrics) IncCascadeRecalc(ctx context.Context, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.cascadeRecalcs.Add(ctx, n)
}

func (m *Metrics) IncCascadeFailure(ctx context.Context, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.cascadeFailures.Add(ctx, n)
}
