// Package telemetry installs the OpenTelemetry meter provider used by the
// tour and docking counters, and reads their running totals back for the
// dashboard and the exit report.
package telemetry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config holds telemetry configuration
type Config struct {
	Enabled     bool
	ServiceName string
}

// Provider owns the SDK meter provider and its pull reader.
type Provider struct {
	config   Config
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider

	// Collect is not safe for concurrent use on one reader
	collectMu sync.Mutex
}

// New creates a provider. When disabled, MeterProvider returns a no-op
// provider and Totals is always empty.
func New(cfg Config) (*Provider, error) {
	p := &Provider{config: cfg}
	if !cfg.Enabled {
		return p, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "navtest"
		p.config.ServiceName = cfg.ServiceName
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	p.reader = sdkmetric.NewManualReader()
	p.provider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(p.reader),
	)
	return p, nil
}

// Enabled returns whether metrics are collected.
func (p *Provider) Enabled() bool {
	return p.provider != nil
}

// MeterProvider returns the provider components should create their
// instruments from.
func (p *Provider) MeterProvider() metric.MeterProvider {
	if p.provider == nil {
		return noop.NewMeterProvider()
	}
	return p.provider
}

// InstallGlobal makes this provider the otel global.
func (p *Provider) InstallGlobal() {
	otel.SetMeterProvider(p.MeterProvider())
}

// Totals collects every counter and returns its value summed over all
// attribute sets, keyed by instrument name.
func (p *Provider) Totals(ctx context.Context) (map[string]float64, error) {
	out := make(map[string]float64)
	if p.reader == nil {
		return out, nil
	}

	rm, err := p.collect(ctx)
	if err != nil {
		return nil, err
	}

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += float64(dp.Value)
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += dp.Value
				}
			}
		}
	}
	return out, nil
}

// Breakdown returns the per-attribute values of one counter, keyed by
// the value of attribute key.
func (p *Provider) Breakdown(ctx context.Context, name, key string) (map[string]float64, error) {
	out := make(map[string]float64)
	if p.reader == nil {
		return out, nil
	}

	rm, err := p.collect(ctx)
	if err != nil {
		return nil, err
	}

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if data, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range data.DataPoints {
					v, _ := dp.Attributes.Value(attribute.Key(key))
					out[v.Emit()] += float64(dp.Value)
				}
			}
		}
	}
	return out, nil
}

func (p *Provider) collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	p.collectMu.Lock()
	defer p.collectMu.Unlock()
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return rm, fmt.Errorf("metrics collect failed: %w", err)
	}
	return rm, nil
}

// Names returns the sorted keys of a Totals result.
func Names(totals map[string]float64) []string {
	names := make([]string, 0, len(totals))
	for n := range totals {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	if err := p.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("meter provider shutdown failed: %w", err)
	}
	return nil
}
