package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Telemetry holds the trace and metric pipelines of one pcdimport process.
// The importer spans and the sandbox HTTP metrics are exported through it.
//
// A collector that cannot be reached marks the instance degraded; the run
// continues on the global no-op providers.
type Telemetry struct {
	config *Config

	tracerProvider *trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	healthy  atomic.Bool
	degraded atomic.Bool
}

// New builds the OTLP pipelines described by cfg and installs them as the
// global providers. With cfg.Enabled false nothing is installed.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	t := &Telemetry{config: cfg}
	t.healthy.Store(true)
	if !cfg.Enabled {
		return t, nil
	}

	res := newResource(cfg)

	if tp, err := newTracerProvider(ctx, cfg, res, o.spanExporter); err != nil {
		t.setDegraded(o.onDegraded, err)
	} else {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	if mp, err := newMeterProvider(ctx, cfg, res, o.metricReader); err != nil {
		t.setDegraded(o.onDegraded, err)
	} else {
		t.meterProvider = mp
		otel.SetMeterProvider(mp)
	}

	// Trace context travels to the platform with each request.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t, nil
}

// Tracer returns a tracer for an instrumentation scope such as
// ".../internal/importer". Without a working pipeline it is the global one.
func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.tracerProvider.Tracer(name, opts...)
}

// Meter is the metric counterpart of Tracer.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.meterProvider.Meter(name, opts...)
}

// each runs the trace and then the metric step, skipping nil steps and
// joining their errors.
func each(ctx context.Context, verb string, traceFn, meterFn func(context.Context) error) error {
	var errs []error
	if traceFn != nil {
		if err := traceFn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace %s: %w", verb, err))
		}
	}
	if meterFn != nil {
		if err := meterFn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter %s: %w", verb, err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown exports what is buffered and stops both pipelines. A ctx
// without a deadline gets the configured shutdown timeout, so an import
// never hangs on an absent collector.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && t.config != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.ShutdownTimeout)
		defer cancel()
	}

	var traceFn, meterFn func(context.Context) error
	if t.tracerProvider != nil {
		traceFn = t.tracerProvider.Shutdown
	}
	if t.meterProvider != nil {
		meterFn = t.meterProvider.Shutdown
	}
	err := each(ctx, "shutdown", traceFn, meterFn)
	t.healthy.Store(false)
	return err
}

// ForceFlush exports buffered spans and metrics without stopping.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var traceFn, meterFn func(context.Context) error
	if t.tracerProvider != nil {
		traceFn = t.tracerProvider.ForceFlush
	}
	if t.meterProvider != nil {
		meterFn = t.meterProvider.ForceFlush
	}
	return each(ctx, "flush", traceFn, meterFn)
}

// HealthStatus is the pipeline state. Degraded means at least one
// provider failed to start.
type HealthStatus struct {
	Healthy  bool
	Degraded bool
}

func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Degraded: true}
	}
	return HealthStatus{Healthy: t.healthy.Load(), Degraded: t.degraded.Load()}
}

// IsEnabled reports whether telemetry was requested and is still running.
func (t *Telemetry) IsEnabled() bool {
	if t == nil || t.config == nil {
		return false
	}
	return t.config.Enabled && t.healthy.Load()
}

func (t *Telemetry) setDegraded(handler func(error), err error) {
	t.degraded.Store(true)
	if handler != nil {
		handler(err)
	}
}
