package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Provider errors.
var (
	ErrNoEndpoint         = errors.New("telemetry endpoint not configured (set endpoint or OTEL_EXPORTER_OTLP_ENDPOINT)")
	ErrUnknownProtocol    = errors.New("unknown protocol")
	ErrInvalidSampleRatio = errors.New("sample ratio must be between 0 and 1")
)

// Resource attributes describing the admission topology of a run.
const (
	AttrServices = attribute.Key("admitkit.services")
	AttrGates    = attribute.Key("admitkit.gates")
)

// ProviderConfig configures trace export for one orchestrator run.
type ProviderConfig struct {
	// ServiceName names the process in the tracing backend. Falls back to
	// OTEL_SERVICE_NAME, then "admitkit".
	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP collector address. Falls back to
	// OTEL_EXPORTER_OTLP_ENDPOINT. A scheme prefix is ignored.
	Endpoint string
	// Protocol is "grpc" (default) or "http".
	Protocol string
	Insecure bool
	Headers  map[string]string

	// SampleRatio is the fraction of root executions traced. Zero traces
	// every execution. Children follow their parent's decision.
	SampleRatio float64

	// Services and Gates name the admission resources of the run. They are
	// attached to the resource so traces from different topologies can be
	// told apart.
	Services []string
	Gates    []string

	// Debug includes prompts and responses in LLM span attributes.
	Debug bool

	BatchTimeout  time.Duration
	ExportTimeout time.Duration
}

// withDefaults fills environment fallbacks and checks the result.
func (c ProviderConfig) withDefaults() (ProviderConfig, error) {
	if c.Endpoint == "" {
		c.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if c.Endpoint == "" {
		return c, ErrNoEndpoint
	}
	c.Endpoint = strings.TrimPrefix(c.Endpoint, "http://")
	c.Endpoint = strings.TrimPrefix(c.Endpoint, "https://")

	if c.ServiceName == "" {
		c.ServiceName = os.Getenv("OTEL_SERVICE_NAME")
	}
	if c.ServiceName == "" {
		c.ServiceName = "admitkit"
	}

	if c.Protocol == "" {
		c.Protocol = "grpc"
	}
	if c.Protocol != "grpc" && c.Protocol != "http" {
		return c, fmt.Errorf("%w: %s (use 'grpc' or 'http')", ErrUnknownProtocol, c.Protocol)
	}

	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return c, fmt.Errorf("%w: %v", ErrInvalidSampleRatio, c.SampleRatio)
	}
	return c, nil
}

// newResource describes the process and the resources it admits work to.
// Schemaless so it merges with the SDK default regardless of schema URL.
func newResource(c ProviderConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(c.ServiceName),
		semconv.ServiceVersion(c.ServiceVersion),
	}
	if len(c.Services) > 0 {
		attrs = append(attrs, AttrServices.StringSlice(sorted(c.Services)))
	}
	if len(c.Gates) > 0 {
		attrs = append(attrs, AttrGates.StringSlice(sorted(c.Gates)))
	}
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

// newSampler traces a SampleRatio share of root spans.
func newSampler(ratio float64) sdktrace.Sampler {
	if ratio == 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func newExporter(ctx context.Context, c ProviderConfig) (sdktrace.SpanExporter, error) {
	if c.Protocol == "http" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(c.Endpoint)}
		if c.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(c.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(c.Headers))
		}
		if c.ExportTimeout > 0 {
			opts = append(opts, otlptracehttp.WithTimeout(c.ExportTimeout))
		}
		return otlptracehttp.New(ctx, opts...)
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(c.Endpoint)}
	if c.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if len(c.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(c.Headers))
	}
	if c.ExportTimeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(c.ExportTimeout))
	}
	return otlptracegrpc.New(ctx, opts...)
}

// Provider owns the SDK tracer provider installed by InitProvider.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer *Tracer
}

// InitProvider installs an OTLP-exporting tracer provider as the global
// provider and tracer. Shut it down to flush pending spans.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating %s exporter: %w", cfg.Protocol, err)
	}

	var batchOpts []sdktrace.BatchSpanProcessorOption
	if cfg.BatchTimeout > 0 {
		batchOpts = append(batchOpts, sdktrace.WithBatchTimeout(cfg.BatchTimeout))
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, batchOpts...),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SampleRatio)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := NewTracerFromProvider(tp, cfg.ServiceName, cfg.Debug)
	SetGlobalTracer(tracer)

	return &Provider{tp: tp, tracer: tracer}, nil
}

// Tracer returns the tracer bound to this provider.
func (p *Provider) Tracer() *Tracer {
	return p.tracer
}

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// ForceFlush exports pending spans without shutting down.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return p.tp.ForceFlush(ctx)
}

func sorted(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}
