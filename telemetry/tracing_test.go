package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T, debug bool) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewTracerFromProvider(tp, "test", debug), rec
}

func attrMap(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestGetTracer_DefaultsToNoop(t *testing.T) {
	SetGlobalTracer(nil)
	tr := GetTracer()
	if tr == nil {
		t.Fatal("expected a tracer")
	}
	_, span := tr.StartExecSpan(context.Background(), ExecSpanOptions{Service: "llm"})
	tr.EndExecSpan(span, nil)
	if span.SpanContext().IsValid() {
		t.Error("noop tracer should produce invalid span contexts")
	}
}

func TestSetGlobalTracer(t *testing.T) {
	tr, _ := newRecordingTracer(t, false)
	SetGlobalTracer(tr)
	defer SetGlobalTracer(nil)

	if GetTracer() != tr {
		t.Error("expected global tracer to be returned")
	}
}

func TestExecSpan(t *testing.T) {
	tr, rec := newRecordingTracer(t, false)

	_, span := tr.StartExecSpan(context.Background(), ExecSpanOptions{
		Service:   "llm",
		RequestID: "req-1",
		Cost:      350,
		QueueWait: 1500 * time.Millisecond,
	})
	tr.EndExecSpan(span, nil)

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	s := spans[0]
	if s.Name() != "exec.llm" {
		t.Errorf("span name = %s", s.Name())
	}
	attrs := attrMap(s.Attributes())
	if attrs["admit.request_id"].AsString() != "req-1" {
		t.Errorf("request id attr = %v", attrs["admit.request_id"])
	}
	if attrs["admit.cost"].AsFloat64() != 350 {
		t.Errorf("cost attr = %v", attrs["admit.cost"])
	}
	if attrs["admit.queue_wait_ms"].AsInt64() != 1500 {
		t.Errorf("queue wait attr = %v", attrs["admit.queue_wait_ms"])
	}
	if s.Status().Code != codes.Ok {
		t.Errorf("status = %v", s.Status())
	}
}

func TestExecSpan_Error(t *testing.T) {
	tr, rec := newRecordingTracer(t, false)

	_, span := tr.StartExecSpan(context.Background(), ExecSpanOptions{Service: "search"})
	tr.EndExecSpan(span, errors.New("engine down"))

	s := rec.Ended()[0]
	if s.Status().Code != codes.Error || s.Status().Description != "engine down" {
		t.Errorf("status = %+v", s.Status())
	}
	if len(s.Events()) == 0 {
		t.Error("expected RecordError to add an event")
	}
}

func TestGateSpan(t *testing.T) {
	tr, rec := newRecordingTracer(t, false)

	_, span := tr.StartGateSpan(context.Background(), "browser")
	tr.EndGateSpan(span, nil)

	s := rec.Ended()[0]
	if s.Name() != "gate.browser" {
		t.Errorf("span name = %s", s.Name())
	}
}

func TestLLMSpan_DebugContent(t *testing.T) {
	tests := []struct {
		name       string
		debug      bool
		wantPrompt bool
	}{
		{"debug off", false, false},
		{"debug on", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, rec := newRecordingTracer(t, tt.debug)

			_, span := tr.StartLLMSpan(context.Background(), "llm.openai")
			tr.EndLLMSpan(span, LLMSpanOptions{
				Model:     "gpt-4o",
				Provider:  "openai",
				TokensIn:  10,
				TokensOut: 5,
				Prompt:    "secret prompt",
			}, nil)

			attrs := attrMap(rec.Ended()[0].Attributes())
			if attrs["llm.tokens.input"].AsInt64() != 10 {
				t.Errorf("tokens in = %v", attrs["llm.tokens.input"])
			}
			_, hasPrompt := attrs["llm.prompt"]
			if hasPrompt != tt.wantPrompt {
				t.Errorf("prompt present = %v, want %v", hasPrompt, tt.wantPrompt)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if truncate("short", 10) != "short" {
		t.Error("short strings unchanged")
	}
	if truncate("0123456789abc", 10) != "0123456789..." {
		t.Error("long strings cut with ellipsis")
	}
}

func TestInitProvider_Errors(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	tests := []struct {
		name string
		cfg  ProviderConfig
		want error
	}{
		{"no endpoint", ProviderConfig{}, ErrNoEndpoint},
		{"unknown protocol", ProviderConfig{Endpoint: "localhost:4317", Protocol: "carrier-pigeon"}, ErrUnknownProtocol},
		{"negative ratio", ProviderConfig{Endpoint: "localhost:4317", SampleRatio: -0.1}, ErrInvalidSampleRatio},
		{"ratio above one", ProviderConfig{Endpoint: "localhost:4317", SampleRatio: 1.5}, ErrInvalidSampleRatio},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := InitProvider(context.Background(), tt.cfg); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestProviderConfig_Defaults(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "https://collector:4318")
	t.Setenv("OTEL_SERVICE_NAME", "")

	cfg, err := ProviderConfig{}.withDefaults()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Endpoint != "collector:4318" {
		t.Errorf("endpoint = %q", cfg.Endpoint)
	}
	if cfg.ServiceName != "admitkit" || cfg.Protocol != "grpc" {
		t.Errorf("defaults: name %q protocol %q", cfg.ServiceName, cfg.Protocol)
	}
}

func TestNewResource_Topology(t *testing.T) {
	res, err := newResource(ProviderConfig{
		ServiceName: "jurisdictions",
		Services:    []string{"llm", "geocode"},
		Gates:       []string{"search", "browser"},
	})
	if err != nil {
		t.Fatal(err)
	}

	set := res.Set()
	if v, ok := set.Value("service.name"); !ok || v.AsString() != "jurisdictions" {
		t.Errorf("service.name = %v", v)
	}
	services, ok := set.Value(AttrServices)
	if !ok || strings.Join(services.AsStringSlice(), ",") != "geocode,llm" {
		t.Errorf("services = %v", services.AsStringSlice())
	}
	gates, ok := set.Value(AttrGates)
	if !ok || strings.Join(gates.AsStringSlice(), ",") != "browser,search" {
		t.Errorf("gates = %v", gates.AsStringSlice())
	}

	bare, err := newResource(ProviderConfig{ServiceName: "bare"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := bare.Set().Value(AttrGates); ok {
		t.Error("no gates configured, attribute should be absent")
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		desc := newSampler(tt.ratio).Description()
		if !strings.HasPrefix(desc, "ParentBased{root:"+tt.want) {
			t.Errorf("ratio %v: sampler %s", tt.ratio, desc)
		}
	}
}
