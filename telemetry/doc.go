// Package telemetry provides OpenTelemetry tracing for admitted work.
//
// Every executor invocation runs inside an "exec.<service>" span carrying
// the request ID, its cost and how long it waited for admission. LLM
// provider calls nest an "llm.<provider>" span with model and token counts.
//
// Tracing is off until a provider is installed. InitProvider wires an OTLP
// exporter (gRPC or HTTP), tags the resource with the run's services and
// gates, and samples root executions at SampleRatio:
//
//	p, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
//	    ServiceName: "jurisdictions",
//	    Endpoint:    "localhost:4317",
//	    Insecure:    true,
//	    SampleRatio: 0.1,
//	    Services:    []string{"llm"},
//	    Gates:       []string{"search", "browser"},
//	})
//	if err != nil {
//	    return err
//	}
//	defer p.Shutdown(context.Background())
//
// Without a provider, GetTracer returns a no-op tracer.
package telemetry
