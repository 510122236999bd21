package telemetry

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type noopExporter struct{}

func (noopExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }
func (noopExporter) Shutdown(context.Context) error                             { return nil }

func TestInitUsesEndpointOverride(t *testing.T) {
	seen := ""
	restoreFactory := setExporterFactoryForTest(func(_ context.Context, endpoint string) (sdktrace.SpanExporter, error) {
		seen = endpoint
		return noopExporter{}, nil
	})
	defer restoreFactory()
	restoreOverride := setEndpointOverrideForTest("http://collector.test:4318")
	defer restoreOverride()

	shutdown, err := Init(context.Background())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer shutdown()

	if seen != "http://collector.test:4318" {
		t.Fatalf("endpoint = %q", seen)
	}
}

func TestInitEnvironmentVariableWins(t *testing.T) {
	restoreFactory := setExporterFactoryForTest(func(_ context.Context, endpoint string) (sdktrace.SpanExporter, error) {
		if endpoint != "http://env.test:4318" {
			t.Fatalf("endpoint = %q", endpoint)
		}
		return noopExporter{}, nil
	})
	defer restoreFactory()
	restoreOverride := setEndpointOverrideForTest("")
	defer restoreOverride()
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://env.test:4318")

	shutdown, err := Init(context.Background())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	shutdown()
	// Shutdown is idempotent.
	shutdown()
}

func TestResolveEndpointDefaultsWithoutOverrideOrEnv(t *testing.T) {
	restoreOverride := setEndpointOverrideForTest("")
	defer restoreOverride()
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	if got := resolveEndpoint(); got != DefaultEndpoint {
		t.Fatalf("endpoint = %q", got)
	}
}

func TestResolveEnvironment(t *testing.T) {
	t.Setenv("CLAUDGENTS_ENV", "Staging")
	if got := resolveEnvironment(); got != "staging" {
		t.Fatalf("environment = %q", got)
	}
}

func TestResolveServiceVersionDefault(t *testing.T) {
	previous := ServiceVersion
	defer func() { ServiceVersion = previous }()

	ServiceVersion = "  "
	if got := resolveServiceVersion(); got != "dev" {
		t.Fatalf("version = %q", got)
	}
	ServiceVersion = "1.2.3"
	if got := resolveServiceVersion(); got != "1.2.3" {
		t.Fatalf("version = %q", got)
	}
}
