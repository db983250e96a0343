package telemetry

import (
	"context"
	"testing"
	"time"
)

func TestInitTracer(t *testing.T) {
	tests := []struct {
		name        string
		serviceName string
		component   string
		endpoint    string
	}{
		{name: "worker", serviceName: "timesheet-sync", component: "worker", endpoint: "localhost:4318"},
		{name: "default service name", serviceName: "", component: "timesheetctl", endpoint: "localhost:4318"},
		{name: "endpoint URL", serviceName: "timesheet-sync", component: "worker", endpoint: "https://otel.example.com:4318"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			tp, err := InitTracer(ctx, tt.serviceName, tt.component, tt.endpoint)
			if err != nil {
				t.Fatalf("InitTracer() error = %v", err)
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := Shutdown(shutdownCtx, tp); err != nil {
				t.Errorf("Shutdown() error = %v", err)
			}
		})
	}
}

func TestShutdownNilProvider(t *testing.T) {
	if err := Shutdown(context.Background(), nil); err != nil {
		t.Errorf("Shutdown() with nil provider error = %v", err)
	}
}

func TestEndpointOptions(t *testing.T) {
	tests := []struct {
		endpoint string
		want     int
	}{
		{endpoint: "collector:4318", want: 2},
		{endpoint: "http://collector:4318", want: 1},
		{endpoint: "https://collector.example.com", want: 1},
	}
	for _, tt := range tests {
		if got := len(endpointOptions(tt.endpoint)); got != tt.want {
			t.Errorf("endpointOptions(%q) returned %d options, want %d", tt.endpoint, got, tt.want)
		}
	}
}
