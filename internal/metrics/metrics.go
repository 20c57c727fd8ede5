// Package metrics provides Prometheus metrics for taskbridge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace prefix for all metrics
	namespace = "taskbridge"

	// Subsystems
	subsystemMCP      = "mcp"
	subsystemRegistry = "registry"
)

var (
	// DurationBuckets for request and tool durations
	DurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300}

	// === MCP Protocol Metrics ===

	// MCPLinesReceived counts non-blank input lines
	MCPLinesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemMCP,
			Name:      "lines_received_total",
			Help:      "Total number of non-blank lines read from stdin",
		},
	)

	// MCPRequestsTotal counts MCP requests
	MCPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemMCP,
			Name:      "requests_total",
			Help:      "Total number of decoded MCP requests",
		},
		[]string{"method"},
	)

	// MCPRequestDuration measures MCP request latency
	MCPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemMCP,
			Name:      "request_duration_seconds",
			Help:      "MCP request latency in seconds",
			Buckets:   DurationBuckets,
		},
		[]string{"method"},
	)

	// MCPErrorsTotal counts JSON-RPC error responses
	MCPErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemMCP,
			Name:      "errors_total",
			Help:      "Total number of JSON-RPC error responses",
		},
		[]string{"code"},
	)

	// MCPToolsListTotal counts tools/list invocations
	MCPToolsListTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemMCP,
			Name:      "tools_list_total",
			Help:      "Total number of tools/list invocations",
		},
	)

	// MCPToolsCallTotal counts tools/call invocations
	MCPToolsCallTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemMCP,
			Name:      "tools_call_total",
			Help:      "Total number of tools/call invocations",
		},
		[]string{"tool", "outcome"},
	)

	// === Registry Metrics ===

	// RegistryCommands shows the number of registered commands
	RegistryCommands = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemRegistry,
			Name:      "commands",
			Help:      "Number of commands currently in the registry",
		},
	)

	// RegistryReloadsTotal counts manifest reloads
	RegistryReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemRegistry,
			Name:      "reloads_total",
			Help:      "Total number of registry manifest reloads",
		},
		[]string{"result"},
	)

	// RegistryInvocationsTotal counts command executions
	RegistryInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemRegistry,
			Name:      "invocations_total",
			Help:      "Total number of command executions",
		},
		[]string{"command", "kind"},
	)

	// RegistryInvocationDuration measures command execution time
	RegistryInvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemRegistry,
			Name:      "invocation_duration_seconds",
			Help:      "Command execution time in seconds",
			Buckets:   DurationBuckets,
		},
		[]string{"command"},
	)

	// registry holds all metrics
	registry = prometheus.NewRegistry()
)

func init() {
	registry.MustRegister(
		// MCP metrics
		MCPLinesReceived,
		MCPRequestsTotal,
		MCPRequestDuration,
		MCPErrorsTotal,
		MCPToolsListTotal,
		MCPToolsCallTotal,
		// Registry metrics
		RegistryCommands,
		RegistryReloadsTotal,
		RegistryInvocationsTotal,
		RegistryInvocationDuration,
	)

	// Also register Go runtime and process collectors
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for metrics
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordLineReceived records one non-blank input line
func RecordLineReceived() {
	MCPLinesReceived.Inc()
}

// RecordMCPRequest records an MCP request
func RecordMCPRequest(method string, duration float64) {
	MCPRequestsTotal.WithLabelValues(method).Inc()
	MCPRequestDuration.WithLabelValues(method).Observe(duration)
}

// RecordMCPError records a JSON-RPC error response
func RecordMCPError(code string) {
	MCPErrorsTotal.WithLabelValues(code).Inc()
}

// RecordMCPToolsList records a tools/list invocation
func RecordMCPToolsList() {
	MCPToolsListTotal.Inc()
}

// RecordMCPToolsCall records a tools/call invocation. outcome is one of
// "ok", "failed" (non-zero exit) or "error" (the invocation itself failed).
func RecordMCPToolsCall(tool, outcome string) {
	MCPToolsCallTotal.WithLabelValues(tool, outcome).Inc()
}

// SetRegistryCommands sets the number of registered commands
func SetRegistryCommands(count int) {
	RegistryCommands.Set(float64(count))
}

// RecordRegistryReload records a manifest reload ("ok" or "error")
func RecordRegistryReload(result string) {
	RegistryReloadsTotal.WithLabelValues(result).Inc()
}

// RecordInvocation records one command execution. kind is "exec" or "func".
func RecordInvocation(command, kind string, duration float64) {
	RegistryInvocationsTotal.WithLabelValues(command, kind).Inc()
	RegistryInvocationDuration.WithLabelValues(command).Observe(duration)
}
