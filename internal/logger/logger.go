package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Type alias for slog.Level for easier usage
type Level = slog.Level

const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug // -4
	LevelInfo    = slog.LevelInfo  // 0
	LevelWarning = slog.LevelWarn  // 4
	LevelError   = slog.LevelError // 8
	LevelFatal   = slog.Level(12)  // 12
)

// Options configures Setup.
type Options struct {
	Level       string    // TRACE, DEBUG, INFO, WARN, ERROR, FATAL
	Format      string    // json or text; ignored when OTEL is set
	Output      io.Writer // defaults to os.Stdout
	SampleRate  int       // log 1 of every N warnings/errors; <=1 logs all
	OTEL        bool      // export through OTLP/gRPC instead of Output
	ServiceName string
}

var (
	Logger          = slog.Default()
	errorSampleRate atomic.Int32
	programLevel    = new(slog.LevelVar)
	shutdownFunc    func(context.Context) error // nil unless OTEL is in use
)

// Counters exported on /metrics. They are incremented regardless of sampling.
var (
	TotalErrors    atomic.Int64
	TotalWarnings  atomic.Int64
	Total5xxErrors atomic.Int64
	Total4xxErrors atomic.Int64
	Total400Errors atomic.Int64
	Total404Errors atomic.Int64
	Total503Errors atomic.Int64
	SlowRequests   atomic.Int64
)

func init() {
	programLevel.Set(slog.LevelInfo)
	errorSampleRate.Store(1)
}

// Setup installs the process logger and makes it the slog default.
// If OTEL setup fails it falls back to JSON on Output and returns nil.
func Setup(ctx context.Context, opts Options) error {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}
	programLevel.Set(level)

	rate := opts.SampleRate
	if rate < 1 {
		rate = 1
	}
	errorSampleRate.Store(int32(rate))

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	if opts.OTEL {
		serviceName := opts.ServiceName
		if serviceName == "" {
			serviceName = "routing-rules"
		}
		shutdown, err := setupOTELLogging(ctx, serviceName)
		if err == nil {
			shutdownFunc = shutdown
			Logger.Info("OpenTelemetry logging enabled", "service", serviceName, "sample_rate", rate)
			return nil
		}
		fmt.Fprintf(os.Stderr, "Failed to setup OTEL logging, falling back to JSON: %v\n", err)
		opts.Format = "json"
	}

	handlerOpts := &slog.HandlerOptions{Level: programLevel}
	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "json":
		handler = slog.NewJSONHandler(out, handlerOpts)
	case "text":
		handler = slog.NewTextHandler(out, handlerOpts)
	default:
		return fmt.Errorf("unknown log format: %s", opts.Format)
	}
	install(slog.New(handler))
	return nil
}

func install(l *slog.Logger) {
	Logger = l
	slog.SetDefault(l)
}

// setupOTELLogging configures OpenTelemetry logging
func setupOTELLogging(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Endpoint comes from OTEL_EXPORTER_OTLP_* env vars.
	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	otelHandler := otelslog.NewHandler(
		serviceName,
		otelslog.WithLoggerProvider(loggerProvider),
	)

	install(slog.New(&levelHandler{
		level:   programLevel,
		handler: otelHandler,
	}))

	return loggerProvider.Shutdown, nil
}

// levelHandler wraps a handler to filter by level
type levelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func (h *levelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithGroup(name)}
}

// Shutdown flushes the OTEL exporter. No-op otherwise.
func Shutdown(ctx context.Context) error {
	if shutdownFunc != nil {
		return shutdownFunc(ctx)
	}
	return nil
}

// SetLevel sets the minimum log level for the logger
func SetLevel(level slog.Level) {
	programLevel.Set(level)
}

// GetLevel returns the current minimum log level
func GetLevel() slog.Level {
	return programLevel.Level()
}

// ParseLevel converts a level name to slog.Level. Empty means INFO.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", levelStr)
	}
}

// shouldSample returns true for 1 out of every N calls on average.
func shouldSample() bool {
	rate := errorSampleRate.Load()
	if rate <= 1 {
		return true
	}
	return rand.Intn(int(rate)) == 0
}

// Trace logs a trace-level message (never sampled)
func Trace(msg string, args ...any) {
	Logger.Log(context.Background(), LevelTrace, msg, args...)
}

// Debug logs a debug-level message (never sampled)
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

// Info logs an info-level message (never sampled)
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn logs a warning with sampling. The counter is always incremented.
func Warn(msg string, args ...any) {
	TotalWarnings.Add(1)
	if shouldSample() {
		Logger.Warn(msg, args...)
	}
}

// Error logs an error with sampling. The counter is always incremented.
func Error(msg string, args ...any) {
	TotalErrors.Add(1)
	if shouldSample() {
		Logger.Error(msg, args...)
	}
}

// Fatal logs a fatal-level message, flushes OTEL and exits.
func Fatal(msg string, args ...any) {
	Logger.Log(context.Background(), LevelFatal, msg, args...)
	if shutdownFunc != nil {
		_ = shutdownFunc(context.Background())
	}
	os.Exit(1)
}

// ErrorHttp5xx counts a 5xx response.
func ErrorHttp5xx(status int) {
	Total5xxErrors.Add(1)
	TotalErrors.Add(1)
	if status == 503 {
		Total503Errors.Add(1)
	}
}

// WarnHttp4xx counts a 4xx response.
func WarnHttp4xx(status int) {
	Total4xxErrors.Add(1)
	TotalWarnings.Add(1)

	switch status {
	case 400:
		Total400Errors.Add(1)
	case 404:
		Total404Errors.Add(1)
	}
}

// WarnSlowRequest counts a request that exceeded the slow threshold.
func WarnSlowRequest() {
	SlowRequests.Add(1)
	TotalWarnings.Add(1)
}

// RegisterCounters exposes the logger counters as Prometheus counters.
func RegisterCounters(reg prometheus.Registerer) error {
	counters := []struct {
		name, help string
		v          *atomic.Int64
	}{
		{"log_errors_total", "Errors reported through the logger, before sampling", &TotalErrors},
		{"log_warnings_total", "Warnings reported through the logger, before sampling", &TotalWarnings},
		{"http_responses_5xx_total", "HTTP responses with a 5xx status", &Total5xxErrors},
		{"http_responses_503_total", "HTTP responses with status 503", &Total503Errors},
		{"http_responses_4xx_total", "HTTP responses with a 4xx status", &Total4xxErrors},
		{"http_responses_400_total", "HTTP responses with status 400", &Total400Errors},
		{"http_responses_404_total", "HTTP responses with status 404", &Total404Errors},
		{"http_slow_requests_total", "HTTP requests slower than the slow threshold", &SlowRequests},
	}
	for _, c := range counters {
		v := c.v
		err := reg.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "routing",
			Name:      c.name,
			Help:      c.help,
		}, func() float64 { return float64(v.Load()) }))
		if err != nil {
			return err
		}
	}
	return nil
}
