// Package telemetry wires DriverError, InitializerFailure, and
// WorkflowFailure events into an optional OTel log+metric pipeline.
// It is active only when AGENTMUX_OTEL_ENDPOINT is set; otherwise every
// Record* call is a cheap no-op against the global (no-op) providers.
// Telemetry never changes control flow: a failed emit is swallowed.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// EnvEndpoint is the environment variable that activates telemetry.
// When unset, Init is a no-op and the global (default) OTel providers
// remain in place.
const EnvEndpoint = "AGENTMUX_OTEL_ENDPOINT"

const (
	meterName = "github.com/agentmux/agentmux"
	logName   = "agentmux"
)

// Shutdown flushes and closes any providers Init set up. Calling it
// when telemetry was never activated is a no-op.
var shutdown func(context.Context) error

// Init wires the global MeterProvider and LoggerProvider to an OTLP/HTTP
// endpoint read from AGENTMUX_OTEL_ENDPOINT. It is safe to call
// unconditionally at process startup; when the variable is unset it
// does nothing and returns nil.
func Init(ctx context.Context) error {
	endpoint := os.Getenv(EnvEndpoint)
	if endpoint == "" {
		return nil
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName("agentmux"),
		),
	)
	if err != nil {
		return fmt.Errorf("telemetry: build resource: %w", err)
	}

	metricExp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(endpoint), otlpmetrichttp.WithInsecure())
	if err != nil {
		return fmt.Errorf("telemetry: metric exporter: %w", err)
	}
	logExp, err := otlploghttp.New(ctx, otlploghttp.WithEndpoint(endpoint), otlploghttp.WithInsecure())
	if err != nil {
		return fmt.Errorf("telemetry: log exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second))),
	)
	lp := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
	)

	otel.SetMeterProvider(mp)
	global.SetLoggerProvider(lp)

	shutdown = func(ctx context.Context) error {
		err1 := mp.Shutdown(ctx)
		err2 := lp.Shutdown(ctx)
		if err1 != nil {
			return err1
		}
		return err2
	}
	return nil
}

// Shutdown flushes and closes the providers set up by Init. Safe to
// call even when Init was never activated.
func Shutdown(ctx context.Context) error {
	if shutdown == nil {
		return nil
	}
	return shutdown(ctx)
}

// instruments holds all lazy-initialized OTel metric instruments.
type instruments struct {
	driverErrorTotal       metric.Int64Counter
	initializerLevelTotal  metric.Int64Counter
	initializerFailureTotal metric.Int64Counter
	workflowStepTotal      metric.Int64Counter
	workflowFailureTotal   metric.Int64Counter
}

var (
	instOnce sync.Once
	inst     instruments
)

// initInstruments registers all recorder metric instruments against the
// current global MeterProvider. Safe to call repeatedly; only the
// first call does any work. Called lazily on first Record* use so it
// always reads whatever provider Init installed (or the no-op default
// when telemetry is inactive).
func initInstruments() {
	instOnce.Do(func() {
		m := otel.GetMeterProvider().Meter(meterName)

		inst.driverErrorTotal, _ = m.Int64Counter("agentmux.driver.errors.total",
			metric.WithDescription("Total Terminal Driver errors by kind"),
		)
		inst.initializerLevelTotal, _ = m.Int64Counter("agentmux.initializer.levels.total",
			metric.WithDescription("Total escalation-ladder levels attempted"),
		)
		inst.initializerFailureTotal, _ = m.Int64Counter("agentmux.initializer.failures.total",
			metric.WithDescription("Total Initialize calls that did not reach active"),
		)
		inst.workflowStepTotal, _ = m.Int64Counter("agentmux.workflow.steps.total",
			metric.WithDescription("Total workflow step completions"),
		)
		inst.workflowFailureTotal, _ = m.Int64Counter("agentmux.workflow.failures.total",
			metric.WithDescription("Total workflow executions that ended failed"),
		)
	})
}

func severity(err error) otellog.Severity {
	if err != nil {
		return otellog.SeverityError
	}
	return otellog.SeverityInfo
}

func errKV(err error) otellog.KeyValue {
	if err != nil {
		return otellog.String("error", err.Error())
	}
	return otellog.String("error", "")
}

func emit(ctx context.Context, body string, sev otellog.Severity, attrs ...otellog.KeyValue) {
	logger := global.GetLoggerProvider().Logger(logName)
	var r otellog.Record
	r.SetBody(otellog.StringValue(body))
	r.SetSeverity(sev)
	r.AddAttributes(attrs...)
	logger.Emit(ctx, r)
}

// RecordDriverError records a Terminal Driver error (metrics + log
// event). kind is the DriverError's ErrKind string.
func RecordDriverError(ctx context.Context, sessionName, kind string, err error) {
	initInstruments()
	inst.driverErrorTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
	emit(ctx, "driver.error", otellog.SeverityError,
		otellog.String("session", sessionName),
		otellog.String("kind", kind),
		errKV(err),
	)
}

// RecordInitializerLevel records one attempted escalation level
// (metrics + log event). level is "L1".."L4".
func RecordInitializerLevel(ctx context.Context, sessionName, level string, err error) {
	initInstruments()
	status := "ok"
	if err != nil {
		status = "error"
	}
	inst.initializerLevelTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("level", level),
			attribute.String("status", status),
		),
	)
	emit(ctx, "initializer.level", severity(err),
		otellog.String("session", sessionName),
		otellog.String("level", level),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordInitializerFailure records a terminal Initialize failure
// (metrics + log event). reason is the Failure's Reason string.
func RecordInitializerFailure(ctx context.Context, sessionName, reason string) {
	initInstruments()
	inst.initializerFailureTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
	emit(ctx, "initializer.failure", otellog.SeverityError,
		otellog.String("session", sessionName),
		otellog.String("reason", reason),
	)
}

// RecordWorkflowStep records a workflow step completion (metrics + log
// event).
func RecordWorkflowStep(ctx context.Context, executionID, stepID, status string, err error) {
	initInstruments()
	inst.workflowStepTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("step", stepID),
			attribute.String("status", status),
		),
	)
	emit(ctx, "workflow.step", severity(err),
		otellog.String("executionId", executionID),
		otellog.String("step", stepID),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordWorkflowFailure records a workflow execution ending failed
// (metrics + log event).
func RecordWorkflowFailure(ctx context.Context, executionID, detail string) {
	initInstruments()
	inst.workflowFailureTotal.Add(ctx, 1, metric.WithAttributes())
	emit(ctx, "workflow.failure", otellog.SeverityError,
		otellog.String("executionId", executionID),
		otellog.String("detail", detail),
	)
}
