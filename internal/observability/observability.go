// Package observability installs the process-wide slog logger.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

const instrumentationName = "github.com/florianilch/credcache"

// Telemetry selects the OpenTelemetry exporter used by the "otel" format.
type Telemetry struct {
	Exporter string // stdout or otlp
	Protocol string // http or grpc, for otlp
	Endpoint string // host:port or URL; empty defers to OTEL_EXPORTER_OTLP_* variables
}

// ShutdownFunc flushes and releases logging resources.
type ShutdownFunc func(context.Context) error

type options struct {
	writer io.Writer
}

// Option configures Instrument.
type Option func(*options)

// WithWriter redirects text, json and stdout-exported output. Defaults to stderr.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

// Instrument installs the default slog logger for format ("text", "json" or
// "otel") at the given level. The returned func must be called before exit
// so buffered records are exported.
func Instrument(ctx context.Context, level slog.Level, format string, telemetry Telemetry, opts ...Option) (ShutdownFunc, error) {
	o := options{writer: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	noop := func(context.Context) error { return nil }

	switch format {
	case "", "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(o.writer, &slog.HandlerOptions{Level: level})))
		return noop, nil
	case "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(o.writer, &slog.HandlerOptions{Level: level})))
		return noop, nil
	case "otel":
		return instrumentOTel(ctx, level, telemetry, o)
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

func instrumentOTel(ctx context.Context, level slog.Level, telemetry Telemetry, o options) (ShutdownFunc, error) {
	processor, err := newProcessor(ctx, telemetry, o)
	if err != nil {
		return nil, err
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(minsev.NewLogProcessor(processor, severity(level))),
	)
	global.SetLoggerProvider(provider)

	// Exporter failures must not recurse into the otel pipeline.
	fallback := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		fallback.Warn("opentelemetry error", "error", err)
	}))

	slog.SetDefault(slog.New(otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))))

	return func(ctx context.Context) error {
		return errors.Join(provider.ForceFlush(ctx), provider.Shutdown(ctx))
	}, nil
}

func newProcessor(ctx context.Context, telemetry Telemetry, o options) (sdklog.Processor, error) {
	switch telemetry.Exporter {
	case "", "stdout":
		exporter, err := stdoutlog.New(stdoutlog.WithWriter(o.writer))
		if err != nil {
			return nil, fmt.Errorf("creating stdout log exporter: %w", err)
		}
		return sdklog.NewSimpleProcessor(exporter), nil
	case "otlp":
		exporter, err := newOTLPExporter(ctx, telemetry)
		if err != nil {
			return nil, err
		}
		return sdklog.NewBatchProcessor(exporter), nil
	default:
		return nil, fmt.Errorf("unsupported telemetry exporter: %s", telemetry.Exporter)
	}
}

func newOTLPExporter(ctx context.Context, telemetry Telemetry) (sdklog.Exporter, error) {
	isURL := strings.Contains(telemetry.Endpoint, "://")

	switch telemetry.Protocol {
	case "", "http":
		var opts []otlploghttp.Option
		switch {
		case isURL:
			opts = append(opts, otlploghttp.WithEndpointURL(telemetry.Endpoint))
		case telemetry.Endpoint != "":
			opts = append(opts, otlploghttp.WithEndpoint(telemetry.Endpoint))
		}
		exporter, err := otlploghttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating otlp http log exporter: %w", err)
		}
		return exporter, nil
	case "grpc":
		var opts []otlploggrpc.Option
		switch {
		case isURL:
			opts = append(opts, otlploggrpc.WithEndpointURL(telemetry.Endpoint))
		case telemetry.Endpoint != "":
			opts = append(opts, otlploggrpc.WithEndpoint(telemetry.Endpoint))
		}
		exporter, err := otlploggrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating otlp grpc log exporter: %w", err)
		}
		return exporter, nil
	default:
		return nil, fmt.Errorf("unsupported telemetry protocol: %s", telemetry.Protocol)
	}
}

// severity maps a slog level onto the minimum otel severity.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level < slog.LevelInfo:
		return minsev.SeverityDebug
	case level < slog.LevelWarn:
		return minsev.SeverityInfo
	case level < slog.LevelError:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
