// Package logger is the process-wide structured logger. Records carry the
// active trace and span IDs so log lines can be joined with traces.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Options configures Init. The zero value logs JSON at info level to stdout.
type Options struct {
	Level     string
	Format    string
	AddSource bool
	Service   string
	Output    io.Writer
}

type state struct {
	logger    *slog.Logger
	addSource bool
}

//nolint:gochecknoglobals // process-wide logger
var current atomic.Pointer[state]

// traceHandler adds OpenTelemetry trace context to each record.
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
		if spanCtx.IsSampled() {
			r.AddAttrs(slog.Bool("trace_sampled", true))
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}

// Init installs a new global logger. Later calls replace earlier ones.
func Init(opts Options) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     parseLevel(opts.Level),
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		handler = slog.NewTextHandler(out, handlerOpts)
	} else {
		handlerOpts.ReplaceAttr = func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{Key: "timestamp", Value: a.Value}
			}
			return a
		}
		handler = slog.NewJSONHandler(out, handlerOpts)
	}

	l := slog.New(&traceHandler{Handler: handler})
	if opts.Service != "" {
		l = l.With(slog.String("service", opts.Service))
	}

	current.Store(&state{logger: l, addSource: opts.AddSource})
}

// InitLogger is shorthand for Init with stdout output.
func InitLogger(level, format string, enableSource bool) {
	Init(Options{Level: level, Format: format, AddSource: enableSource})
}

// Logger returns the global logger, or a logger that discards everything
// when Init has not been called.
func Logger() *slog.Logger {
	if s := current.Load(); s != nil {
		return s.logger
	}
	return slog.New(slog.DiscardHandler)
}

func DebugContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	log(ctx, slog.LevelDebug, msg, attrs)
}

func InfoContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	log(ctx, slog.LevelInfo, msg, attrs)
}

func WarnContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	log(ctx, slog.LevelWarn, msg, attrs)
}

func ErrorContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	log(ctx, slog.LevelError, msg, attrs)
}

func log(ctx context.Context, level slog.Level, msg string, attrs []slog.Attr) {
	s := current.Load()
	if s == nil {
		return
	}

	handler := s.logger.Handler()
	if !handler.Enabled(ctx, level) {
		return
	}

	var pc uintptr
	if s.addSource {
		// skip runtime.Callers, log and the exported wrapper
		var pcs [1]uintptr
		runtime.Callers(3, pcs[:])
		pc = pcs[0]
	}

	r := slog.NewRecord(time.Now(), level, msg, pc)
	r.AddAttrs(attrs...)
	_ = handler.Handle(ctx, r)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
