package logging

import (
	"context"
	"log/slog"
	"time"

	"tubemux/internal/services"
)

type Attr = slog.Attr

func Any(key string, value any) Attr { return slog.Any(key, value) }

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Float64(key string, value float64) Attr { return slog.Float64(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// Args converts attributes into the variadic form slog methods expect.
func Args(attrs ...Attr) []any {
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return args
}

func NewNop() *slog.Logger {
	return slog.New(NoopHandler{})
}

// NewComponentLogger creates a logger with a standardized component attribute.
// If logger is nil, a no-op logger is used as the base.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// ErrorAttrs expands a classified error into kind, operation, and hint fields.
func ErrorAttrs(err error) []Attr {
	if err == nil {
		return nil
	}
	details := services.Details(err)
	attrs := []Attr{
		Error(err),
		String(FieldErrorKind, string(details.Kind)),
	}
	if details.Operation != "" {
		attrs = append(attrs, String(FieldOperation, details.Operation))
	}
	if hint := errorHint(details.Kind); hint != "" {
		attrs = append(attrs, String(FieldErrorHint, hint))
	}
	return attrs
}

func errorHint(kind services.ErrorKind) string {
	switch kind {
	case services.KindInvalidSource:
		return "check the source reference and that yt-dlp can resolve it"
	case services.KindTransferFailure:
		return "network or disk failure while streaming; retry the job"
	case services.KindMergeFailure:
		return "ffmpeg could not copy the streams; pick a muxed encoding"
	case services.KindNoMatchingCounterpart:
		return "no audio-only encoding exists; pick a muxed encoding"
	case services.KindConfiguration:
		return "check tubemux config and external binaries"
	default:
		return ""
	}
}

// WarnWithContext logs a warning with an enforced event_type field.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = append(attrs, String(FieldEventType, eventType))
	logger.Warn(msg, Args(attrs...)...)
}

// NoopHandler discards all log output.
type NoopHandler struct{}

func (NoopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (NoopHandler) Handle(context.Context, slog.Record) error { return nil }

func (NoopHandler) WithAttrs([]slog.Attr) slog.Handler { return NoopHandler{} }

func (NoopHandler) WithGroup(string) slog.Handler { return NoopHandler{} }
