package internal

import (
	"io"
	"log/slog"
	"time"

	"github.com/dukerupert/franchise/internal/domain"
)

// NewLogger builds the process logger: JSON in prod, text otherwise.
// Every record carries the service name so shipped logs can be filtered.
func NewLogger(w io.Writer, env string, level string) *slog.Logger {
	lv := new(slog.LevelVar) // Info by default
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		slog.Default().Warn("Invalid log level. Using default level: info", slog.String("value", level))
	}

	opts := &slog.HandlerOptions{
		Level:       lv,
		ReplaceAttr: replaceAttr(env == "prod"),
	}

	var h slog.Handler
	if env == "prod" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		opts.AddSource = lv.Level() == slog.LevelDebug
		h = slog.NewTextHandler(w, opts)
	}

	return slog.New(h).With("service", "franchise")
}

// replaceAttr pins prod timestamps to RFC3339Nano and expands error values
// into a group so failures can be counted by code and operation.
func replaceAttr(prod bool) func(groups []string, a slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if prod && len(groups) == 0 && a.Key == slog.TimeKey {
			return slog.String(slog.TimeKey, a.Value.Time().Format(time.RFC3339Nano))
		}
		if a.Value.Kind() != slog.KindAny {
			return a
		}
		err, ok := a.Value.Any().(error)
		if !ok || err == nil {
			return a
		}
		return errorAttr(a.Key, err)
	}
}

func errorAttr(key string, err error) slog.Attr {
	attrs := []any{
		slog.String("msg", err.Error()),
		slog.String("code", domain.ErrorCode(err)),
	}
	if op := domain.ErrorOp(err); op != "" {
		attrs = append(attrs, slog.String("op", op))
	}
	return slog.Group(key, attrs...)
}
