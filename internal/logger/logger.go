package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey struct{}

// Log is the process-wide logger. Usable before Initialize (stdout, info level).
var Log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

// Initialize replaces Log with a JSON logger writing to stdout and, when file is set,
// to a size-rotated log file.
func Initialize(level, file string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}

	var w io.Writer = os.Stdout
	if file != "" {
		rot := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
		}
		w = io.MultiWriter(os.Stdout, rot)
	}

	Log = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	return nil
}

// New returns a child logger tagged with component.
func New(component string) *slog.Logger {
	return Log.With("component", component)
}

func WithCtx(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromCtx returns the logger stored in ctx or Log.
func FromCtx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return Log
}

type responseData struct {
	status int
	size   int
}

type loggingResponseWriter struct {
	http.ResponseWriter
	data *responseData
}

func (w *loggingResponseWriter) Write(b []byte) (int, error) {
	size, err := w.ResponseWriter.Write(b)
	w.data.size += size
	return size, err
}

func (w *loggingResponseWriter) WriteHeader(statusCode int) {
	w.ResponseWriter.WriteHeader(statusCode)
	w.data.status = statusCode
}

// WithLogging logs every request and stores a request-scoped logger in the context.
func WithLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		data := &responseData{status: http.StatusOK}
		lw := &loggingResponseWriter{ResponseWriter: w, data: data}

		reqLog := Log.With("method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(lw, r.WithContext(WithCtx(r.Context(), reqLog)))

		reqLog.Info("request",
			"status", data.status,
			"size", data.size,
			"duration", time.Since(start),
		)
	})
}
