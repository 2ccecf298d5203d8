// Package stages implements the five canonical pipeline stages: logger,
// CORS, rate-limit, select (breaker + load balancer), and proxy.
package stages

import (
	"net/http"
	"time"

	"github.com/mir00r/gateway/internal/domain"
	"github.com/mir00r/gateway/internal/middleware"
	"github.com/mir00r/gateway/pkg/logger"
)

// statusWriter wraps http.ResponseWriter to capture the status code and
// byte count the logger stage needs to report, grounded on the teacher's
// responseWriter in internal/middleware/common.go.
type statusWriter struct {
	http.ResponseWriter
	status int
	size   int64
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += int64(n)
	return n, err
}

// Logger is the first pipeline stage: it runs before everything else so
// that even requests rejected by a later stage are logged with their
// final status and elapsed time, per spec.md §4.4.
type Logger struct {
	log *logger.Logger
}

// NewLogger constructs the logger stage.
func NewLogger(log *logger.Logger) *Logger {
	return &Logger{log: log}
}

func (l *Logger) Name() string { return "logger" }

func (l *Logger) Handle(ctx *middleware.Context, next middleware.Next) {
	reqCtx := domain.NewRequestContext(ctx.Request)
	ctx.Set("request_id", reqCtx.RequestID)

	sw := &statusWriter{ResponseWriter: ctx.Writer, status: http.StatusOK}
	ctx.Writer = sw

	requestLog := l.log.RequestLogger(reqCtx.RequestID, reqCtx.Method, reqCtx.Path, reqCtx.RemoteAddr)
	requestLog.Debug("request started")

	next()

	duration := time.Since(ctx.Start)
	fields := map[string]interface{}{
		"status_code": sw.status,
		"duration_ms": duration.Milliseconds(),
		"size_bytes":  sw.size,
	}
	for k, v := range ctx.Snapshot() {
		fields[k] = v
	}
	entry := requestLog.WithFields(fields)

	switch {
	case sw.status >= 500:
		entry.Error("request completed with server error")
	case sw.status >= 400:
		entry.Warn("request completed with client error")
	default:
		entry.Info("request completed")
	}
}
