package http

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/trace"
)

type ctxKey string

const loggerKey ctxKey = "logger"

// RequestIDLogMiddleware builds a request-scoped logger carrying the Fiber
// request ID (and the trace ID when a span is active) and stores it in the
// user context, where LoggerFromCtx finds it.
func RequestIDLogMiddleware(base *slog.Logger) fiber.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(c *fiber.Ctx) error {
		rid, _ := c.Locals("requestid").(string)
		if rid == "" {
			return c.Next()
		}

		ctx := c.UserContext()
		reqLogger := base.With("request_id", rid)
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			reqLogger = reqLogger.With("trace_id", sc.TraceID().String())
		}
		c.SetUserContext(context.WithValue(ctx, loggerKey, reqLogger))

		return c.Next()
	}
}

// LoggerFromCtx extracts the per-request logger, falling back to the
// default logger.
func LoggerFromCtx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
