// Package observability provides metrics, tracing and realtime logging helpers.
package observability

import (
	"context"
	"log/slog"
	"os"
)

// WSLogger logs realtime connection lifecycle events with a fixed hub label.
type WSLogger struct {
	hub    string
	logger *slog.Logger
}

// NewWSLogger returns a WSLogger writing through l, or a stdout JSON logger when l is nil.
func NewWSLogger(hub string, l *slog.Logger) *WSLogger {
	if l == nil {
		l = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return &WSLogger{hub: hub, logger: l}
}

// LogConnect logs a new connection.
func (l *WSLogger) LogConnect(ctx context.Context, userID uint, connID string) {
	l.logger.InfoContext(ctx, "realtime connected",
		slog.String("hub", l.hub),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("conn_id", connID),
	)
}

// LogDisconnect logs a closed connection.
func (l *WSLogger) LogDisconnect(ctx context.Context, userID uint, connID, reason string) {
	l.logger.InfoContext(ctx, "realtime disconnected",
		slog.String("hub", l.hub),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("conn_id", connID),
		slog.String("reason", reason),
	)
}

// LogSubscribe logs a subscription change.
func (l *WSLogger) LogSubscribe(ctx context.Context, userID uint, table, filter string, joined bool) {
	msg := "realtime subscribed"
	if !joined {
		msg = "realtime unsubscribed"
	}
	l.logger.DebugContext(ctx, msg,
		slog.String("hub", l.hub),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("table", table),
		slog.String("filter", filter),
	)
}

// LogError logs a failed realtime operation.
func (l *WSLogger) LogError(ctx context.Context, userID uint, op string, err error) {
	l.logger.ErrorContext(ctx, "realtime error",
		slog.String("hub", l.hub),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
}

// LogLifecycle logs hub start/stop style events.
func (l *WSLogger) LogLifecycle(ctx context.Context, event string, attrs ...any) {
	l.logger.InfoContext(ctx, "realtime lifecycle",
		append([]any{slog.String("hub", l.hub), slog.String("event", event)}, attrs...)...)
}
