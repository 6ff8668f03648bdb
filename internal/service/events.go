// Package service provides application business logic for conversations,
// messages, typing, profiles, preferences and authentication.
package service

import (
	"context"

	"signbridge/internal/middleware"
	"signbridge/internal/realtime"
)

// ChangePublisher receives committed row changes for realtime delivery.
type ChangePublisher interface {
	PublishChange(ctx context.Context, ch realtime.Change) error
}

// NopPublisher drops every change.
type NopPublisher struct{}

// PublishChange implements ChangePublisher.
func (NopPublisher) PublishChange(context.Context, realtime.Change) error { return nil }

// publish emits ch after the write has committed. Delivery failures are
// logged; the write itself already succeeded.
func publish(ctx context.Context, p ChangePublisher, ch realtime.Change) {
	if p == nil {
		return
	}
	if err := p.PublishChange(ctx, ch); err != nil {
		middleware.Logger.WarnContext(ctx, "change publish failed",
			"table", ch.Table, "type", string(ch.Type), "error", err)
	}
}
