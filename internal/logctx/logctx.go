// Package logctx enriches slog records with per-attempt authentication
// context carried on the context.Context.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps a slog.Handler and appends the attempt group to every record
// whose context carries attempt data.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if ad, ok := ctx.Value(attemptDataKey{}).(*AttemptData); ok {
		r.AddAttrs(slog.Group("attempt",
			slog.String("id", ad.AttemptID),
			slog.String("configuration", ad.Configuration),
			slog.String("grant_type", ad.GrantType),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type attemptDataKey struct{}

// AttemptData identifies a single authentication attempt.
type AttemptData struct {
	AttemptID     string
	Configuration string
	GrantType     string
}

func WithAttemptData(ctx context.Context, data *AttemptData) context.Context {
	return context.WithValue(ctx, attemptDataKey{}, data)
}
