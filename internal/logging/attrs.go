package logging

import (
	"context"
	"log/slog"
)

// WithClient tags every record logged with ctx by the client the work is done for.
func WithClient(ctx context.Context, clientID string) context.Context {
	return WithAttrs(ctx, slog.String("client_id", clientID))
}

// WithTemplate tags every record logged with ctx by the template and seed of an allocation run.
func WithTemplate(ctx context.Context, templateID string, seed uint64) context.Context {
	return WithAttrs(ctx, slog.String("template_id", templateID), slog.Uint64("seed", seed))
}
