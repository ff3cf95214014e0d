package logctx

import (
	"context"
	"log/slog"
)

type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if md, ok := ctx.Value(managerDataKey{}).(*ManagerData); ok {
		r.AddAttrs(slog.Group("mgr",
			slog.String("id", md.ManagerID),
			slog.Int("pool_size", md.PoolSize),
		))
	}

	if sd, ok := ctx.Value(slotDataKey{}).(*SlotData); ok {
		r.AddAttrs(slog.Group("slot",
			slog.Int("index", sd.Index),
			slog.String("system_id", sd.SystemID),
			slog.String("media_type", sd.MediaType),
			slog.String("key_ids", sd.KeyIDs),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type managerDataKey struct{}

type ManagerData struct {
	ManagerID string
	PoolSize  int
}

func WithManagerData(ctx context.Context, data *ManagerData) context.Context {
	return context.WithValue(ctx, managerDataKey{}, data)
}

type slotDataKey struct{}

type SlotData struct {
	Index     int
	SystemID  string
	MediaType string
	KeyIDs    string
}

func WithSlotData(ctx context.Context, data *SlotData) context.Context {
	return context.WithValue(ctx, slotDataKey{}, data)
}
