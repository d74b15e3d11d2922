package events

import "context"

type EventMeta struct {
	CorrelationID string
	CausationID   string
	PartitionKey  string
}

type metaKey struct{}

// WithEventMeta attaches the correlation of the message being handled so that
// events published while handling it can reference it.
func WithEventMeta(ctx context.Context, meta EventMeta) context.Context {
	return context.WithValue(ctx, metaKey{}, meta)
}

func eventMetaFrom(ctx context.Context) EventMeta {
	meta, _ := ctx.Value(metaKey{}).(EventMeta)
	return meta
}
