package telemetry

import "context"

type requestIDKey struct{}

// WithRequestID returns a context carrying the id of the request that caused the work.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id stored by WithRequestID, if any.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Fields adds the request id from ctx to fields so related events can be joined.
func Fields(ctx context.Context, fields map[string]any) map[string]any {
	if id := RequestID(ctx); id != "" {
		if fields == nil {
			fields = map[string]any{}
		}
		fields["request_id"] = id
	}
	return fields
}
