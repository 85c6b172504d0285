package run

import (
	"context"

	"github.com/google/uuid"
)

type contextKey int

const (
	runKey contextKey = iota
	deviceKey
)

// WithContext tags ctx with the run being executed.
func WithContext(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, runKey, id)
}

func FromContext(ctx context.Context) (uuid.UUID, bool) {
	return idFrom(ctx, runKey)
}

// WithDevice tags ctx with the run device a worker owns.
func WithDevice(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, deviceKey, id)
}

func DeviceFromContext(ctx context.Context) (uuid.UUID, bool) {
	return idFrom(ctx, deviceKey)
}

func idFrom(ctx context.Context, key contextKey) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.UUID{}, false
	}

	value := ctx.Value(key)
	if value == nil {
		return uuid.UUID{}, false
	}

	id, ok := value.(uuid.UUID)
	return id, ok
}
