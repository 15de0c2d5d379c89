package middleware

import (
	"context"

	"github.com/angelmondragon/greenhouse/internal/storefront"
)

type contextKey string

const (
	ctxDeviceID contextKey = "device_id"
	ctxSession  contextKey = "cart_session"
)

func DeviceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxDeviceID).(string); ok {
		return v
	}
	return ""
}

// SessionFromContext returns the cart session resolved by DeviceContext.
func SessionFromContext(ctx context.Context) *storefront.Session {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxSession).(*storefront.Session); ok {
		return v
	}
	return nil
}

// WithSession injects the device's cart session into the context.
func WithSession(ctx context.Context, sess *storefront.Session) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxDeviceID, sess.DeviceID)
	return context.WithValue(ctx, ctxSession, sess)
}
