package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/greenhouse/api/responses"
	"github.com/angelmondragon/greenhouse/internal/storefront"
	pkgerrors "github.com/angelmondragon/greenhouse/pkg/errors"
	"github.com/angelmondragon/greenhouse/pkg/logger"
	"github.com/google/uuid"
)

const DeviceIDHeader = "X-Device-Id"

// SessionProvider resolves the cart session of a device.
type SessionProvider interface {
	Get(ctx context.Context, deviceID string) (*storefront.Session, error)
}

// DeviceContext requires a UUID X-Device-Id header and attaches the device's
// cart session to the request context.
func DeviceContext(sessions SessionProvider, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(DeviceIDHeader))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "X-Device-Id header is required"))
				return
			}
			if _, err := uuid.Parse(raw); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "X-Device-Id must be a uuid"))
				return
			}

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithDeviceID(ctx, raw)
			}

			sess, err := sessions.Get(ctx, raw)
			if err != nil {
				if pkgerrors.As(err) == nil {
					err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cart session unavailable")
				}
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if logg != nil {
				if userID, ok := sess.Auth.CurrentUserID(); ok {
					ctx = logg.WithUserID(ctx, userID)
				}
			}

			next.ServeHTTP(w, r.WithContext(WithSession(ctx, sess)))
		})
	}
}
