package controllers

import (
	"net/http"

	"github.com/angelmondragon/greenhouse/api/responses"
	"github.com/angelmondragon/greenhouse/api/validators"
	"github.com/angelmondragon/greenhouse/internal/storefront"
	"github.com/angelmondragon/greenhouse/pkg/config"
	"github.com/angelmondragon/greenhouse/pkg/enums"
	"github.com/angelmondragon/greenhouse/pkg/logger"
)

type signInRequest struct {
	AccessToken string `json:"access_token" validate:"required"`
}

type sessionResponse struct {
	Authenticated bool            `json:"authenticated"`
	UserID        *string         `json:"user_id"`
	SyncPhase     enums.SyncPhase `json:"sync_phase"`
}

func newSessionResponse(sess *storefront.Session) sessionResponse {
	resp := sessionResponse{SyncPhase: sess.Reconciler.Phase()}
	if userID, ok := sess.Auth.CurrentUserID(); ok {
		resp.Authenticated = true
		resp.UserID = &userID
	}
	return resp
}

// SessionGet reports the device's sign-in state and sync phase.
func SessionGet(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionOrError(w, r, logg)
		if sess == nil {
			return
		}
		responses.WriteSuccess(w, newSessionResponse(sess))
	}
}

// SessionSignIn verifies a shopper access token and signs the device in,
// which starts the remote cart merge in the background.
func SessionSignIn(cfg config.JWTConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionOrError(w, r, logg)
		if sess == nil {
			return
		}

		var payload signInRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID, err := sess.Auth.SignInWithToken(cfg, payload.AccessToken)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(logg.WithUserID(r.Context(), userID), "session.signed_in")
		}

		responses.WriteSuccess(w, newSessionResponse(sess))
	}
}

// SessionSignOut signs the device out. The cart is cleared locally and in
// storage; the remote rows are left as they are.
func SessionSignOut(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionOrError(w, r, logg)
		if sess == nil {
			return
		}

		sess.Auth.SignOut()
		responses.WriteSuccess(w, newSessionResponse(sess))
	}
}
