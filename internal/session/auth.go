// Package session tracks whether a device's shopper is signed in and
// publishes every change of that state to subscribers.
package session

import (
	"strings"
	"sync"

	"github.com/angelmondragon/greenhouse/pkg/auth"
	"github.com/angelmondragon/greenhouse/pkg/config"
	pkgerrors "github.com/angelmondragon/greenhouse/pkg/errors"
)

// Transition is published whenever the authentication state changes.
type Transition struct {
	Authenticated bool
	UserID        string
}

// Auth is the observable authentication context of one device.
type Auth struct {
	mu            sync.RWMutex
	authenticated bool
	userID        string

	// publishMu keeps transitions delivered in the order they happened.
	publishMu   sync.Mutex
	subsMu      sync.RWMutex
	subscribers map[int]func(Transition)
	nextSubID   int
}

// NewAuth returns a signed-out context.
func NewAuth() *Auth {
	return &Auth{subscribers: map[int]func(Transition){}}
}

func (a *Auth) IsAuthenticated() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.authenticated
}

// CurrentUserID returns the signed-in user and whether one is present.
func (a *Auth) CurrentUserID() (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.userID, a.authenticated
}

// Subscribe registers fn for future transitions and returns a function that
// removes it.
func (a *Auth) Subscribe(fn func(Transition)) func() {
	a.subsMu.Lock()
	id := a.nextSubID
	a.nextSubID++
	a.subscribers[id] = fn
	a.subsMu.Unlock()

	return func() {
		a.subsMu.Lock()
		delete(a.subscribers, id)
		a.subsMu.Unlock()
	}
}

// SignIn marks userID as signed in. Signing in the current user again is a
// no-op; signing in a different user publishes a sign-out first.
func (a *Auth) SignIn(userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	a.publishMu.Lock()
	defer a.publishMu.Unlock()

	a.mu.Lock()
	if a.authenticated && a.userID == userID {
		a.mu.Unlock()
		return nil
	}
	switched := a.authenticated
	a.authenticated = true
	a.userID = userID
	a.mu.Unlock()

	if switched {
		a.publish(Transition{Authenticated: false})
	}
	a.publish(Transition{Authenticated: true, UserID: userID})
	return nil
}

// SignOut clears the signed-in user. It is a no-op when nobody is signed in.
func (a *Auth) SignOut() {
	a.publishMu.Lock()
	defer a.publishMu.Unlock()

	a.mu.Lock()
	if !a.authenticated {
		a.mu.Unlock()
		return
	}
	a.authenticated = false
	a.userID = ""
	a.mu.Unlock()

	a.publish(Transition{Authenticated: false})
}

// SignInWithToken verifies a shopper access token and signs in its user.
func (a *Auth) SignInWithToken(cfg config.JWTConfig, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "access token is required")
	}
	claims, err := auth.ParseAccessToken(cfg, token)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid access token")
	}
	userID := claims.UserID.String()
	if err := a.SignIn(userID); err != nil {
		return "", err
	}
	return userID, nil
}

func (a *Auth) publish(t Transition) {
	a.subsMu.RLock()
	subs := make([]func(Transition), 0, len(a.subscribers))
	for id := 0; id < a.nextSubID; id++ {
		if fn, ok := a.subscribers[id]; ok {
			subs = append(subs, fn)
		}
	}
	a.subsMu.RUnlock()

	for _, fn := range subs {
		fn(t)
	}
}
