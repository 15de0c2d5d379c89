// Package storefront owns the per-device cart sessions served by the API.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/greenhouse/internal/cart"
	"github.com/angelmondragon/greenhouse/internal/cartsync"
	"github.com/angelmondragon/greenhouse/internal/session"
	"github.com/angelmondragon/greenhouse/pkg/config"
	pkgerrors "github.com/angelmondragon/greenhouse/pkg/errors"
	"github.com/angelmondragon/greenhouse/pkg/logger"
	"github.com/angelmondragon/greenhouse/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

var ErrRegistryClosed = errors.New("session registry closed")

// Session bundles the cart, sign-in state and remote sync of one device.
type Session struct {
	DeviceID   string
	Store      *cart.Store
	Auth       *session.Auth
	Reconciler *cartsync.Reconciler

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

type RegistryParams struct {
	Storage cart.Storage
	Remote  cartsync.Remote
	Config  config.CartConfig
	Logger  *logger.Logger
	Metrics *metrics.CartMetrics
	Now     func() time.Time
}

// Registry creates sessions on first use and evicts them once idle.
type Registry struct {
	storage cart.Storage
	remote  cartsync.Remote
	cfg     config.CartConfig
	logg    *logger.Logger
	metrics *metrics.CartMetrics
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

func NewRegistry(params RegistryParams) (*Registry, error) {
	if params.Storage == nil {
		return nil, errors.New("cart storage required")
	}
	if params.Remote == nil {
		return nil, errors.New("remote cart required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		storage:  params.Storage,
		remote:   params.Remote,
		cfg:      params.Config,
		logg:     logg,
		metrics:  params.Metrics,
		now:      now,
		sessions: map[string]*Session{},
	}, nil
}

// Get returns the device's session, creating and loading it on first use.
func (r *Registry) Get(ctx context.Context, deviceID string) (*Session, error) {
	id, err := uuid.Parse(deviceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid device id")
	}
	deviceID = id.String()

	if sess, err := r.lookup(deviceID); sess != nil || err != nil {
		return sess, err
	}

	// Built outside the lock so a slow storage read does not stall other
	// devices. A concurrent creator may win; the loser is discarded.
	sess, err := r.build(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.discard(ctx, sess)
		return nil, ErrRegistryClosed
	}
	if existing, ok := r.sessions[deviceID]; ok {
		existing.touch(r.now())
		r.mu.Unlock()
		r.discard(ctx, sess)
		return existing, nil
	}
	r.sessions[deviceID] = sess
	count := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SetActiveSessions(count)
	r.logg.Info(r.logg.WithDeviceID(ctx, deviceID), "cart.session.created")
	return sess, nil
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) lookup(deviceID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	sess, ok := r.sessions[deviceID]
	if !ok {
		return nil, nil
	}
	sess.touch(r.now())
	return sess, nil
}

func (r *Registry) build(ctx context.Context, deviceID string) (*Session, error) {
	sessCtx := r.logg.WithDeviceID(context.WithoutCancel(ctx), deviceID)

	store, err := cart.NewStore(cart.StoreParams{
		Key:            fmt.Sprintf("%s:%s", r.cfg.StorageKey, deviceID),
		Storage:        r.storage,
		Logger:         r.logg,
		Metrics:        r.metrics,
		StorageTimeout: r.cfg.StorageTimeout,
	})
	if err != nil {
		return nil, err
	}
	store.Load(sessCtx)

	auth := session.NewAuth()
	reconciler, err := cartsync.New(cartsync.Params{
		Store:         store,
		Auth:          auth,
		Remote:        r.remote,
		Logger:        r.logg,
		Metrics:       r.metrics,
		QuietPeriod:   r.cfg.SyncQuietPeriod,
		RemoteTimeout: r.cfg.RemoteTimeout,
		Context:       sessCtx,
	})
	if err != nil {
		return nil, err
	}

	return &Session{
		DeviceID:   deviceID,
		Store:      store,
		Auth:       auth,
		Reconciler: reconciler,
		lastSeen:   r.now(),
	}, nil
}

func (r *Registry) discard(ctx context.Context, sess *Session) {
	if err := sess.Reconciler.Close(ctx); err != nil {
		r.logg.WarnErr(r.logg.WithDeviceID(ctx, sess.DeviceID), "cart.session.discard_failed", err)
	}
}

// Sweep evicts sessions idle for longer than the configured TTL. Evicted
// sessions flush their pending push before they are dropped. A signed-in
// session is then signed out and its cart cleared, since its sign-in state
// does not outlive the session.
func (r *Registry) Sweep(ctx context.Context) int {
	ttl := r.cfg.SessionIdleTTL
	if ttl <= 0 {
		return 0
	}
	now := r.now()

	r.mu.Lock()
	var evicted []*Session
	for id, sess := range r.sessions {
		if sess.idleSince(now) > ttl {
			evicted = append(evicted, sess)
			delete(r.sessions, id)
		}
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if len(evicted) == 0 {
		return 0
	}
	r.metrics.SetActiveSessions(count)
	for _, sess := range evicted {
		sessCtx := r.logg.WithDeviceID(ctx, sess.DeviceID)
		if err := r.expire(sessCtx, sess); err != nil {
			r.logg.WarnErr(sessCtx, "cart.session.evict_failed", err)
		}
	}
	return len(evicted)
}

// expire closes sess and, when a shopper is signed in, signs them out and
// clears the cart. The reconciler no longer listens after Close, so the
// sign-out clear happens here.
func (r *Registry) expire(ctx context.Context, sess *Session) error {
	err := sess.Reconciler.Close(ctx)
	if sess.Auth.IsAuthenticated() {
		sess.Auth.SignOut()
		sess.Store.Clear(ctx)
		r.logg.Info(ctx, "cart.session.signed_out")
	}
	r.logg.Debug(ctx, "cart.session.expired")
	return err
}

// Run sweeps idle sessions on every interval tick until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	interval := r.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := r.Sweep(ctx); n > 0 {
				r.logg.Info(r.logg.WithField(ctx, "evicted", n), "cart.session.sweep")
			}
		}
	}
}

// Close shuts every session down like an eviction, flushing pending pushes,
// and rejects further Get calls.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = map[string]*Session{}
	r.mu.Unlock()

	var errs error
	for _, sess := range sessions {
		if err := r.expire(r.logg.WithDeviceID(ctx, sess.DeviceID), sess); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close session %s: %w", sess.DeviceID, err))
		}
	}
	r.metrics.SetActiveSessions(0)
	return errs
}
