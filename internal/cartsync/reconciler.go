// Package cartsync mirrors a device's cart into the remote per-user table
// while a shopper is signed in, and seeds the cart from that table at
// sign-in. Remote failures are logged and never reach the caller.
package cartsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/angelmondragon/greenhouse/internal/cart"
	"github.com/angelmondragon/greenhouse/internal/session"
	"github.com/angelmondragon/greenhouse/pkg/enums"
	"github.com/angelmondragon/greenhouse/pkg/logger"
	"github.com/angelmondragon/greenhouse/pkg/metrics"
)

const (
	defaultQuietPeriod   = 2 * time.Second
	defaultRemoteTimeout = 10 * time.Second
)

// Remote is the per-user cart table.
type Remote interface {
	FetchRows(ctx context.Context, userID string) ([]cart.RemoteRow, error)
	ReplaceRows(ctx context.Context, userID string, rows []cart.RowInput) error
}

// LocalCart is the surface of the local store the reconciler reads from and
// writes into.
type LocalCart interface {
	Lines() []cart.Line
	ReplaceWith(ctx context.Context, fn func(current []cart.Line) []cart.Line)
	Clear(ctx context.Context)
	OnChange(fn func(cart.Mutation))
}

// AuthSource publishes sign-in state changes.
type AuthSource interface {
	CurrentUserID() (string, bool)
	Subscribe(fn func(session.Transition)) func()
}

type Params struct {
	Store         LocalCart
	Auth          AuthSource
	Remote        Remote
	Logger        *logger.Logger
	Metrics       *metrics.CartMetrics
	QuietPeriod   time.Duration
	RemoteTimeout time.Duration
	Now           func() time.Time
	// Context carries log fields (device id) into background work.
	Context context.Context
}

// Reconciler drives the idle → loading → synced lifecycle for one device.
type Reconciler struct {
	store         LocalCart
	remote        Remote
	logg          *logger.Logger
	metrics       *metrics.CartMetrics
	remoteTimeout time.Duration
	now           func() time.Time
	baseCtx       context.Context
	debouncer     *Debouncer
	unsubscribe   func()

	// transitionMu orders sign-in/sign-out handling with the application of
	// fetched rows.
	transitionMu sync.Mutex

	mu         sync.Mutex
	phase      enums.SyncPhase
	userID     string
	generation uint64
	closed     bool
	inflight   sync.WaitGroup
}

// New wires a reconciler to the store and auth context. If a user is already
// signed in the initial fetch starts immediately.
func New(params Params) (*Reconciler, error) {
	if params.Store == nil {
		return nil, errors.New("cart store required")
	}
	if params.Auth == nil {
		return nil, errors.New("auth source required")
	}
	if params.Remote == nil {
		return nil, errors.New("remote cart required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	quiet := params.QuietPeriod
	if quiet <= 0 {
		quiet = defaultQuietPeriod
	}
	timeout := params.RemoteTimeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	baseCtx := params.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	r := &Reconciler{
		store:         params.Store,
		remote:        params.Remote,
		logg:          logg,
		metrics:       params.Metrics,
		remoteTimeout: timeout,
		now:           now,
		baseCtx:       context.WithoutCancel(baseCtx),
		phase:         enums.SyncPhaseIdle,
	}
	r.debouncer = NewDebouncer(quiet, r.push)

	r.store.OnChange(r.onMutation)
	r.unsubscribe = params.Auth.Subscribe(r.onTransition)
	if userID, ok := params.Auth.CurrentUserID(); ok {
		r.onTransition(session.Transition{Authenticated: true, UserID: userID})
	}
	return r, nil
}

// Phase reports the current lifecycle phase.
func (r *Reconciler) Phase() enums.SyncPhase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// PushPending reports whether a debounced push is waiting for its quiet period.
func (r *Reconciler) PushPending() bool {
	return r.debouncer.Pending()
}

// Close sends any pending push right away, stops the timer and waits for
// in-flight remote calls or ctx expiry.
func (r *Reconciler) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	r.debouncer.Flush()
	r.debouncer.Stop()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconciler) onTransition(t session.Transition) {
	if t.Authenticated {
		r.beginSync(t.UserID)
		return
	}
	r.endSync()
}

func (r *Reconciler) beginSync(userID string) {
	r.transitionMu.Lock()
	defer r.transitionMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.generation++
	gen := r.generation
	r.userID = userID
	r.phase = enums.SyncPhaseLoading
	r.inflight.Add(1)
	r.mu.Unlock()

	r.debouncer.Cancel()
	go r.fetch(gen, userID)
}

func (r *Reconciler) endSync() {
	r.transitionMu.Lock()
	defer r.transitionMu.Unlock()

	r.mu.Lock()
	r.generation++
	r.userID = ""
	r.phase = enums.SyncPhaseIdle
	r.mu.Unlock()

	r.debouncer.Cancel()
	r.store.Clear(r.baseCtx)
	r.logg.Info(r.baseCtx, "cart.sync.signed_out")
}

func (r *Reconciler) fetch(gen uint64, userID string) {
	defer r.inflight.Done()

	ctx := r.logg.WithUserID(r.baseCtx, userID)
	fetchCtx, cancel := context.WithTimeout(ctx, r.remoteTimeout)
	start := time.Now()
	rows, err := r.remote.FetchRows(fetchCtx, userID)
	cancel()
	r.metrics.ObserveSync(metrics.OpFetch, time.Since(start), err)

	r.transitionMu.Lock()
	defer r.transitionMu.Unlock()

	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		r.logg.Debug(ctx, "cart.sync.fetch_discarded")
		return
	}
	r.phase = enums.SyncPhaseSynced
	r.mu.Unlock()

	if err != nil {
		r.logg.WarnErr(ctx, "cart.sync.fetch_failed", err)
		return
	}

	now := r.now().UTC()
	r.store.ReplaceWith(ctx, func(current []cart.Line) []cart.Line {
		return Merge(current, rows, now)
	})
	r.logg.Info(r.logg.WithField(ctx, "remote_rows", len(rows)), "cart.sync.merged")
}

func (r *Reconciler) onMutation(cart.Mutation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.phase != enums.SyncPhaseSynced {
		return
	}
	if r.debouncer.Trigger() {
		r.metrics.IncDebounceReset()
	}
}

func (r *Reconciler) push() {
	r.mu.Lock()
	if r.phase != enums.SyncPhaseSynced {
		r.mu.Unlock()
		return
	}
	gen := r.generation
	userID := r.userID
	r.inflight.Add(1)
	r.mu.Unlock()
	defer r.inflight.Done()

	rows := RowsFromLines(r.store.Lines())

	r.mu.Lock()
	stale := gen != r.generation
	r.mu.Unlock()
	if stale {
		return
	}

	ctx := r.logg.WithUserID(r.baseCtx, userID)
	pushCtx, cancel := context.WithTimeout(ctx, r.remoteTimeout)
	defer cancel()
	start := time.Now()
	err := r.remote.ReplaceRows(pushCtx, userID, rows)
	r.metrics.ObserveSync(metrics.OpPush, time.Since(start), err)
	if err != nil {
		r.logg.WarnErr(r.logg.WithField(ctx, "rows", len(rows)), "cart.sync.push_failed", err)
		return
	}
	r.logg.Debug(r.logg.WithField(ctx, "rows", len(rows)), "cart.sync.pushed")
}
