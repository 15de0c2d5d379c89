package cartsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/greenhouse/internal/cart"
	"github.com/angelmondragon/greenhouse/internal/session"
	"github.com/angelmondragon/greenhouse/pkg/enums"
	"github.com/angelmondragon/greenhouse/pkg/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testQuiet   = 50 * time.Millisecond
	waitFor     = 2 * time.Second
	pollEvery   = 5 * time.Millisecond
	storageKey  = "cart:device-1"
	testUser    = "user-1"
	anotherUser = "user-2"
)

type fakeRemote struct {
	mu        sync.Mutex
	rows      map[string][]cart.RemoteRow
	fetchErr  error
	pushErr   error
	fetchGate chan struct{}
	fetches   int
	pushes    [][]cart.RowInput
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{rows: map[string][]cart.RemoteRow{}}
}

func (f *fakeRemote) FetchRows(ctx context.Context, userID string) ([]cart.RemoteRow, error) {
	f.mu.Lock()
	gate := f.fetchGate
	f.fetches++
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]cart.RemoteRow(nil), f.rows[userID]...), nil
}

func (f *fakeRemote) ReplaceRows(ctx context.Context, userID string, rows []cart.RowInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, append([]cart.RowInput(nil), rows...))
	return f.pushErr
}

func (f *fakeRemote) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (f *fakeRemote) lastPush() []cart.RowInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pushes) == 0 {
		return nil
	}
	return f.pushes[len(f.pushes)-1]
}

type harness struct {
	store   *cart.Store
	primary *storage.MemoryTarget
	auth    *session.Auth
	remote  *fakeRemote
	rec     *Reconciler
}

func newHarness(t *testing.T, remote *fakeRemote, quiet time.Duration) *harness {
	t.Helper()

	primary := storage.NewMemoryTarget()
	mirrored, err := storage.NewMirrored(primary, storage.NewMemoryTarget())
	require.NoError(t, err)

	store, err := cart.NewStore(cart.StoreParams{Key: storageKey, Storage: mirrored})
	require.NoError(t, err)
	store.Load(context.Background())

	auth := session.NewAuth()
	rec, err := New(Params{
		Store:         store,
		Auth:          auth,
		Remote:        remote,
		QuietPeriod:   quiet,
		RemoteTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = rec.Close(ctx)
	})

	return &harness{store: store, primary: primary, auth: auth, remote: remote, rec: rec}
}

func product(id string, stock *int) cart.Product {
	return cart.Product{
		ID:         id,
		Display:    cart.Display{Name: "Plant " + id, UnitPrice: decimal.NewFromInt(10)},
		StockLimit: stock,
	}
}

func quantities(lines []cart.Line) map[string]int {
	out := make(map[string]int, len(lines))
	for _, line := range lines {
		out[line.ProductID] = line.Quantity
	}
	return out
}

func (h *harness) waitSynced(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return h.rec.Phase() == enums.SyncPhaseSynced }, waitFor, pollEvery)
}

func TestReconcilerStartsIdle(t *testing.T) {
	h := newHarness(t, newFakeRemote(), testQuiet)
	ctx := context.Background()

	require.NoError(t, h.store.Add(ctx, product("A", nil), 1))
	time.Sleep(3 * testQuiet)

	assert.Equal(t, enums.SyncPhaseIdle, h.rec.Phase())
	assert.Zero(t, h.remote.pushCount(), "signed-out mutations never reach the remote")
}

func TestReconcilerMergesRemoteOnSignIn(t *testing.T) {
	remote := newFakeRemote()
	remote.rows[testUser] = []cart.RemoteRow{
		{ProductID: "A", Quantity: 3, Product: product("A", nil)},
		{ProductID: "B", Quantity: 2, Product: product("B", nil)},
	}
	h := newHarness(t, remote, testQuiet)
	ctx := context.Background()

	require.NoError(t, h.store.Add(ctx, product("A", nil), 1))
	require.NoError(t, h.auth.SignIn(testUser))
	h.waitSynced(t)

	lines := h.store.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "A", lines[0].ProductID)
	assert.Equal(t, map[string]int{"A": 3, "B": 2}, quantities(lines))

	require.Eventually(t, func() bool { return remote.pushCount() == 1 }, waitFor, pollEvery)
	assert.Equal(t, []cart.RowInput{{ProductID: "A", Quantity: 3}, {ProductID: "B", Quantity: 2}}, remote.lastPush())
}

func TestReconcilerPushesOnceAfterRapidMutations(t *testing.T) {
	remote := newFakeRemote()
	h := newHarness(t, remote, testQuiet)
	ctx := context.Background()

	require.NoError(t, h.auth.SignIn(testUser))
	h.waitSynced(t)
	require.Eventually(t, func() bool { return remote.pushCount() == 1 }, waitFor, pollEvery)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.store.Add(ctx, product("A", nil), 1))
	}
	h.store.SetQuantity(ctx, "A", 7)
	require.NoError(t, h.store.Add(ctx, product("B", nil), 2))

	require.Eventually(t, func() bool { return remote.pushCount() == 2 }, waitFor, pollEvery)
	time.Sleep(3 * testQuiet)

	assert.Equal(t, 2, remote.pushCount(), "intermediate states are never pushed")
	assert.Equal(t, []cart.RowInput{{ProductID: "A", Quantity: 7}, {ProductID: "B", Quantity: 2}}, remote.lastPush())
}

func TestReconcilerSignOutClearsCartAndStorage(t *testing.T) {
	remote := newFakeRemote()
	h := newHarness(t, remote, time.Hour)
	ctx := context.Background()

	require.NoError(t, h.auth.SignIn(testUser))
	h.waitSynced(t)
	require.NoError(t, h.store.Add(ctx, product("A", nil), 2))
	require.True(t, h.rec.PushPending())

	h.auth.SignOut()

	assert.Equal(t, enums.SyncPhaseIdle, h.rec.Phase())
	assert.Empty(t, h.store.Lines())
	assert.False(t, h.rec.PushPending(), "sign-out drops the pending push")
	_, err := h.primary.Get(ctx, storageKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, remote.pushCount())
}

func TestReconcilerFetchFailureStillSyncs(t *testing.T) {
	remote := newFakeRemote()
	remote.fetchErr = errors.New("remote down")
	h := newHarness(t, remote, testQuiet)
	ctx := context.Background()

	require.NoError(t, h.store.Add(ctx, product("A", nil), 1))
	require.NoError(t, h.auth.SignIn(testUser))
	h.waitSynced(t)

	assert.Equal(t, map[string]int{"A": 1}, quantities(h.store.Lines()), "local cart survives a failed fetch")
	assert.Zero(t, remote.pushCount())

	require.NoError(t, h.store.Add(ctx, product("B", nil), 1))
	require.Eventually(t, func() bool { return remote.pushCount() == 1 }, waitFor, pollEvery)
}

func TestReconcilerPushFailureIsSwallowed(t *testing.T) {
	remote := newFakeRemote()
	remote.pushErr = errors.New("write refused")
	h := newHarness(t, remote, testQuiet)
	ctx := context.Background()

	require.NoError(t, h.auth.SignIn(testUser))
	h.waitSynced(t)
	require.Eventually(t, func() bool { return remote.pushCount() == 1 }, waitFor, pollEvery)

	require.NoError(t, h.store.Add(ctx, product("A", nil), 1))
	require.Eventually(t, func() bool { return remote.pushCount() == 2 }, waitFor, pollEvery)
	time.Sleep(3 * testQuiet)

	assert.Equal(t, 2, remote.pushCount(), "failed pushes are not retried")
	assert.Equal(t, enums.SyncPhaseSynced, h.rec.Phase())
	assert.Equal(t, 1, h.store.Count())
}

func TestReconcilerDiscardsStaleFetch(t *testing.T) {
	remote := newFakeRemote()
	remote.fetchGate = make(chan struct{})
	remote.rows[testUser] = []cart.RemoteRow{{ProductID: "A", Quantity: 4, Product: product("A", nil)}}
	h := newHarness(t, remote, testQuiet)

	require.NoError(t, h.auth.SignIn(testUser))
	assert.Equal(t, enums.SyncPhaseLoading, h.rec.Phase())
	h.auth.SignOut()
	close(remote.fetchGate)

	time.Sleep(3 * testQuiet)
	assert.Equal(t, enums.SyncPhaseIdle, h.rec.Phase())
	assert.Empty(t, h.store.Lines(), "rows fetched for a signed-out user are dropped")
	assert.Zero(t, remote.pushCount())
}

func TestReconcilerSwitchingUsersReloads(t *testing.T) {
	remote := newFakeRemote()
	remote.rows[testUser] = []cart.RemoteRow{{ProductID: "A", Quantity: 1, Product: product("A", nil)}}
	remote.rows[anotherUser] = []cart.RemoteRow{{ProductID: "B", Quantity: 5, Product: product("B", nil)}}
	h := newHarness(t, remote, testQuiet)

	require.NoError(t, h.auth.SignIn(testUser))
	h.waitSynced(t)
	require.NoError(t, h.auth.SignIn(anotherUser))
	h.waitSynced(t)

	assert.Equal(t, map[string]int{"B": 5}, quantities(h.store.Lines()))
}

func TestReconcilerCloseFlushesPendingPush(t *testing.T) {
	remote := newFakeRemote()
	h := newHarness(t, remote, time.Hour)
	ctx := context.Background()

	require.NoError(t, h.auth.SignIn(testUser))
	h.waitSynced(t)
	require.NoError(t, h.store.Add(ctx, product("A", nil), 2))

	closeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, h.rec.Close(closeCtx))

	assert.Equal(t, 1, remote.pushCount(), "merge and add collapse into one flushed push")
	assert.Equal(t, []cart.RowInput{{ProductID: "A", Quantity: 2}}, remote.lastPush())

	require.NoError(t, h.store.Add(ctx, product("B", nil), 1))
	assert.False(t, h.rec.PushPending(), "closed reconcilers ignore mutations")
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Params{})
	assert.Error(t, err)
}
