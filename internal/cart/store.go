package cart

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/angelmondragon/greenhouse/pkg/errors"
	"github.com/angelmondragon/greenhouse/pkg/logger"
	"github.com/angelmondragon/greenhouse/pkg/metrics"
	"github.com/angelmondragon/greenhouse/pkg/storage"
	"github.com/shopspring/decimal"
)

const defaultStorageTimeout = 2 * time.Second

// Mutation names the operation that changed the cart.
type Mutation string

const (
	MutationAdd         Mutation = "add"
	MutationRemove      Mutation = "remove"
	MutationSetQuantity Mutation = "set_quantity"
	MutationClear       Mutation = "clear"
	MutationLoad        Mutation = "load"
)

// Storage is the durable surface the store persists through. Read must try
// its targets in order and return the first payload accept does not reject.
type Storage interface {
	Read(ctx context.Context, key string, accept func([]byte) error) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// StoreParams wires a Store.
type StoreParams struct {
	Key            string
	Storage        Storage
	Logger         *logger.Logger
	Metrics        *metrics.CartMetrics
	StorageTimeout time.Duration
	Now            func() time.Time
}

// Store owns a cart's lines. Every mutation runs to completion under the
// store lock, is written to storage before the lock is released, and is then
// announced to OnChange listeners. Persistence failures are logged and never
// fail the mutation.
type Store struct {
	mu             sync.Mutex
	key            string
	storage        Storage
	logg           *logger.Logger
	metrics        *metrics.CartMetrics
	storageTimeout time.Duration
	now            func() time.Time

	order  []string
	lines  map[string]Line
	loaded bool

	listenersMu sync.RWMutex
	listeners   []func(Mutation)
}

// NewStore builds an empty, not yet loaded store.
func NewStore(params StoreParams) (*Store, error) {
	if strings.TrimSpace(params.Key) == "" {
		return nil, errors.New("storage key required")
	}
	if params.Storage == nil {
		return nil, errors.New("cart storage required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	timeout := params.StorageTimeout
	if timeout <= 0 {
		timeout = defaultStorageTimeout
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		key:            params.Key,
		storage:        params.Storage,
		logg:           logg,
		metrics:        params.Metrics,
		storageTimeout: timeout,
		now:            now,
		lines:          map[string]Line{},
	}, nil
}

// OnChange registers fn to run after every committed mutation. fn runs on the
// mutating goroutine, outside the store lock.
func (s *Store) OnChange(fn func(Mutation)) {
	if fn == nil {
		return
	}
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) notify(m Mutation) {
	s.listenersMu.RLock()
	listeners := append([]func(Mutation){}, s.listeners...)
	s.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(m)
	}
}

// Load populates the store from storage. Missing, unreadable or malformed
// state yields an empty cart. The store is marked loaded either way.
func (s *Store) Load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = s.logg.WithField(ctx, "storage_key", s.key)
	opCtx, cancel := s.storageContext(ctx)
	defer cancel()

	var lines []Line
	var dropped int
	_, err := s.storage.Read(opCtx, s.key, func(raw []byte) error {
		decoded, n, err := DecodeLines(raw)
		if err != nil {
			return err
		}
		lines, dropped = decoded, n
		return nil
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.logg.Debug(ctx, "cart.load.empty")
	case err != nil:
		s.metrics.IncStorageFailure("load")
		s.logg.WarnErr(ctx, "cart.load.failed", err)
		lines = nil
	}
	if dropped > 0 {
		s.logg.Warn(s.logg.WithField(ctx, "dropped", dropped), "cart.load.dropped_malformed_lines")
	}

	s.order = s.order[:0]
	s.lines = make(map[string]Line, len(lines))
	for _, line := range lines {
		s.order = append(s.order, line.ProductID)
		s.lines[line.ProductID] = line
	}
	s.loaded = true
}

// Add puts qty units of product into the cart. When the combined quantity
// would exceed the product's stock limit the cart is left untouched and a
// STOCK_EXCEEDED error is returned.
func (s *Store) Add(ctx context.Context, product Product, qty int) error {
	id := strings.TrimSpace(product.ID)
	if id == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if qty < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	if strings.TrimSpace(product.Display.Name) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "product name is required")
	}
	if product.Display.UnitPrice.LessThan(decimal.Zero) {
		return pkgerrors.New(pkgerrors.CodeValidation, "unit price must be non-negative")
	}

	s.mu.Lock()
	existing, ok := s.lines[id]
	inCart := 0
	if ok {
		inCart = existing.Quantity
	}
	// Compare against the remaining headroom so huge quantities cannot wrap.
	if product.StockLimit != nil && qty > *product.StockLimit-inCart {
		s.mu.Unlock()
		return stockExceeded(StockDetails{
			ProductID: id,
			Available: *product.StockLimit,
			InCart:    inCart,
			Requested: qty,
		})
	}
	if qty > math.MaxInt-inCart {
		s.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity is too large")
	}

	if ok {
		existing.StockLimit = copyLimit(product.StockLimit)
		existing.Quantity = ClampQuantity(inCart+qty, existing.StockLimit)
		s.lines[id] = existing
	} else {
		limit := copyLimit(product.StockLimit)
		s.lines[id] = Line{
			ProductID:  id,
			Display:    product.Display,
			Quantity:   ClampQuantity(qty, limit),
			StockLimit: limit,
			AddedAt:    s.now().UTC(),
		}
		s.order = append(s.order, id)
	}
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.notify(MutationAdd)
	return nil
}

// Remove deletes the line for productID. Absent lines are ignored.
func (s *Store) Remove(ctx context.Context, productID string) {
	s.mu.Lock()
	if !s.removeLocked(productID) {
		s.mu.Unlock()
		return
	}
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.notify(MutationRemove)
}

// SetQuantity replaces a line's quantity, clamped to its stock limit. A
// quantity of zero or less removes the line. Absent lines are ignored.
func (s *Store) SetQuantity(ctx context.Context, productID string, qty int) {
	if qty <= 0 {
		s.Remove(ctx, productID)
		return
	}

	s.mu.Lock()
	line, ok := s.lines[productID]
	if !ok {
		s.mu.Unlock()
		return
	}
	line.Quantity = ClampQuantity(qty, line.StockLimit)
	s.lines[productID] = line
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.notify(MutationSetQuantity)
}

// Clear empties the cart and erases its persisted state from every target.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.order = s.order[:0]
	s.lines = map[string]Line{}

	opCtx, cancel := s.storageContext(ctx)
	if err := s.storage.Remove(opCtx, s.key); err != nil {
		s.metrics.IncStorageFailure("clear")
		s.logg.WarnErr(s.logg.WithField(ctx, "storage_key", s.key), "cart.clear.storage_failed", err)
	}
	cancel()
	s.mu.Unlock()

	s.notify(MutationClear)
}

// Replace swaps the whole line set, as done once after sign-in.
func (s *Store) Replace(ctx context.Context, lines []Line) {
	s.ReplaceWith(ctx, func([]Line) []Line { return lines })
}

// ReplaceWith computes the next line set from the current one under the store
// lock, so no mutation can slip in between reading and replacing. fn must not
// call back into the store. Lines without a product id, with a non-positive
// quantity or a sold out stock limit are skipped, duplicates keep the first entry and quantities are
// clamped to their stock limit.
func (s *Store) ReplaceWith(ctx context.Context, fn func(current []Line) []Line) {
	s.mu.Lock()
	lines := fn(s.linesLocked())

	order := make([]string, 0, len(lines))
	next := make(map[string]Line, len(lines))
	now := s.now().UTC()
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" || line.Quantity <= 0 || SoldOut(line.StockLimit) {
			continue
		}
		if _, dup := next[id]; dup {
			continue
		}
		line = cloneLine(line)
		line.ProductID = id
		line.Quantity = ClampQuantity(line.Quantity, line.StockLimit)
		if line.AddedAt.IsZero() {
			line.AddedAt = now
		}
		order = append(order, id)
		next[id] = line
	}

	s.order = order
	s.lines = next
	s.loaded = true
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.notify(MutationLoad)
}

// Lines returns the lines in insertion order.
func (s *Store) Lines() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linesLocked()
}

// Snapshot returns the lines together with the loaded flag.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Lines: s.linesLocked(), Loaded: s.loaded}
}

// Loaded reports whether the initial load has completed.
func (s *Store) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

func (s *Store) Total() decimal.Decimal { return Total(s.Lines()) }

func (s *Store) Count() int { return Count(s.Lines()) }

func (s *Store) linesLocked() []Line {
	out := make([]Line, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneLine(s.lines[id]))
	}
	return out
}

func (s *Store) removeLocked(productID string) bool {
	if _, ok := s.lines[productID]; !ok {
		return false
	}
	delete(s.lines, productID)
	for i, id := range s.order {
		if id == productID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *Store) persistLocked(ctx context.Context) {
	ctx = s.logg.WithField(ctx, "storage_key", s.key)
	payload, err := EncodeLines(s.linesLocked())
	if err != nil {
		s.metrics.IncStorageFailure("encode")
		s.logg.WarnErr(ctx, "cart.persist.encode_failed", err)
		return
	}

	opCtx, cancel := s.storageContext(ctx)
	defer cancel()
	if err := s.storage.Set(opCtx, s.key, payload); err != nil {
		s.metrics.IncStorageFailure("save")
		s.logg.WarnErr(ctx, "cart.persist.failed", err)
	}
}

// storageContext detaches persistence from the caller's cancellation so an
// aborted request still leaves storage in step with memory.
func (s *Store) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), s.storageTimeout)
}
