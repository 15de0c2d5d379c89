package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/greenhouse/internal/cart"
	"github.com/angelmondragon/greenhouse/internal/storefront"
	pkgAuth "github.com/angelmondragon/greenhouse/pkg/auth"
	"github.com/angelmondragon/greenhouse/pkg/config"
	pkgerrors "github.com/angelmondragon/greenhouse/pkg/errors"
	"github.com/angelmondragon/greenhouse/pkg/logger"
	"github.com/angelmondragon/greenhouse/pkg/metrics"
	"github.com/angelmondragon/greenhouse/pkg/storage"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type stubProducts struct {
	products map[string]cart.Product
}

func (s stubProducts) Snapshot(ctx context.Context, productID string) (cart.Product, error) {
	p, ok := s.products[productID]
	if !ok {
		return cart.Product{}, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return p, nil
}

type nopRemote struct{}

func (nopRemote) FetchRows(context.Context, string) ([]cart.RemoteRow, error) { return nil, nil }

func (nopRemote) ReplaceRows(context.Context, string, []cart.RowInput) error { return nil }

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

type cartBody struct {
	Loaded bool `json:"loaded"`
	Lines  []struct {
		ProductID string          `json:"product_id"`
		Name      string          `json:"name"`
		Quantity  int             `json:"quantity"`
		UnitPrice decimal.Decimal `json:"unit_price"`
		Subtotal  decimal.Decimal `json:"subtotal"`
	} `json:"lines"`
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

type testServer struct {
	handler  http.Handler
	cfg      *config.Config
	deviceID string
	monstera string
	pothos   string
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "dev"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "greenhouse", ExpirationMinutes: 5},
		Cart: config.CartConfig{
			SyncQuietPeriod: time.Hour,
			RemoteTimeout:   time.Second,
			StorageTimeout:  time.Second,
			StorageKey:      "cart",
			SessionIdleTTL:  time.Hour,
			SweepInterval:   time.Minute,
		},
		CORS: config.CORSConfig{AllowedOrigins: []string{"http://localhost:5173"}},
	}
}

func newTestServer(t *testing.T, dbP, redisP stubPinger) *testServer {
	t.Helper()

	cfg := testConfig()
	mirrored, err := storage.NewMirrored(storage.NewMemoryTarget(), storage.NewMemoryTarget())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	registry, err := storefront.NewRegistry(storefront.RegistryParams{
		Storage: mirrored,
		Remote:  nopRemote{},
		Config:  cfg.Cart,
		Logger:  logger.Nop(),
		Metrics: metrics.NewCartMetrics(reg),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close(context.Background()) })

	monstera := uuid.NewString()
	pothos := uuid.NewString()
	stock := 2
	products := stubProducts{products: map[string]cart.Product{
		monstera: {ID: monstera, Display: cart.Display{Name: "Monstera", UnitPrice: decimal.RequireFromString("100.00")}, StockLimit: &stock},
		pothos:   {ID: pothos, Display: cart.Display{Name: "Pothos", UnitPrice: decimal.RequireFromString("50.00")}},
	}}

	handler := NewRouter(cfg, logger.Nop(), dbP, redisP, registry, products, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &testServer{handler: handler, cfg: cfg, deviceID: uuid.NewString(), monstera: monstera, pothos: pothos}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-Id", s.deviceID)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func decodeCart(t *testing.T, env envelope) cartBody {
	t.Helper()
	var body cartBody
	require.NoError(t, json.Unmarshal(env.Data, &body))
	return body
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, stubPinger{}, stubPinger{})

	rec, _ := srv.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dev", rec.Header().Get("X-Greenhouse-Env"))

	rec, _ = srv.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	down := newTestServer(t, stubPinger{}, stubPinger{err: errors.New("redis down")})
	rec, env := down.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(pkgerrors.CodeDependency), env.Error.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, stubPinger{}, stubPinger{})
	srv.do(t, http.MethodGet, "/api/v1/cart", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cart_sessions_active 1")
}

func TestCartRequiresDeviceID(t *testing.T) {
	srv := newTestServer(t, stubPinger{}, stubPinger{})

	for _, deviceID := range []string{"", "not-a-uuid"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
		if deviceID != "" {
			req.Header.Set("X-Device-Id", deviceID)
		}
		rec := httptest.NewRecorder()
		srv.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "device id %q", deviceID)
	}
}

func TestCartLifecycle(t *testing.T) {
	srv := newTestServer(t, stubPinger{}, stubPinger{})

	rec, env := srv.do(t, http.MethodGet, "/api/v1/cart", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	empty := decodeCart(t, env)
	assert.True(t, empty.Loaded)
	assert.Empty(t, empty.Lines)

	rec, _ = srv.do(t, http.MethodPost, "/api/v1/cart/items", map[string]any{"product_id": srv.monstera, "quantity": 2})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, env = srv.do(t, http.MethodPost, "/api/v1/cart/items", map[string]any{"product_id": srv.pothos, "quantity": 1})
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeCart(t, env)
	require.Len(t, body.Lines, 2)
	assert.Equal(t, "Monstera", body.Lines[0].Name)
	assert.True(t, body.Total.Equal(decimal.RequireFromString("250.00")))
	assert.Equal(t, 3, body.Count)

	rec, env = srv.do(t, http.MethodPut, "/api/v1/cart/items/"+srv.pothos, map[string]any{"quantity": 4})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 6, decodeCart(t, env).Count)

	rec, env = srv.do(t, http.MethodPut, "/api/v1/cart/items/"+srv.pothos, map[string]any{"quantity": 0})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeCart(t, env).Lines, 1)

	rec, env = srv.do(t, http.MethodDelete, "/api/v1/cart/items/"+srv.monstera, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeCart(t, env).Lines)
}

func TestCartAddStockExceeded(t *testing.T) {
	srv := newTestServer(t, stubPinger{}, stubPinger{})

	rec, _ := srv.do(t, http.MethodPost, "/api/v1/cart/items", map[string]any{"product_id": srv.monstera, "quantity": 1})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env := srv.do(t, http.MethodPost, "/api/v1/cart/items", map[string]any{"product_id": srv.monstera, "quantity": 2})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(pkgerrors.CodeStockExceeded), env.Error.Code)

	var details cart.StockDetails
	require.NoError(t, json.Unmarshal(env.Error.Details, &details))
	assert.Equal(t, cart.StockDetails{ProductID: srv.monstera, Available: 2, InCart: 1, Requested: 2}, details)

	_, env = srv.do(t, http.MethodGet, "/api/v1/cart", nil)
	assert.Equal(t, 1, decodeCart(t, env).Count)
}

func TestCartAddRejectsBadInput(t *testing.T) {
	srv := newTestServer(t, stubPinger{}, stubPinger{})

	rec, _ := srv.do(t, http.MethodPost, "/api/v1/cart/items", map[string]any{"product_id": srv.monstera, "quantity": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = srv.do(t, http.MethodPost, "/api/v1/cart/items", map[string]any{"product_id": uuid.NewString(), "quantity": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = srv.do(t, http.MethodPost, "/api/v1/cart/items", map[string]any{"product_id": srv.monstera, "quantity": 1, "price": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")

	rec, _ = srv.do(t, http.MethodPut, "/api/v1/cart/items/nope", map[string]any{"quantity": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = srv.do(t, http.MethodPost, "/api/v1/cart/items", map[string]any{"product_id": srv.pothos, "quantity": 10001})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "oversized quantity is rejected")

	rec, _ = srv.do(t, http.MethodPut, "/api/v1/cart/items/"+srv.pothos, map[string]any{"quantity": 10001})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "oversized quantity is rejected")
}

func TestSessionSignInAndOut(t *testing.T) {
	srv := newTestServer(t, stubPinger{}, stubPinger{})

	rec, _ := srv.do(t, http.MethodPost, "/api/v1/cart/items", map[string]any{"product_id": srv.pothos, "quantity": 1})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = srv.do(t, http.MethodPost, "/api/v1/session", map[string]any{"access_token": "garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	userID := uuid.New()
	token, err := pkgAuth.MintAccessToken(srv.cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{UserID: userID})
	require.NoError(t, err)

	rec, env := srv.do(t, http.MethodPost, "/api/v1/session", map[string]any{"access_token": token})
	require.Equal(t, http.StatusOK, rec.Code)
	var state struct {
		Authenticated bool    `json:"authenticated"`
		UserID        *string `json:"user_id"`
		SyncPhase     string  `json:"sync_phase"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &state))
	assert.True(t, state.Authenticated)
	require.NotNil(t, state.UserID)
	assert.Equal(t, userID.String(), *state.UserID)
	assert.Contains(t, []string{"loading", "synced"}, state.SyncPhase)

	require.Eventually(t, func() bool {
		_, env := srv.do(t, http.MethodGet, "/api/v1/session", nil)
		var s struct {
			SyncPhase string `json:"sync_phase"`
		}
		return json.Unmarshal(env.Data, &s) == nil && s.SyncPhase == "synced"
	}, 2*time.Second, 10*time.Millisecond)

	rec, env = srv.do(t, http.MethodDelete, "/api/v1/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &state))
	assert.False(t, state.Authenticated)
	assert.Nil(t, state.UserID)
	assert.Equal(t, "idle", state.SyncPhase)

	_, env = srv.do(t, http.MethodGet, "/api/v1/cart", nil)
	assert.Empty(t, decodeCart(t, env).Lines, "signing out clears the cart")
}
