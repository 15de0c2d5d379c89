package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/greenhouse/api/middleware"
	"github.com/angelmondragon/greenhouse/api/responses"
	"github.com/angelmondragon/greenhouse/api/validators"
	"github.com/angelmondragon/greenhouse/internal/cart"
	"github.com/angelmondragon/greenhouse/internal/storefront"
	pkgerrors "github.com/angelmondragon/greenhouse/pkg/errors"
	"github.com/angelmondragon/greenhouse/pkg/logger"
)

// ProductSnapshotter resolves the catalog snapshot copied into a cart line.
type ProductSnapshotter interface {
	Snapshot(ctx context.Context, productID string) (cart.Product, error)
}

// Quantities above 10000 are rejected at the edge.
type addCartItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1,max=10000"`
}

type setQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required,max=10000"`
}

type cartLineResponse struct {
	ProductID  string          `json:"product_id"`
	Name       string          `json:"name"`
	ImageURL   string          `json:"image_url,omitempty"`
	Category   string          `json:"category,omitempty"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
	StockLimit *int            `json:"stock_limit,omitempty"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	AddedAt    time.Time       `json:"added_at"`
}

type cartResponse struct {
	Loaded bool               `json:"loaded"`
	Lines  []cartLineResponse `json:"lines"`
	Total  decimal.Decimal    `json:"total"`
	Count  int                `json:"count"`
}

func newCartResponse(snap cart.Snapshot) cartResponse {
	lines := make([]cartLineResponse, 0, len(snap.Lines))
	for _, line := range snap.Lines {
		lines = append(lines, cartLineResponse{
			ProductID:  line.ProductID,
			Name:       line.Display.Name,
			ImageURL:   line.Display.ImageURL,
			Category:   line.Display.Category,
			UnitPrice:  line.Display.UnitPrice,
			Quantity:   line.Quantity,
			StockLimit: line.StockLimit,
			Subtotal:   line.Subtotal(),
			AddedAt:    line.AddedAt,
		})
	}
	return cartResponse{
		Loaded: snap.Loaded,
		Lines:  lines,
		Total:  snap.Total(),
		Count:  snap.Count(),
	}
}

func sessionOrError(w http.ResponseWriter, r *http.Request, logg *logger.Logger) *storefront.Session {
	sess := middleware.SessionFromContext(r.Context())
	if sess == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart session missing"))
	}
	return sess
}

func productIDParam(r *http.Request) (string, error) {
	raw := validators.SanitizeString(chi.URLParam(r, "productId"), 64)
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id")
	}
	return id.String(), nil
}

// CartGet returns the device's cart.
func CartGet(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionOrError(w, r, logg)
		if sess == nil {
			return
		}
		responses.WriteSuccess(w, newCartResponse(sess.Store.Snapshot()))
	}
}

// CartAddItem adds a catalog product to the cart. Exceeding the product's
// stock yields 409 STOCK_EXCEEDED with the available quantity.
func CartAddItem(products ProductSnapshotter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionOrError(w, r, logg)
		if sess == nil {
			return
		}

		var payload addCartItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithProductID(ctx, payload.ProductID.String())
		}

		product, err := products.Snapshot(ctx, payload.ProductID.String())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := sess.Store.Add(ctx, product, payload.Quantity); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newCartResponse(sess.Store.Snapshot()))
	}
}

// CartSetQuantity replaces a line's quantity. Zero or less removes the line.
func CartSetQuantity(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionOrError(w, r, logg)
		if sess == nil {
			return
		}
		productID, err := productIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload setQuantityRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sess.Store.SetQuantity(r.Context(), productID, *payload.Quantity)
		responses.WriteSuccess(w, newCartResponse(sess.Store.Snapshot()))
	}
}

// CartRemoveItem drops a line from the cart.
func CartRemoveItem(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionOrError(w, r, logg)
		if sess == nil {
			return
		}
		productID, err := productIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sess.Store.Remove(r.Context(), productID)
		responses.WriteSuccess(w, newCartResponse(sess.Store.Snapshot()))
	}
}

// CartClear empties the cart.
func CartClear(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionOrError(w, r, logg)
		if sess == nil {
			return
		}

		sess.Store.Clear(r.Context())
		responses.WriteSuccess(w, newCartResponse(sess.Store.Snapshot()))
	}
}
