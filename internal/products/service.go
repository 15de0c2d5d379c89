package product

import (
	"context"
	"errors"
	"strings"

	"github.com/angelmondragon/greenhouse/internal/cart"
	"github.com/angelmondragon/greenhouse/pkg/db/models"
	pkgerrors "github.com/angelmondragon/greenhouse/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type productReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

// Service resolves catalog products into the snapshot a cart line copies.
type Service struct {
	repo productReader
}

func NewService(repo productReader) (*Service, error) {
	if repo == nil {
		return nil, errors.New("product repository required")
	}
	return &Service{repo: repo}, nil
}

// Snapshot returns the cart view of an active product.
func (s *Service) Snapshot(ctx context.Context, productID string) (cart.Product, error) {
	id, err := uuid.Parse(strings.TrimSpace(productID))
	if err != nil {
		return cart.Product{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id")
	}

	product, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return cart.Product{}, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return cart.Product{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if !product.IsActive {
		return cart.Product{}, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return cart.ProductFromModel(*product), nil
}
