package product

import (
	"context"

	"github.com/angelmondragon/greenhouse/internal/repo"
	"github.com/angelmondragon/greenhouse/pkg/db"
	"github.com/angelmondragon/greenhouse/pkg/db/models"
	pkgerrors "github.com/angelmondragon/greenhouse/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository reads catalog rows.
type Repository struct {
	repo.Base
}

// NewRepository constructs a product repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// GetByID loads a single product. gorm.ErrRecordNotFound is returned when it
// does not exist.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.DB(ctx).Where("id = ?", id).First(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// Create inserts a product row. A taken slug is a validation error.
func (r *Repository) Create(ctx context.Context, product *models.Product) (*models.Product, error) {
	if err := r.DB(ctx).Create(product).Error; err != nil {
		if db.IsUniqueViolation(err, "slug") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "product slug already exists")
		}
		return nil, err
	}
	return product, nil
}
