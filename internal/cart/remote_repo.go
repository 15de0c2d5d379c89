package cart

import (
	"context"
	"fmt"

	"github.com/angelmondragon/greenhouse/internal/repo"
	"github.com/angelmondragon/greenhouse/pkg/db/models"
	pkgerrors "github.com/angelmondragon/greenhouse/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RemoteRepository persists the per-user cart mirror in the cart_items table.
type RemoteRepository struct {
	repo.Base
}

// NewRemoteRepository constructs a repository bound to the provided DB.
func NewRemoteRepository(db *gorm.DB) *RemoteRepository {
	return &RemoteRepository{Base: repo.NewBase(db)}
}

// WithTx binds the repository to a transaction.
func (r *RemoteRepository) WithTx(tx *gorm.DB) *RemoteRepository {
	if tx == nil {
		return r
	}
	return &RemoteRepository{Base: repo.NewBase(tx)}
}

// FetchRows loads every row the user owns together with its product snapshot.
// Rows come back in the order they were written. Rows whose product no
// longer exists are skipped.
func (r *RemoteRepository) FetchRows(ctx context.Context, userID string) ([]RemoteRow, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id")
	}

	var items []models.CartItem
	err = r.DB(ctx).
		Preload("Product").
		Where("user_id = ?", uid).
		Order("position ASC").
		Find(&items).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch cart rows")
	}

	rows := make([]RemoteRow, 0, len(items))
	for _, item := range items {
		if item.Product == nil {
			continue
		}
		rows = append(rows, RemoteRow{
			ProductID: item.ProductID.String(),
			Quantity:  item.Quantity,
			Product:   ProductFromModel(*item.Product),
		})
	}
	return rows, nil
}

// ReplaceRows overwrites the user's rows inside a single transaction: every
// existing row is deleted, then the given rows are inserted.
func (r *RemoteRepository) ReplaceRows(ctx context.Context, userID string, rows []RowInput) error {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id")
	}

	items := make([]models.CartItem, 0, len(rows))
	for i, row := range rows {
		pid, err := uuid.Parse(row.ProductID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("invalid product id %q", row.ProductID))
		}
		items = append(items, models.CartItem{
			UserID:    uid,
			ProductID: pid,
			Quantity:  row.Quantity,
			Position:  i,
		})
	}

	err = r.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", uid).Delete(&models.CartItem{}).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		return tx.Omit("Product").Create(&items).Error
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replace cart rows")
	}
	return nil
}

// ProductFromModel maps a catalog row into the snapshot a cart line copies.
func ProductFromModel(p models.Product) Product {
	display := Display{
		Name:      p.Name,
		Category:  p.Category,
		UnitPrice: p.Price,
	}
	if p.ImageURL != nil {
		display.ImageURL = *p.ImageURL
	}
	return Product{
		ID:         p.ID.String(),
		Display:    display,
		StockLimit: copyLimit(p.Stock),
	}
}
