package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base is embedded by the gorm-backed repositories (remote cart mirror and
// product catalog).
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the connection bound to ctx. A nil ctx yields the raw connection.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Transaction runs fn inside a transaction scoped to ctx.
func (b Base) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return b.DB(ctx).Transaction(fn)
}

// Valid reports whether a connection is attached.
func (b Base) Valid() bool {
	return b.db != nil
}
