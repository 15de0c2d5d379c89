// Package cart holds a device's shopping cart: an ordered set of product
// lines mutated synchronously and persisted to durable local storage after
// every change.
package cart

import (
	"time"

	"github.com/shopspring/decimal"
)

// Display carries the product fields copied into a line when it is added.
// They are not refreshed afterwards.
type Display struct {
	Name      string
	ImageURL  string
	Category  string
	UnitPrice decimal.Decimal
}

// Product is the catalog snapshot offered to Add. A nil StockLimit means the
// stock is unknown and treated as unbounded.
type Product struct {
	ID         string
	Display    Display
	StockLimit *int
}

// Line is one product's presence in the cart.
type Line struct {
	ProductID  string
	Display    Display
	Quantity   int
	StockLimit *int
	AddedAt    time.Time
}

// Subtotal is the line's quantity times its unit price.
func (l Line) Subtotal() decimal.Decimal {
	return l.Display.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Snapshot is a point-in-time copy of the cart.
type Snapshot struct {
	Lines  []Line
	Loaded bool
}

// Total is the sum of quantity times unit price over all lines.
func (s Snapshot) Total() decimal.Decimal {
	return Total(s.Lines)
}

// Count is the sum of quantities over all lines.
func (s Snapshot) Count() int {
	return Count(s.Lines)
}

func Total(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Subtotal())
	}
	return total
}

func Count(lines []Line) int {
	count := 0
	for _, line := range lines {
		count += line.Quantity
	}
	return count
}

// RemoteRow is a cart row read back from the remote per-user table, with the
// product snapshot joined in.
type RemoteRow struct {
	ProductID string
	Quantity  int
	Product   Product
}

// RowInput is the tuple written to the remote table for each line.
type RowInput struct {
	ProductID string
	Quantity  int
}

// SoldOut reports whether limit leaves no room for even one unit. A nil limit
// is unbounded.
func SoldOut(limit *int) bool {
	return limit != nil && *limit <= 0
}

// ClampQuantity bounds qty to [1, limit]. Nil limits only enforce the lower
// bound; sold out lines are dropped by callers before clamping.
func ClampQuantity(qty int, limit *int) int {
	if limit != nil && *limit > 0 && qty > *limit {
		qty = *limit
	}
	if qty < 1 {
		qty = 1
	}
	return qty
}

func copyLimit(limit *int) *int {
	if limit == nil {
		return nil
	}
	v := *limit
	return &v
}

func cloneLine(l Line) Line {
	l.StockLimit = copyLimit(l.StockLimit)
	return l
}
