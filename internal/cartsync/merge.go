package cartsync

import (
	"strings"
	"time"

	"github.com/angelmondragon/greenhouse/internal/cart"
)

// Merge folds the remote rows fetched at sign-in into the local lines.
//
// Local lines keep their position and display fields. A row for a product
// already in the cart replaces its quantity and refreshes its stock limit.
// Rows for new products are appended in remote order. Rows whose product is
// out of stock are ignored and leave any local line untouched. Quantities are
// clamped to the row's stock limit.
func Merge(local []cart.Line, remote []cart.RemoteRow, now time.Time) []cart.Line {
	merged := make([]cart.Line, 0, len(local)+len(remote))
	index := make(map[string]int, len(local)+len(remote))
	for _, line := range local {
		if _, dup := index[line.ProductID]; dup {
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
	}

	seen := make(map[string]struct{}, len(remote))
	for _, row := range remote {
		id := strings.TrimSpace(row.ProductID)
		if id == "" || row.Quantity <= 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		limit := row.Product.StockLimit
		if cart.SoldOut(limit) {
			continue
		}
		qty := cart.ClampQuantity(row.Quantity, limit)

		if i, ok := index[id]; ok {
			merged[i].Quantity = qty
			merged[i].StockLimit = cloneLimit(limit)
			continue
		}
		index[id] = len(merged)
		merged = append(merged, cart.Line{
			ProductID:  id,
			Display:    row.Product.Display,
			Quantity:   qty,
			StockLimit: cloneLimit(limit),
			AddedAt:    now,
		})
	}
	return merged
}

// RowsFromLines converts cart lines to the tuples written remotely.
func RowsFromLines(lines []cart.Line) []cart.RowInput {
	rows := make([]cart.RowInput, 0, len(lines))
	for _, line := range lines {
		rows = append(rows, cart.RowInput{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return rows
}

func cloneLimit(limit *int) *int {
	if limit == nil {
		return nil
	}
	v := *limit
	return &v
}
