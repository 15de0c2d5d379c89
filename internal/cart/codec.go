package cart

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type persistedLine struct {
	ProductID  string           `json:"product_id"`
	Name       string           `json:"name"`
	ImageURL   string           `json:"image_url,omitempty"`
	Category   string           `json:"category,omitempty"`
	UnitPrice  *decimal.Decimal `json:"unit_price"`
	Quantity   int              `json:"quantity"`
	StockLimit *int             `json:"stock_limit,omitempty"`
	AddedAt    time.Time        `json:"added_at"`
}

// EncodeLines serialises the full line list in cart order.
func EncodeLines(lines []Line) ([]byte, error) {
	out := make([]persistedLine, 0, len(lines))
	for _, line := range lines {
		price := line.Display.UnitPrice
		out = append(out, persistedLine{
			ProductID:  line.ProductID,
			Name:       line.Display.Name,
			ImageURL:   line.Display.ImageURL,
			Category:   line.Display.Category,
			UnitPrice:  &price,
			Quantity:   line.Quantity,
			StockLimit: copyLimit(line.StockLimit),
			AddedAt:    line.AddedAt,
		})
	}
	return json.Marshal(out)
}

// DecodeLines parses a persisted line list. Only a document that is not a
// JSON array is an error; individual entries that fail to decode, miss a
// product id, name or unit price, carry a non-positive quantity or a sold out
// stock limit are dropped and counted. Duplicate product ids keep the first entry.
func DecodeLines(raw []byte) ([]Line, int, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, 0, fmt.Errorf("decode cart lines: %w", err)
	}

	lines := make([]Line, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	dropped := 0
	for _, entry := range entries {
		var p persistedLine
		if err := json.Unmarshal(entry, &p); err != nil {
			dropped++
			continue
		}
		id := strings.TrimSpace(p.ProductID)
		if id == "" || strings.TrimSpace(p.Name) == "" || p.UnitPrice == nil || p.Quantity <= 0 || SoldOut(p.StockLimit) {
			dropped++
			continue
		}
		if _, dup := seen[id]; dup {
			dropped++
			continue
		}
		seen[id] = struct{}{}
		lines = append(lines, Line{
			ProductID: id,
			Display: Display{
				Name:      p.Name,
				ImageURL:  p.ImageURL,
				Category:  p.Category,
				UnitPrice: *p.UnitPrice,
			},
			Quantity:   ClampQuantity(p.Quantity, p.StockLimit),
			StockLimit: p.StockLimit,
			AddedAt:    p.AddedAt,
		})
	}
	return lines, dropped, nil
}
