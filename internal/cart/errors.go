package cart

import (
	"fmt"

	pkgerrors "github.com/angelmondragon/greenhouse/pkg/errors"
)

// StockDetails is attached to STOCK_EXCEEDED errors.
type StockDetails struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
	InCart    int    `json:"in_cart"`
	Requested int    `json:"requested"`
}

func stockExceeded(details StockDetails) *pkgerrors.Error {
	msg := fmt.Sprintf("only %d in stock", details.Available)
	return pkgerrors.New(pkgerrors.CodeStockExceeded, msg).WithDetails(details)
}

// StockExceededDetails extracts the stock details from a STOCK_EXCEEDED error.
func StockExceededDetails(err error) (StockDetails, bool) {
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStockExceeded {
		return StockDetails{}, false
	}
	details, ok := typed.Details().(StockDetails)
	return details, ok
}
