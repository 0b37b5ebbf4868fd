package checkout

import "fmt"

// SelectionRequest is the raw, untrusted input from the UI layer from
// which a ProductSelection is built.
type SelectionRequest struct {
	ProductType    string `json:"product_type"`
	ProductID      string `json:"product_id"`
	Price          int64  `json:"price"`
	Currency       string `json:"currency"`
	PayWhatYouWant bool   `json:"pay_what_you_want"`
	MinimumPrice   int64  `json:"minimum_price"`
	Amount         int64  `json:"amount"` // buyer-chosen, pay-what-you-want only
}

// BuildSelection validates a raw request and produces the immutable
// ProductSelection consumed by one checkout attempt. For pay-what-you-want
// products the buyer-chosen amount replaces the listed price and must meet
// the minimum.
func BuildSelection(req SelectionRequest) (ProductSelection, error) {
	pt := ProductType(req.ProductType)
	if !KnownProductType(pt) {
		return ProductSelection{}, fmt.Errorf("unknown product type %q", req.ProductType)
	}
	if req.ProductID == "" {
		return ProductSelection{}, fmt.Errorf("product id is required")
	}
	if req.Price < 0 {
		return ProductSelection{}, fmt.Errorf("price cannot be negative")
	}

	sel := ProductSelection{
		ProductType:    pt,
		ProductID:      req.ProductID,
		Price:          req.Price,
		Currency:       req.Currency,
		PayWhatYouWant: req.PayWhatYouWant,
		MinimumPrice:   req.MinimumPrice,
	}

	if req.PayWhatYouWant {
		if req.Amount < req.MinimumPrice {
			return ProductSelection{}, fmt.Errorf("amount %d is below the minimum price %d", req.Amount, req.MinimumPrice)
		}
		sel.Price = req.Amount
	}

	// Paid products need a currency; a zero price means a free checkout
	// with no gateway interaction at all.
	if sel.Price > 0 && sel.Currency == "" {
		return ProductSelection{}, fmt.Errorf("currency is required for a paid product")
	}

	return sel, nil
}
