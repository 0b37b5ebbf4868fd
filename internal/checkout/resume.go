package checkout

import (
	"net/url"
	"strconv"
)

// Query parameter names of the gateway return-URL contract. The gateway
// redirects the buyer's browser back with these after a bank-redirect or
// hosted-button flow.
const (
	paramOrderID             = "order_id"
	paramOrderType           = "order_type"
	paramTransactionID       = "transaction_id"
	paramAdditionalProduct   = "additional_product"
	paramAdditionalProductID = "additional_product_id"
	paramIsGift              = "is_gift"
)

// ResumeToken is the serializable state needed to rehydrate a checkout
// attempt after a full-page redirect. No in-memory Order or PaymentSession
// survives the redirect; verification runs from this token alone.
type ResumeToken struct {
	OrderID             string
	OrderType           string
	TransactionID       string
	AdditionalProduct   ProductType
	AdditionalProductID string
	IsGift              bool
}

// ParseResumeToken decodes the redirect callback query parameters.
// Missing required fields make the whole callback unusable and are
// reported as a malformed-token payment error.
func ParseResumeToken(params url.Values) (ResumeToken, error) {
	t := ResumeToken{
		OrderID:             params.Get(paramOrderID),
		OrderType:           params.Get(paramOrderType),
		TransactionID:       params.Get(paramTransactionID),
		AdditionalProduct:   ProductType(params.Get(paramAdditionalProduct)),
		AdditionalProductID: params.Get(paramAdditionalProductID),
	}
	if g := params.Get(paramIsGift); g != "" {
		gift, err := strconv.ParseBool(g)
		if err != nil {
			return ResumeToken{}, NewPaymentError(ReasonMalformedResumeToken,
				"The payment return link is invalid. Please check your dashboard for the order status.", err)
		}
		t.IsGift = gift
	}
	if t.OrderID == "" || t.OrderType == "" || t.TransactionID == "" {
		return ResumeToken{}, NewPaymentError(ReasonMalformedResumeToken,
			"The payment return link is incomplete. Please check your dashboard for the order status.", nil)
	}
	if t.AdditionalProduct != "" && !KnownProductType(t.AdditionalProduct) {
		return ResumeToken{}, NewPaymentError(ReasonMalformedResumeToken,
			"The payment return link is invalid. Please check your dashboard for the order status.", nil)
	}
	return t, nil
}

// Values encodes the token back into query parameters, the inverse of
// ParseResumeToken. Used when building gateway return URLs.
func (t ResumeToken) Values() url.Values {
	v := url.Values{}
	v.Set(paramOrderID, t.OrderID)
	v.Set(paramOrderType, t.OrderType)
	v.Set(paramTransactionID, t.TransactionID)
	if t.AdditionalProduct != "" {
		v.Set(paramAdditionalProduct, string(t.AdditionalProduct))
		v.Set(paramAdditionalProductID, t.AdditionalProductID)
	}
	if t.IsGift {
		v.Set(paramIsGift, "true")
	}
	return v
}

// FollowUp reconstructs the bundled booking info carried through the
// redirect, or nil when the purchase had none.
func (t ResumeToken) FollowUp() *FollowUpBookingInfo {
	if t.AdditionalProduct == "" || t.AdditionalProductID == "" {
		return nil
	}
	return &FollowUpBookingInfo{
		ProductType: t.AdditionalProduct,
		ProductID:   t.AdditionalProductID,
		IsGift:      t.IsGift,
	}
}
