package encoding

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Record widths in bytes.
const (
	OrderWidth        = 20 + 32 + 2 + 2 + 4 + 4 + 16 + 16 + 16
	IndexedOrderWidth = OrderWidth + 2
)

// Field widths in bytes, in wire order.
const (
	userWidth             = 20
	sellTokenBalanceWidth = 32
	tokenIDWidth          = 2
	batchIDWidth          = 4
	amountWidth           = 16
	orderIDWidth          = 2
)

// Order is a standing sell order as laid out on chain.
// PriceDenominator is the original sell amount; RemainingAmount is what is still unsold.
type Order struct {
	User             common.Address `json:"user"`
	SellTokenBalance *big.Int       `json:"sellTokenBalance"`
	BuyToken         uint16         `json:"buyToken"`
	SellToken        uint16         `json:"sellToken"`
	ValidFrom        uint32         `json:"validFrom"`
	ValidUntil       uint32         `json:"validUntil"`
	PriceNumerator   *big.Int       `json:"priceNumerator"`
	PriceDenominator *big.Int       `json:"priceDenominator"`
	RemainingAmount  *big.Int       `json:"remainingAmount"`
}

// IndexedOrder is an Order together with its slot in the owner's order array.
type IndexedOrder struct {
	Order
	OrderID uint16 `json:"orderId"`
}

// ValidIn reports whether the order's inclusive validity window contains batchID.
func (o Order) ValidIn(batchID uint32) bool {
	return o.ValidFrom <= batchID && batchID <= o.ValidUntil
}

// Equal compares all fields, treating nil amounts as zero.
func (o Order) Equal(other Order) bool {
	return o.User == other.User &&
		o.BuyToken == other.BuyToken &&
		o.SellToken == other.SellToken &&
		o.ValidFrom == other.ValidFrom &&
		o.ValidUntil == other.ValidUntil &&
		cmpAmount(o.SellTokenBalance, other.SellTokenBalance) &&
		cmpAmount(o.PriceNumerator, other.PriceNumerator) &&
		cmpAmount(o.PriceDenominator, other.PriceDenominator) &&
		cmpAmount(o.RemainingAmount, other.RemainingAmount)
}

func cmpAmount(a, b *big.Int) bool {
	if a == nil {
		a = new(big.Int)
	}
	if b == nil {
		b = new(big.Int)
	}
	return a.Cmp(b) == 0
}
