package event

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OrderPlacement appends an order at Index in the owner's order array.
// PriceDenominator is the sell amount and becomes the initial remaining amount.
type OrderPlacement struct {
	Meta
	Owner            common.Address `json:"owner"`
	Index            uint16         `json:"index"`
	BuyToken         uint16         `json:"buyToken"`
	SellToken        uint16         `json:"sellToken"`
	ValidFrom        uint32         `json:"validFrom"`
	ValidUntil       uint32         `json:"validUntil"`
	PriceNumerator   *big.Int       `json:"priceNumerator"`
	PriceDenominator *big.Int       `json:"priceDenominator"`
}

func (*OrderPlacement) Kind() Kind { return KindOrderPlacement }

// OrderCancellation marks an order as canceled.
type OrderCancellation struct {
	Meta
	Owner common.Address `json:"owner"`
	ID    uint16         `json:"id"`
}

func (*OrderCancellation) Kind() Kind { return KindOrderCancellation }

// OrderDeletion zeroes an order slot.
type OrderDeletion struct {
	Meta
	Owner common.Address `json:"owner"`
	ID    uint16         `json:"id"`
}

func (*OrderDeletion) Kind() Kind { return KindOrderDeletion }
