package event

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Trade is one order's execution within a submitted solution.
type Trade struct {
	Meta
	Owner              common.Address `json:"owner"`
	OrderID            uint16         `json:"orderId"`
	BuyToken           uint16         `json:"buyToken"`
	SellToken          uint16         `json:"sellToken"`
	ExecutedBuyAmount  *big.Int       `json:"executedBuyAmount"`
	ExecutedSellAmount *big.Int       `json:"executedSellAmount"`
}

func (*Trade) Kind() Kind { return KindTrade }

// TradeReversion undoes a Trade of a solution that was superseded within the same batch.
type TradeReversion struct {
	Meta
	Owner              common.Address `json:"owner"`
	OrderID            uint16         `json:"orderId"`
	BuyToken           uint16         `json:"buyToken"`
	SellToken          uint16         `json:"sellToken"`
	ExecutedBuyAmount  *big.Int       `json:"executedBuyAmount"`
	ExecutedSellAmount *big.Int       `json:"executedSellAmount"`
}

func (*TradeReversion) Kind() Kind { return KindTradeReversion }

// SolutionSubmission closes the trades of a solution and credits the submitter with the burnt
// fees, paid in the fee token (token id 0).
type SolutionSubmission struct {
	Meta
	Submitter            common.Address `json:"submitter"`
	Utility              *big.Int       `json:"utility"`
	DisregardedUtility   *big.Int       `json:"disregardedUtility"`
	BurntFees            *big.Int       `json:"burntFees"`
	LastAuctionBurntFees *big.Int       `json:"lastAuctionBurntFees"`
	Prices               []*big.Int     `json:"prices"`
	TokenIDsForPrice     []uint16       `json:"tokenIdsForPrice"`
}

func (*SolutionSubmission) Kind() Kind { return KindSolutionSubmission }

// SolutionReversion undoes the fee credit of a superseded solution.
type SolutionReversion struct {
	Meta
	Submitter common.Address `json:"submitter"`
	BurntFees *big.Int       `json:"burntFees"`
}

func (*SolutionReversion) Kind() Kind { return KindSolutionReversion }
