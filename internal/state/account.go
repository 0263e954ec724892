package state

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// OrderRecord is one slot of an account's append-only order array.
type OrderRecord struct {
	BuyToken         uint16   `json:"buyToken"`
	SellToken        uint16   `json:"sellToken"`
	ValidFrom        uint32   `json:"validFrom"`
	ValidUntil       *uint32  `json:"validUntil"` // nil once canceled
	PriceNumerator   *big.Int `json:"priceNumerator"`
	PriceDenominator *big.Int `json:"priceDenominator"`
	RemainingAmount  *big.Int `json:"remainingAmount"`
}

// Canceled reports whether the order was canceled.
func (o OrderRecord) Canceled() bool { return o.ValidUntil == nil }

// Deleted reports whether the slot was zeroed.
func (o OrderRecord) Deleted() bool {
	return o.PriceDenominator == nil || o.PriceDenominator.Sign() == 0
}

func zeroOrder() OrderRecord {
	var validUntil uint32
	return OrderRecord{
		ValidUntil:       &validUntil,
		PriceNumerator:   new(big.Int),
		PriceDenominator: new(big.Int),
		RemainingAmount:  new(big.Int),
	}
}

// PendingWithdrawal is the latest withdraw request for a token.
type PendingWithdrawal struct {
	BatchID uint32   `json:"batchId"`
	Amount  *big.Int `json:"amount"`
}

// Account is the materialized view of one user.
// Amounts are replaced, never mutated in place, so copies may share *big.Int values.
type Account struct {
	Balances           map[common.Address]*big.Int          `json:"balances"`
	Orders             map[uint16]OrderRecord               `json:"orders"`
	PendingWithdrawals map[common.Address]PendingWithdrawal `json:"pendingWithdrawals"`
}

func newAccount() *Account {
	return &Account{
		Balances:           make(map[common.Address]*big.Int),
		Orders:             make(map[uint16]OrderRecord),
		PendingWithdrawals: make(map[common.Address]PendingWithdrawal),
	}
}

func (a *Account) clone() *Account {
	c := &Account{
		Balances:           make(map[common.Address]*big.Int, len(a.Balances)),
		Orders:             make(map[uint16]OrderRecord, len(a.Orders)),
		PendingWithdrawals: make(map[common.Address]PendingWithdrawal, len(a.PendingWithdrawals)),
	}
	for k, v := range a.Balances {
		c.Balances[k] = v
	}
	for k, v := range a.Orders {
		c.Orders[k] = v
	}
	for k, v := range a.PendingWithdrawals {
		c.PendingWithdrawals[k] = v
	}
	return c
}

// Balance returns the balance of token, zero when never touched.
func (a *Account) Balance(token common.Address) *big.Int {
	if b, ok := a.Balances[token]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (a *Account) balance(token common.Address) *big.Int {
	if b, ok := a.Balances[token]; ok {
		return b
	}
	return new(big.Int)
}

// OrderIDs returns the occupied order slots in ascending order.
func (a *Account) OrderIDs() []uint16 {
	ids := make([]uint16, 0, len(a.Orders))
	for id := range a.Orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
