package query

import "DexLedger/internal/orderbook"

// SummaryResponse describes the committed state served to readers.
type SummaryResponse struct {
	Applied     bool   `json:"applied"`
	BlockNumber uint64 `json:"block_number"`
	LogIndex    uint   `json:"log_index"`
	NextBlock   uint64 `json:"next_block"`
	StateHash   string `json:"state_hash"`
	Tokens      int    `json:"tokens"`
	Accounts    int    `json:"accounts"`
	OpenOrders  int    `json:"open_orders"`
	CommittedAt int64  `json:"committed_at"`
}

// TokenResponse is one listed token.
type TokenResponse struct {
	ID      uint16 `json:"id"`
	Address string `json:"address"`
}

// OrderResponse is one slot of an account's order array.
type OrderResponse struct {
	ID               uint16  `json:"id"`
	BuyToken         uint16  `json:"buy_token"`
	SellToken        uint16  `json:"sell_token"`
	ValidFrom        uint32  `json:"valid_from"`
	ValidUntil       *uint32 `json:"valid_until"`
	PriceNumerator   string  `json:"price_numerator"`
	PriceDenominator string  `json:"price_denominator"`
	RemainingAmount  string  `json:"remaining_amount"`
	Canceled         bool    `json:"canceled"`
	Deleted          bool    `json:"deleted"`
}

// PendingWithdrawalResponse is the latest withdraw request for a token.
type PendingWithdrawalResponse struct {
	Token   string `json:"token"`
	BatchID uint32 `json:"batch_id"`
	Amount  string `json:"amount"`
}

// AccountResponse is the materialized view of one user. Amounts are decimal strings.
type AccountResponse struct {
	Address            string                      `json:"address"`
	Balances           map[string]string           `json:"balances"`
	Orders             []OrderResponse             `json:"orders"`
	PendingWithdrawals []PendingWithdrawalResponse `json:"pending_withdrawals"`
	AsOfBlock          uint64                      `json:"as_of_block"`
}

// OrdersResponse carries all open orders in the 114-byte indexed wire layout.
type OrdersResponse struct {
	Count     int    `json:"count"`
	Encoded   string `json:"encoded"`
	AsOfBlock uint64 `json:"as_of_block"`
}

// OrderbookResponse is an aggregated book for a pair in one batch.
type OrderbookResponse struct {
	BatchID    uint32               `json:"batch_id"`
	Transitive bool                 `json:"transitive"`
	Book       *orderbook.Orderbook `json:"book"`
	AsOfBlock  uint64               `json:"as_of_block"`
}

// PriceResponse is the marginal price to fill an amount of the base token.
type PriceResponse struct {
	Base      string  `json:"base"`
	Quote     string  `json:"quote"`
	Side      string  `json:"side"`
	Amount    string  `json:"amount"`
	BatchID   uint32  `json:"batch_id"`
	Found     bool    `json:"found"`
	Price     string  `json:"price,omitempty"`
	Estimate  float64 `json:"estimate,omitempty"`
	AsOfBlock uint64  `json:"as_of_block"`
}
