package event

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Deposit credits Amount of Token to User.
type Deposit struct {
	Meta
	User    common.Address `json:"user"`
	Token   common.Address `json:"token"`
	Amount  *big.Int       `json:"amount"`
	BatchID uint32         `json:"batchId"`
}

func (*Deposit) Kind() Kind { return KindDeposit }

// WithdrawRequest replaces the user's pending withdrawal for Token.
type WithdrawRequest struct {
	Meta
	User    common.Address `json:"user"`
	Token   common.Address `json:"token"`
	Amount  *big.Int       `json:"amount"`
	BatchID uint32         `json:"batchId"`
}

func (*WithdrawRequest) Kind() Kind { return KindWithdrawRequest }

// Withdraw debits Amount of Token and clears the pending withdrawal.
// Amount may be less than the requested amount.
type Withdraw struct {
	Meta
	User   common.Address `json:"user"`
	Token  common.Address `json:"token"`
	Amount *big.Int       `json:"amount"`
}

func (*Withdraw) Kind() Kind { return KindWithdraw }
