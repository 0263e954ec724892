package event

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Kind discriminator for event payloads
type Kind int32

const (
	KindUnknown Kind = iota
	KindTokenListing
	KindOrderPlacement
	KindOrderCancellation
	KindOrderDeletion
	KindDeposit
	KindWithdrawRequest
	KindWithdraw
	KindTrade
	KindTradeReversion
	KindSolutionSubmission
	KindSolutionReversion
)

// Position locates an event in the ledger: block number, then log index within the block.
type Position struct {
	BlockNumber uint64 `json:"blockNumber"`
	LogIndex    uint   `json:"logIndex"`
}

// Less orders positions by (block, logIndex).
func (p Position) Less(other Position) bool {
	if p.BlockNumber != other.BlockNumber {
		return p.BlockNumber < other.BlockNumber
	}
	return p.LogIndex < other.LogIndex
}

// Sort orders events by position, keeping the relative order of equal positions.
func Sort(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].At().Less(events[j].At())
	})
}

// Meta carries the ledger location shared by all events.
type Meta struct {
	Position
	TxHash common.Hash `json:"transactionHash"`
}

// At returns the event's position.
func (m Meta) At() Position { return m.Position }

// Tx returns the hash of the emitting transaction.
func (m Meta) Tx() common.Hash { return m.TxHash }

func (Meta) sealed() {}

// Event is the sum type over all exchange events. The set is closed: only types in this
// package implement it, and consumers switch over them exhaustively.
type Event interface {
	// Kind returns the discriminator
	Kind() Kind

	// At returns the ledger position of the emitting log
	At() Position

	// Tx returns the emitting transaction hash, zero when unknown
	Tx() common.Hash

	sealed()
}

func (k Kind) String() string {
	switch k {
	case KindTokenListing:
		return "TokenListing"
	case KindOrderPlacement:
		return "OrderPlacement"
	case KindOrderCancellation:
		return "OrderCancellation"
	case KindOrderDeletion:
		return "OrderDeletion"
	case KindDeposit:
		return "Deposit"
	case KindWithdrawRequest:
		return "WithdrawRequest"
	case KindWithdraw:
		return "Withdraw"
	case KindTrade:
		return "Trade"
	case KindTradeReversion:
		return "TradeReversion"
	case KindSolutionSubmission:
		return "SolutionSubmission"
	case KindSolutionReversion:
		return "SolutionReversion"
	default:
		return "Unknown"
	}
}

// Kinds lists every known kind, in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindTokenListing,
		KindOrderPlacement,
		KindOrderCancellation,
		KindOrderDeletion,
		KindDeposit,
		KindWithdrawRequest,
		KindWithdraw,
		KindTrade,
		KindTradeReversion,
		KindSolutionSubmission,
		KindSolutionReversion,
	}
}
