package state

import (
	"bytes"
	"math/big"
	"sort"

	"DexLedger/internal/encoding"
	"DexLedger/internal/event"

	"github.com/ethereum/go-ethereum/common"
)

// FeeTokenID is the token in which solution fees are paid.
const FeeTokenID uint16 = 0

// solutionRecord remembers the fee credit of the latest solution so it can be undone when the
// solution is superseded.
type solutionRecord struct {
	submitter common.Address
	burntFees *big.Int
	reverted  bool
}

// AccountState is the ledger materialized from the event log.
// It is only changed through ApplyEvents. Not thread-safe: a committed AccountState is
// read-only and is changed through a Clone.
type AccountState struct {
	tokens   map[uint16]common.Address
	accounts map[common.Address]*Account

	// accounts copied since the last Clone; others are shared with the parent
	owned map[common.Address]bool

	position event.Position
	applied  bool

	solution *solutionRecord

	// balances changed by trades of the current solution, validated at its submission
	unsettled map[common.Address]map[common.Address]struct{}
}

// New creates an empty state.
func New() *AccountState {
	return &AccountState{
		tokens:    make(map[uint16]common.Address),
		accounts:  make(map[common.Address]*Account),
		owned:     make(map[common.Address]bool),
		unsettled: make(map[common.Address]map[common.Address]struct{}),
	}
}

// Clone returns a state that can be changed without affecting s. Accounts are copied on first write.
func (s *AccountState) Clone() *AccountState {
	c := &AccountState{
		tokens:    make(map[uint16]common.Address, len(s.tokens)),
		accounts:  make(map[common.Address]*Account, len(s.accounts)),
		owned:     make(map[common.Address]bool),
		position:  s.position,
		applied:   s.applied,
		unsettled: make(map[common.Address]map[common.Address]struct{}, len(s.unsettled)),
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	if s.solution != nil {
		sol := *s.solution
		c.solution = &sol
	}
	for owner, tokens := range s.unsettled {
		set := make(map[common.Address]struct{}, len(tokens))
		for t := range tokens {
			set[t] = struct{}{}
		}
		c.unsettled[owner] = set
	}
	return c
}

// writable returns owner's account for mutation, creating it on first reference.
func (s *AccountState) writable(owner common.Address) *Account {
	acct, ok := s.accounts[owner]
	switch {
	case !ok:
		acct = newAccount()
	case !s.owned[owner]:
		acct = acct.clone()
	default:
		return acct
	}
	s.accounts[owner] = acct
	s.owned[owner] = true
	return acct
}

// Position returns the position of the last applied event and whether any event was applied.
func (s *AccountState) Position() (event.Position, bool) {
	return s.position, s.applied
}

// NextBlock is the block from which the log must be resumed: last applied block + 1, or 0.
func (s *AccountState) NextBlock() uint64 {
	if !s.applied {
		return 0
	}
	return s.position.BlockNumber + 1
}

// Token resolves a listed token id.
func (s *AccountState) Token(id uint16) (common.Address, bool) {
	addr, ok := s.tokens[id]
	return addr, ok
}

// Tokens returns a copy of the token listing.
func (s *AccountState) Tokens() map[uint16]common.Address {
	out := make(map[uint16]common.Address, len(s.tokens))
	for k, v := range s.tokens {
		out[k] = v
	}
	return out
}

// Account returns a copy of owner's account.
func (s *AccountState) Account(owner common.Address) (Account, bool) {
	acct, ok := s.accounts[owner]
	if !ok {
		return Account{}, false
	}
	return *acct.clone(), true
}

// Balance returns owner's balance of token, zero for unknown accounts.
func (s *AccountState) Balance(owner, token common.Address) *big.Int {
	acct, ok := s.accounts[owner]
	if !ok {
		return new(big.Int)
	}
	return acct.Balance(token)
}

// Addresses lists all known accounts in byte order.
func (s *AccountState) Addresses() []common.Address {
	addrs := make([]common.Address, 0, len(s.accounts))
	for a := range s.accounts {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
	return addrs
}

// Solver returns the submitter of the latest solution, if one is tracked.
func (s *AccountState) Solver() (common.Address, bool) {
	if s.solution == nil {
		return common.Address{}, false
	}
	return s.solution.submitter, true
}

// NumAccounts returns the number of known accounts.
func (s *AccountState) NumAccounts() int { return len(s.accounts) }

// OpenOrderCount counts the orders that are neither canceled nor deleted.
func (s *AccountState) OpenOrderCount() int {
	n := 0
	for _, acct := range s.accounts {
		for _, rec := range acct.Orders {
			if !rec.Canceled() && !rec.Deleted() {
				n++
			}
		}
	}
	return n
}

// OpenOrders renders every order that is neither canceled nor deleted in the wire layout,
// with the owner's current sell token balance.
func (s *AccountState) OpenOrders() []encoding.IndexedOrder {
	var orders []encoding.IndexedOrder
	for _, owner := range s.Addresses() {
		acct := s.accounts[owner]
		for _, id := range acct.OrderIDs() {
			rec := acct.Orders[id]
			if rec.Canceled() || rec.Deleted() {
				continue
			}
			balance := new(big.Int)
			if token, ok := s.tokens[rec.SellToken]; ok {
				if b := acct.balance(token); b.Sign() > 0 {
					balance.Set(b)
				}
			}
			orders = append(orders, encoding.IndexedOrder{
				Order: encoding.Order{
					User:             owner,
					SellTokenBalance: balance,
					BuyToken:         rec.BuyToken,
					SellToken:        rec.SellToken,
					ValidFrom:        rec.ValidFrom,
					ValidUntil:       *rec.ValidUntil,
					PriceNumerator:   new(big.Int).Set(rec.PriceNumerator),
					PriceDenominator: new(big.Int).Set(rec.PriceDenominator),
					RemainingAmount:  new(big.Int).Set(rec.RemainingAmount),
				},
				OrderID: id,
			})
		}
	}
	return orders
}
