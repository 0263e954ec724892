package state

import (
	"fmt"
	"math/big"

	"DexLedger/internal/event"

	"github.com/ethereum/go-ethereum/common"
)

// ApplyEvents applies events, pre-sorted by position, in order. Strict mode rejects events that
// are not after the last applied one and order placements that skip a slot.
// On error s is left partially applied; callers apply to a Clone and discard it on failure.
func (s *AccountState) ApplyEvents(events []event.Event, strict bool) error {
	for _, ev := range events {
		pos := ev.At()
		if strict && s.applied && !s.position.Less(pos) {
			return fmt.Errorf("%s at %d/%d after %d/%d: %w",
				ev.Kind(), pos.BlockNumber, pos.LogIndex,
				s.position.BlockNumber, s.position.LogIndex, ErrOrderingViolation)
		}
		if err := s.apply(ev, strict); err != nil {
			return fmt.Errorf("%s at %d/%d: %w", ev.Kind(), pos.BlockNumber, pos.LogIndex, err)
		}
		if !s.applied || s.position.Less(pos) {
			s.position = pos
			s.applied = true
		}
	}
	return nil
}

func (s *AccountState) apply(ev event.Event, strict bool) error {
	switch e := ev.(type) {
	case *event.TokenListing:
		return s.listToken(e)
	case *event.OrderPlacement:
		return s.placeOrder(e, strict)
	case *event.OrderCancellation:
		return s.cancelOrder(e)
	case *event.OrderDeletion:
		return s.deleteOrder(e)
	case *event.Deposit:
		acct := s.writable(e.User)
		acct.Balances[e.Token] = new(big.Int).Add(acct.balance(e.Token), amount(e.Amount))
		return nil
	case *event.WithdrawRequest:
		acct := s.writable(e.User)
		acct.PendingWithdrawals[e.Token] = PendingWithdrawal{BatchID: e.BatchID, Amount: amount(e.Amount)}
		return nil
	case *event.Withdraw:
		return s.withdraw(e)
	case *event.Trade:
		return s.trade(e.Owner, e.OrderID, e.BuyToken, e.SellToken, amount(e.ExecutedBuyAmount), amount(e.ExecutedSellAmount))
	case *event.TradeReversion:
		if err := s.trade(e.Owner, e.OrderID, e.BuyToken, e.SellToken,
			new(big.Int).Neg(amount(e.ExecutedBuyAmount)),
			new(big.Int).Neg(amount(e.ExecutedSellAmount))); err != nil {
			return err
		}
		return s.revertSolution(nil)
	case *event.SolutionSubmission:
		return s.submitSolution(e)
	case *event.SolutionReversion:
		return s.revertSolution(e)
	default:
		return fmt.Errorf("unsupported event type %T", ev)
	}
}

func (s *AccountState) listToken(e *event.TokenListing) error {
	if existing, ok := s.tokens[e.ID]; ok && existing != e.Token {
		return fmt.Errorf("token id %d already listed as %s: %w", e.ID, existing.Hex(), ErrReference)
	}
	s.tokens[e.ID] = e.Token
	return nil
}

func (s *AccountState) placeOrder(e *event.OrderPlacement, strict bool) error {
	acct := s.writable(e.Owner)
	if strict && int(e.Index) != len(acct.Orders) {
		return fmt.Errorf("order index %d for %s, next slot is %d: %w",
			e.Index, e.Owner.Hex(), len(acct.Orders), ErrReference)
	}
	validUntil := e.ValidUntil
	acct.Orders[e.Index] = OrderRecord{
		BuyToken:         e.BuyToken,
		SellToken:        e.SellToken,
		ValidFrom:        e.ValidFrom,
		ValidUntil:       &validUntil,
		PriceNumerator:   amount(e.PriceNumerator),
		PriceDenominator: amount(e.PriceDenominator),
		RemainingAmount:  amount(e.PriceDenominator),
	}
	return nil
}

func (s *AccountState) order(owner common.Address, id uint16) (*Account, OrderRecord, error) {
	existing, ok := s.accounts[owner]
	if !ok {
		return nil, OrderRecord{}, fmt.Errorf("account %s: %w", owner.Hex(), ErrReference)
	}
	if _, ok := existing.Orders[id]; !ok {
		return nil, OrderRecord{}, fmt.Errorf("order %d of %s: %w", id, owner.Hex(), ErrReference)
	}
	acct := s.writable(owner)
	return acct, acct.Orders[id], nil
}

func (s *AccountState) cancelOrder(e *event.OrderCancellation) error {
	acct, rec, err := s.order(e.Owner, e.ID)
	if err != nil {
		return err
	}
	rec.ValidUntil = nil
	acct.Orders[e.ID] = rec
	return nil
}

func (s *AccountState) deleteOrder(e *event.OrderDeletion) error {
	acct, _, err := s.order(e.Owner, e.ID)
	if err != nil {
		return err
	}
	acct.Orders[e.ID] = zeroOrder()
	return nil
}

func (s *AccountState) withdraw(e *event.Withdraw) error {
	amt := amount(e.Amount)
	existing, ok := s.accounts[e.User]
	if !ok || existing.balance(e.Token).Cmp(amt) < 0 {
		have := new(big.Int)
		if ok {
			have = existing.balance(e.Token)
		}
		return fmt.Errorf("withdraw %s of %s, balance %s: %w", amt, e.Token.Hex(), have, ErrInsufficientAmount)
	}
	acct := s.writable(e.User)
	acct.Balances[e.Token] = new(big.Int).Sub(acct.balance(e.Token), amt)
	delete(acct.PendingWithdrawals, e.Token)
	return nil
}

// trade settles an execution against an order; negative amounts revert one.
// Balances may go negative until the solution is submitted.
func (s *AccountState) trade(owner common.Address, id, buyID, sellID uint16, bought, sold *big.Int) error {
	buyToken, ok := s.tokens[buyID]
	if !ok {
		return fmt.Errorf("buy token id %d: %w", buyID, ErrReference)
	}
	sellToken, ok := s.tokens[sellID]
	if !ok {
		return fmt.Errorf("sell token id %d: %w", sellID, ErrReference)
	}
	acct, rec, err := s.order(owner, id)
	if err != nil {
		return err
	}
	remaining := new(big.Int).Sub(rec.RemainingAmount, sold)
	if remaining.Sign() < 0 {
		return fmt.Errorf("order %d of %s sells %s, remaining %s: %w",
			id, owner.Hex(), sold, rec.RemainingAmount, ErrInsufficientAmount)
	}
	rec.RemainingAmount = remaining
	acct.Orders[id] = rec

	acct.Balances[buyToken] = new(big.Int).Add(acct.balance(buyToken), bought)
	acct.Balances[sellToken] = new(big.Int).Sub(acct.balance(sellToken), sold)
	s.markUnsettled(owner, buyToken, sellToken)
	return nil
}

func (s *AccountState) markUnsettled(owner common.Address, tokens ...common.Address) {
	set, ok := s.unsettled[owner]
	if !ok {
		set = make(map[common.Address]struct{})
		s.unsettled[owner] = set
	}
	for _, t := range tokens {
		set[t] = struct{}{}
	}
}

func (s *AccountState) submitSolution(e *event.SolutionSubmission) error {
	for owner, tokens := range s.unsettled {
		acct := s.accounts[owner]
		for token := range tokens {
			if b := acct.balance(token); b.Sign() < 0 {
				return fmt.Errorf("balance of %s in %s is %s after settlement: %w",
					owner.Hex(), token.Hex(), b, ErrInsufficientAmount)
			}
		}
	}
	s.unsettled = make(map[common.Address]map[common.Address]struct{})

	feeToken, ok := s.tokens[FeeTokenID]
	if !ok {
		return fmt.Errorf("fee token id %d: %w", FeeTokenID, ErrReference)
	}
	fees := amount(e.BurntFees)
	acct := s.writable(e.Submitter)
	acct.Balances[feeToken] = new(big.Int).Add(acct.balance(feeToken), fees)
	s.solution = &solutionRecord{submitter: e.Submitter, burntFees: fees}
	return nil
}

// revertSolution takes back the fee credit of the current solution once. Without a tracked
// solution, an explicit reversion debits its own submitter and amount.
func (s *AccountState) revertSolution(e *event.SolutionReversion) error {
	var submitter common.Address
	var fees *big.Int
	switch {
	case s.solution != nil && s.solution.reverted:
		return nil
	case s.solution != nil:
		submitter, fees = s.solution.submitter, s.solution.burntFees
		s.solution.reverted = true
	case e != nil:
		submitter, fees = e.Submitter, amount(e.BurntFees)
	default:
		return nil
	}
	feeToken, ok := s.tokens[FeeTokenID]
	if !ok {
		return fmt.Errorf("fee token id %d: %w", FeeTokenID, ErrReference)
	}
	acct := s.writable(submitter)
	acct.Balances[feeToken] = new(big.Int).Sub(acct.balance(feeToken), fees)
	s.markUnsettled(submitter, feeToken)
	return nil
}

func amount(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
