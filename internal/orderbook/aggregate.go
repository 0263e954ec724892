package orderbook

import (
	"math/big"
	"sort"
	"strconv"

	"DexLedger/internal/encoding"
	fpmath "DexLedger/internal/math"
)

// Aggregation holds one book per directed sellToken/buyToken pair built from open orders.
type Aggregation struct {
	fee    fpmath.Fraction
	books  map[string]*Orderbook
	tokens map[string]struct{}
}

// Aggregate turns every order valid in batchID into an ask on its sellToken/buyToken book.
// The ask volume is the remaining amount capped by the owner's sell token balance.
func Aggregate(orders []encoding.IndexedOrder, batchID uint32, fee fpmath.Fraction) (*Aggregation, error) {
	if _, err := New("", "", fee); err != nil {
		return nil, err
	}
	agg := &Aggregation{
		fee:    fee,
		books:  make(map[string]*Orderbook),
		tokens: make(map[string]struct{}),
	}

	for _, o := range orders {
		if !o.ValidIn(batchID) || o.PriceDenominator == nil || o.PriceDenominator.Sign() == 0 {
			continue
		}
		volume := sellableVolume(o.Order)
		if volume.Sign() == 0 {
			continue
		}

		base := TokenName(o.SellToken)
		quote := TokenName(o.BuyToken)
		book := agg.books[base+"/"+quote]
		if book == nil {
			book = MustNew(base, quote, fee)
			agg.books[book.Pair()] = book
		}
		book.AddAsk(Offer{
			Price:  fpmath.MustFraction(o.PriceNumerator, o.PriceDenominator),
			Volume: fpmath.FromInt(volume),
		})
		agg.tokens[base] = struct{}{}
		agg.tokens[quote] = struct{}{}
	}
	return agg, nil
}

func sellableVolume(o encoding.Order) *big.Int {
	if o.RemainingAmount == nil || o.SellTokenBalance == nil {
		return new(big.Int)
	}
	if o.SellTokenBalance.Cmp(o.RemainingAmount) < 0 {
		return new(big.Int).Set(o.SellTokenBalance)
	}
	return new(big.Int).Set(o.RemainingAmount)
}

// TokenName renders a token id as a book token identifier.
func TokenName(id uint16) string {
	return strconv.FormatUint(uint64(id), 10)
}

// Tokens lists every token that appears in some book.
func (a *Aggregation) Tokens() []string {
	tokens := make([]string, 0, len(a.tokens))
	for t := range a.tokens {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

// Book returns the direct base/quote book: asks from orders selling base, bids from orders
// selling quote.
func (a *Aggregation) Book(base, quote string) *Orderbook {
	result := MustNew(base, quote, a.fee)
	if direct := a.books[base+"/"+quote]; direct != nil {
		result, _ = result.Add(direct)
	}
	if opposite := a.books[quote+"/"+base]; opposite != nil {
		result, _ = result.Add(opposite.Inverted())
	}
	return result
}

// TransitiveBook returns the direct book plus every two-hop route through an intermediate
// token, with crossing liquidity removed.
func (a *Aggregation) TransitiveBook(base, quote string) *Orderbook {
	result := a.Book(base, quote)
	for _, via := range a.Tokens() {
		if via == base || via == quote {
			continue
		}
		left := a.Book(base, via)
		right := a.Book(via, quote)
		if left.IsEmpty() || right.IsEmpty() {
			continue
		}
		closure, err := left.TransitiveClosure(right)
		if err != nil {
			continue
		}
		result, _ = result.Add(closure)
	}
	return result.Reduced()
}
