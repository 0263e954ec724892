package orderbook

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"

	fpmath "DexLedger/internal/math"
)

// ErrIncompatiblePair is returned when combining books whose token pairs do not line up.
var ErrIncompatiblePair = errors.New("incompatible token pair")

// DefaultFee is the exchange fee charged on the sell side of every trade.
var DefaultFee = fpmath.MustFraction(big.NewInt(1), big.NewInt(1000))

// Offer is one price level. Price is quote per base, Volume is in base units.
type Offer struct {
	Price  fpmath.Fraction `json:"price"`
	Volume fpmath.Fraction `json:"volume"`
}

// Orderbook aggregates offers for a base/quote pair. Stored offers are already fee adjusted.
// Levels are bucketed by the float approximation of their price; volumes in a bucket add up.
type Orderbook struct {
	BaseToken  string
	QuoteToken string

	fee       fpmath.Fraction
	remaining fpmath.Fraction // 1 - fee
	asks      map[float64]Offer
	bids      map[float64]Offer
}

// New creates an empty book. fee must lie in [0, 1).
func New(baseToken, quoteToken string, fee fpmath.Fraction) (*Orderbook, error) {
	if fee.Sign() < 0 || !fee.Lt(fpmath.One()) {
		return nil, fmt.Errorf("invalid fee %s: must be in [0, 1)", fee)
	}
	return &Orderbook{
		BaseToken:  baseToken,
		QuoteToken: quoteToken,
		fee:        fee,
		remaining:  fpmath.One().Sub(fee),
		asks:       make(map[float64]Offer),
		bids:       make(map[float64]Offer),
	}, nil
}

// MustNew is New for fees known to be valid.
func MustNew(baseToken, quoteToken string, fee fpmath.Fraction) *Orderbook {
	b, err := New(baseToken, quoteToken, fee)
	if err != nil {
		panic(err)
	}
	return b
}

func (b *Orderbook) empty(baseToken, quoteToken string) *Orderbook {
	return &Orderbook{
		BaseToken:  baseToken,
		QuoteToken: quoteToken,
		fee:        b.fee,
		remaining:  b.remaining,
		asks:       make(map[float64]Offer),
		bids:       make(map[float64]Offer),
	}
}

// Pair returns "base/quote".
func (b *Orderbook) Pair() string {
	return b.BaseToken + "/" + b.QuoteToken
}

// Fee returns the book's fee.
func (b *Orderbook) Fee() fpmath.Fraction { return b.fee }

// IsEmpty reports whether the book has no levels on either side.
func (b *Orderbook) IsEmpty() bool {
	return len(b.asks) == 0 && len(b.bids) == 0
}

// AddAsk stores a sell offer of base. The seller nets (1-fee), so the quoted price rises to
// price/(1-fee) and the volume shrinks to volume*(1-fee).
func (b *Orderbook) AddAsk(ask Offer) {
	insert(b.asks, Offer{
		Price:  ask.Price.Mul(b.remaining.Inverted()),
		Volume: ask.Volume.Mul(b.remaining),
	})
}

// AddBid stores a buy offer of base at price*(1-fee) with volume*(1-fee).
func (b *Orderbook) AddBid(bid Offer) {
	insert(b.bids, Offer{
		Price:  bid.Price.Mul(b.remaining),
		Volume: bid.Volume.Mul(b.remaining),
	})
}

func insert(side map[float64]Offer, o Offer) {
	key := o.Price.ToNumber()
	if existing, ok := side[key]; ok {
		existing.Volume = existing.Volume.Add(o.Volume)
		side[key] = existing
		return
	}
	side[key] = o
}

// SortedAsks returns asks by ascending price.
func (b *Orderbook) SortedAsks() []Offer {
	return sorted(b.asks, func(x, y Offer) bool { return x.Price.Lt(y.Price) })
}

// SortedBids returns bids by descending price.
func (b *Orderbook) SortedBids() []Offer {
	return sorted(b.bids, func(x, y Offer) bool { return x.Price.Gt(y.Price) })
}

func sorted(side map[float64]Offer, less func(x, y Offer) bool) []Offer {
	offers := make([]Offer, 0, len(side))
	for _, o := range side {
		offers = append(offers, o)
	}
	sort.Slice(offers, func(i, j int) bool { return less(offers[i], offers[j]) })
	return offers
}

// Inverted returns the quote/base view of the book. Bids become asks and vice versa, prices are
// reciprocated and volumes are converted to the new base using the pre-fee price, so that
// inverting twice yields the original book.
func (b *Orderbook) Inverted() *Orderbook {
	result := b.empty(b.QuoteToken, b.BaseToken)
	for _, bid := range b.bids {
		preFee := bid.Price.Mul(b.remaining.Inverted())
		insert(result.asks, Offer{Price: bid.Price.Inverted(), Volume: bid.Volume.Mul(preFee)})
	}
	for _, ask := range b.asks {
		preFee := ask.Price.Mul(b.remaining)
		insert(result.bids, Offer{Price: ask.Price.Inverted(), Volume: ask.Volume.Mul(preFee)})
	}
	return result
}

// Add merges two books of the same pair, summing volumes at matching price levels.
func (b *Orderbook) Add(other *Orderbook) (*Orderbook, error) {
	if b.BaseToken != other.BaseToken || b.QuoteToken != other.QuoteToken {
		return nil, fmt.Errorf("%w: cannot add %s to %s", ErrIncompatiblePair, other.Pair(), b.Pair())
	}
	result := b.Clone()
	for _, ask := range other.asks {
		insert(result.asks, ask)
	}
	for _, bid := range other.bids {
		insert(result.bids, bid)
	}
	return result, nil
}

// Clone returns an independent copy.
func (b *Orderbook) Clone() *Orderbook {
	result := b.empty(b.BaseToken, b.QuoteToken)
	for k, v := range b.asks {
		result.asks[k] = v
	}
	for k, v := range b.bids {
		result.bids[k] = v
	}
	return result
}

// PriceToSellBaseToken returns the lowest bid price at which amount of base can be sold in full.
// ok is false when the bids cannot absorb amount.
func (b *Orderbook) PriceToSellBaseToken(amount fpmath.Fraction) (price fpmath.Fraction, ok bool) {
	return marginalPrice(b.SortedBids(), amount)
}

// PriceToBuyBaseToken returns the highest ask price paid when buying amount of base in full.
// ok is false when the asks cannot fill amount.
func (b *Orderbook) PriceToBuyBaseToken(amount fpmath.Fraction) (price fpmath.Fraction, ok bool) {
	return marginalPrice(b.SortedAsks(), amount)
}

func marginalPrice(levels []Offer, amount fpmath.Fraction) (fpmath.Fraction, bool) {
	cumulative := fpmath.Zero()
	for _, level := range levels {
		cumulative = cumulative.Add(level.Volume)
		if !cumulative.Lt(amount) {
			return level.Price, true
		}
	}
	return fpmath.Fraction{}, false
}

// Reduced removes self-crossing liquidity: while the best bid is not below the best ask, the
// smaller side is consumed against the larger one. The result has no bid at or above any ask.
func (b *Orderbook) Reduced() *Orderbook {
	bids := b.SortedBids()
	asks := b.SortedAsks()
	i, j := 0, 0
	for i < len(bids) && j < len(asks) && !bids[i].Price.Lt(asks[j].Price) {
		switch bids[i].Volume.Cmp(asks[j].Volume) {
		case 1:
			bids[i].Volume = bids[i].Volume.Sub(asks[j].Volume)
			j++
		case -1:
			asks[j].Volume = asks[j].Volume.Sub(bids[i].Volume)
			i++
		default:
			i++
			j++
		}
	}

	result := b.empty(b.BaseToken, b.QuoteToken)
	for _, bid := range bids[i:] {
		insert(result.bids, bid)
	}
	for _, ask := range asks[j:] {
		insert(result.asks, ask)
	}
	return result
}

// TransitiveClosure combines this base/intermediate book with an intermediate/quote book into
// a base/quote book of two-hop offers.
func (b *Orderbook) TransitiveClosure(other *Orderbook) (*Orderbook, error) {
	if b.QuoteToken != other.BaseToken {
		return nil, fmt.Errorf("%w: cannot route %s through %s", ErrIncompatiblePair, b.Pair(), other.Pair())
	}

	asks := transitiveAskClosure(b, other)
	// Bids of A/C are the asks of C/A.
	inverseAsks := transitiveAskClosure(other.Inverted(), b.Inverted())
	return asks.Add(inverseAsks.Inverted())
}

// transitiveAskClosure merges the ascending asks of left (A/B) and right (B/C). Each step
// consumes the tighter of the left volume and the right volume expressed in A.
func transitiveAskClosure(left, right *Orderbook) *Orderbook {
	result := left.empty(left.BaseToken, right.QuoteToken)
	l := left.SortedAsks()
	r := right.SortedAsks()

	i, j := 0, 0
	for i < len(l) && j < len(r) {
		if l[i].Price.IsZero() {
			i++
			continue
		}
		price := l[i].Price.Mul(r[j].Price)
		rightInLeft, _ := r[j].Volume.Div(l[i].Price)

		volume := fpmath.Min(l[i].Volume, rightInLeft)
		if volume.Lt(l[i].Volume) {
			l[i].Volume = l[i].Volume.Sub(volume)
			j++
		} else {
			volume = l[i].Volume
			r[j].Volume = r[j].Volume.Sub(volume.Mul(l[i].Price))
			i++
			if r[j].Volume.IsZero() {
				j++
			}
		}

		if !volume.IsZero() {
			insert(result.asks, Offer{Price: price, Volume: volume})
		}
	}
	return result
}

type bookJSON struct {
	BaseToken  string          `json:"baseToken"`
	QuoteToken string          `json:"quoteToken"`
	Fee        fpmath.Fraction `json:"fee"`
	Asks       []Offer         `json:"asks"`
	Bids       []Offer         `json:"bids"`
}

// MarshalJSON renders both sides sorted.
func (b *Orderbook) MarshalJSON() ([]byte, error) {
	return json.Marshal(bookJSON{
		BaseToken:  b.BaseToken,
		QuoteToken: b.QuoteToken,
		Fee:        b.fee,
		Asks:       b.SortedAsks(),
		Bids:       b.SortedBids(),
	})
}
