package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"DexLedger/internal/core"
	"DexLedger/internal/encoding"
	fpmath "DexLedger/internal/math"
	"DexLedger/internal/observability"
	"DexLedger/internal/orderbook"
	"DexLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	// ErrNotFound is returned for unknown accounts and tokens.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is returned for malformed request parameters.
	ErrInvalidArgument = errors.New("invalid argument")
)

// BatchDuration is the length of one auction batch.
const BatchDuration = 300 * time.Second

// CurrentBatchID returns the batch running at now.
func CurrentBatchID(now time.Time) uint32 {
	return uint32(now.Unix() / int64(BatchDuration/time.Second))
}

// SnapshotReader exposes the last committed engine snapshot.
type SnapshotReader interface {
	Snapshot() *core.Snapshot
}

// Service answers read queries from committed snapshots. Every call reads one snapshot,
// so a response never mixes two commits.
type Service struct {
	reader  SnapshotReader
	fee     fpmath.Fraction
	metrics *observability.Metrics
	db      *sql.DB
	now     func() time.Time
}

// NewService creates a query service over reader using fee for order book aggregation.
func NewService(reader SnapshotReader, fee fpmath.Fraction, metrics *observability.Metrics) *Service {
	return &Service{reader: reader, fee: fee, metrics: metrics, now: time.Now}
}

// WithProjection enables projection status queries against db.
func (s *Service) WithProjection(db *sql.DB) *Service {
	s.db = db
	return s
}

func (s *Service) observe(op string, start time.Time, err *error) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if *err != nil {
		s.metrics.QueryErrors.WithLabelValues(op).Inc()
	}
}

// Summary describes the committed state.
func (s *Service) Summary(ctx context.Context) (resp *SummaryResponse, err error) {
	defer s.observe("summary", time.Now(), &err)

	snap := s.reader.Snapshot()
	st := snap.State
	pos, applied := st.Position()
	return &SummaryResponse{
		Applied:     applied,
		BlockNumber: pos.BlockNumber,
		LogIndex:    pos.LogIndex,
		NextBlock:   st.NextBlock(),
		StateHash:   hexutil.Encode(snap.StateHash[:]),
		Tokens:      len(st.Tokens()),
		Accounts:    st.NumAccounts(),
		OpenOrders:  st.OpenOrderCount(),
		CommittedAt: snap.CommittedAt.Unix(),
	}, nil
}

// Tokens lists the token listing ordered by id.
func (s *Service) Tokens(ctx context.Context) (resp []TokenResponse, err error) {
	defer s.observe("tokens", time.Now(), &err)

	tokens := s.reader.Snapshot().State.Tokens()
	resp = make([]TokenResponse, 0, len(tokens))
	for id, addr := range tokens {
		resp = append(resp, TokenResponse{ID: id, Address: addr.Hex()})
	}
	sort.Slice(resp, func(i, j int) bool { return resp[i].ID < resp[j].ID })
	return resp, nil
}

// Account returns the balances, orders and pending withdrawals of address.
func (s *Service) Account(ctx context.Context, address string) (resp *AccountResponse, err error) {
	defer s.observe("account", time.Now(), &err)

	owner, err := encoding.ParseAddress(address)
	if err != nil {
		return nil, fmt.Errorf("address %q: %w", address, ErrInvalidArgument)
	}
	st := s.reader.Snapshot().State
	acct, ok := st.Account(owner)
	if !ok {
		return nil, fmt.Errorf("account %s: %w", owner.Hex(), ErrNotFound)
	}

	resp = &AccountResponse{
		Address:            owner.Hex(),
		Balances:           make(map[string]string, len(acct.Balances)),
		Orders:             make([]OrderResponse, 0, len(acct.Orders)),
		PendingWithdrawals: make([]PendingWithdrawalResponse, 0, len(acct.PendingWithdrawals)),
		AsOfBlock:          asOf(st),
	}
	for token, amount := range acct.Balances {
		resp.Balances[token.Hex()] = amount.String()
	}
	for _, id := range acct.OrderIDs() {
		rec := acct.Orders[id]
		resp.Orders = append(resp.Orders, OrderResponse{
			ID:               id,
			BuyToken:         rec.BuyToken,
			SellToken:        rec.SellToken,
			ValidFrom:        rec.ValidFrom,
			ValidUntil:       rec.ValidUntil,
			PriceNumerator:   encoding.FormatUint(rec.PriceNumerator),
			PriceDenominator: encoding.FormatUint(rec.PriceDenominator),
			RemainingAmount:  encoding.FormatUint(rec.RemainingAmount),
			Canceled:         rec.Canceled(),
			Deleted:          rec.Deleted(),
		})
	}
	for token, w := range acct.PendingWithdrawals {
		resp.PendingWithdrawals = append(resp.PendingWithdrawals, PendingWithdrawalResponse{
			Token:   token.Hex(),
			BatchID: w.BatchID,
			Amount:  w.Amount.String(),
		})
	}
	sort.Slice(resp.PendingWithdrawals, func(i, j int) bool {
		return resp.PendingWithdrawals[i].Token < resp.PendingWithdrawals[j].Token
	})
	return resp, nil
}

// OpenOrders returns every open order encoded as indexed order records.
func (s *Service) OpenOrders(ctx context.Context) (resp *OrdersResponse, err error) {
	defer s.observe("open_orders", time.Now(), &err)

	st := s.reader.Snapshot().State
	orders := st.OpenOrders()
	encoded, err := encoding.EncodeIndexedOrdersHex(orders)
	if err != nil {
		return nil, err
	}
	return &OrdersResponse{Count: len(orders), Encoded: encoded, AsOfBlock: asOf(st)}, nil
}

// Orderbook aggregates the open orders valid in batch into the base/quote book.
// Tokens are given as ids or listed addresses. A nil batch means the current one.
func (s *Service) Orderbook(ctx context.Context, base, quote string, batch *uint32, transitive bool) (resp *OrderbookResponse, err error) {
	defer s.observe("orderbook", time.Now(), &err)

	st := s.reader.Snapshot().State
	book, batchID, err := s.book(st, base, quote, batch, transitive)
	if err != nil {
		return nil, err
	}
	return &OrderbookResponse{BatchID: batchID, Transitive: transitive, Book: book, AsOfBlock: asOf(st)}, nil
}

// Price returns the marginal price to sell ("sell") or buy ("buy") amount of base for quote,
// routing through intermediate tokens.
func (s *Service) Price(ctx context.Context, base, quote, side, amount string, batch *uint32) (resp *PriceResponse, err error) {
	defer s.observe("price", time.Now(), &err)

	qty, err := fpmath.ParseFraction(amount)
	if err != nil || qty.Sign() <= 0 {
		return nil, fmt.Errorf("amount %q: %w", amount, ErrInvalidArgument)
	}
	st := s.reader.Snapshot().State
	book, batchID, err := s.book(st, base, quote, batch, true)
	if err != nil {
		return nil, err
	}

	var (
		price fpmath.Fraction
		found bool
	)
	switch side {
	case "sell":
		price, found = book.PriceToSellBaseToken(qty)
	case "buy":
		price, found = book.PriceToBuyBaseToken(qty)
	default:
		return nil, fmt.Errorf("side %q: %w", side, ErrInvalidArgument)
	}

	resp = &PriceResponse{
		Base:      book.BaseToken,
		Quote:     book.QuoteToken,
		Side:      side,
		Amount:    qty.String(),
		BatchID:   batchID,
		Found:     found,
		AsOfBlock: asOf(st),
	}
	if found {
		resp.Price = price.String()
		resp.Estimate = price.ToNumber()
	}
	return resp, nil
}

// ProjectionBlock returns the last block written to the Postgres read model.
func (s *Service) ProjectionBlock(ctx context.Context) (block uint64, err error) {
	defer s.observe("projection", time.Now(), &err)

	if s.db == nil {
		return 0, fmt.Errorf("projection disabled: %w", ErrNotFound)
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_block, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&block)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return block, err
}

func (s *Service) book(st *state.AccountState, base, quote string, batch *uint32, transitive bool) (*orderbook.Orderbook, uint32, error) {
	baseID, err := resolveToken(st, base)
	if err != nil {
		return nil, 0, err
	}
	quoteID, err := resolveToken(st, quote)
	if err != nil {
		return nil, 0, err
	}
	if baseID == quoteID {
		return nil, 0, fmt.Errorf("identical tokens %d: %w", baseID, ErrInvalidArgument)
	}

	batchID := CurrentBatchID(s.now())
	if batch != nil {
		batchID = *batch
	}
	agg, err := orderbook.Aggregate(st.OpenOrders(), batchID, s.fee)
	if err != nil {
		return nil, 0, err
	}
	baseName, quoteName := orderbook.TokenName(baseID), orderbook.TokenName(quoteID)
	if transitive {
		return agg.TransitiveBook(baseName, quoteName), batchID, nil
	}
	return agg.Book(baseName, quoteName), batchID, nil
}

// resolveToken accepts a listed token id or a listed token address.
func resolveToken(st *state.AccountState, token string) (uint16, error) {
	if !common.IsHexAddress(token) {
		id, err := encoding.ToUint16(token)
		if err != nil {
			return 0, fmt.Errorf("token %q: %w", token, ErrInvalidArgument)
		}
		if _, ok := st.Token(id); !ok {
			return 0, fmt.Errorf("token %d: %w", id, ErrNotFound)
		}
		return id, nil
	}
	addr := common.HexToAddress(token)
	for id, listed := range st.Tokens() {
		if listed == addr {
			return id, nil
		}
	}
	return 0, fmt.Errorf("token %s: %w", addr.Hex(), ErrNotFound)
}

func asOf(st *state.AccountState) uint64 {
	pos, _ := st.Position()
	return pos.BlockNumber
}
