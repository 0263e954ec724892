package projection

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"sort"
	"time"

	"DexLedger/internal/core"
	"DexLedger/internal/observability"
	"DexLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// WorkerID keys the projection watermark row.
const WorkerID = "main"

// TokenRow is a row of projections.tokens.
type TokenRow struct {
	ID      uint16
	Address string
}

// BalanceRow is a row of projections.balances.
type BalanceRow struct {
	Owner   string
	Token   string
	Balance string
}

// OrderRow is a row of projections.orders. ValidUntil is nil for canceled orders.
type OrderRow struct {
	Owner            string
	OrderID          uint16
	BuyToken         uint16
	SellToken        uint16
	ValidFrom        uint32
	ValidUntil       *uint32
	PriceNumerator   string
	PriceDenominator string
	RemainingAmount  string
}

// WithdrawalRow is a row of projections.pending_withdrawals.
type WithdrawalRow struct {
	Owner   string
	Token   string
	BatchID uint32
	Amount  string
}

// Rows is the projection of a set of accounts at one state.
type Rows struct {
	Owners      []string
	Tokens      []TokenRow
	Balances    []BalanceRow
	Orders      []OrderRow
	Withdrawals []WithdrawalRow
}

// DeriveRows projects owners out of st. Owners missing from st are kept so their rows get cleared.
func DeriveRows(st *state.AccountState, owners []common.Address) Rows {
	var rows Rows
	for id, addr := range st.Tokens() {
		rows.Tokens = append(rows.Tokens, TokenRow{ID: id, Address: addr.Hex()})
	}
	sort.Slice(rows.Tokens, func(i, j int) bool { return rows.Tokens[i].ID < rows.Tokens[j].ID })
	for _, owner := range owners {
		o := owner.Hex()
		rows.Owners = append(rows.Owners, o)

		acct, ok := st.Account(owner)
		if !ok {
			continue
		}
		for token, bal := range acct.Balances {
			rows.Balances = append(rows.Balances, BalanceRow{Owner: o, Token: token.Hex(), Balance: bal.String()})
		}
		sort.Slice(rows.Balances, func(i, j int) bool {
			if rows.Balances[i].Owner != rows.Balances[j].Owner {
				return rows.Balances[i].Owner < rows.Balances[j].Owner
			}
			return rows.Balances[i].Token < rows.Balances[j].Token
		})
		for _, id := range acct.OrderIDs() {
			rec := acct.Orders[id]
			rows.Orders = append(rows.Orders, OrderRow{
				Owner:            o,
				OrderID:          id,
				BuyToken:         rec.BuyToken,
				SellToken:        rec.SellToken,
				ValidFrom:        rec.ValidFrom,
				ValidUntil:       rec.ValidUntil,
				PriceNumerator:   decimal(rec.PriceNumerator),
				PriceDenominator: decimal(rec.PriceDenominator),
				RemainingAmount:  decimal(rec.RemainingAmount),
			})
		}
		for token, pw := range acct.PendingWithdrawals {
			rows.Withdrawals = append(rows.Withdrawals, WithdrawalRow{
				Owner:   o,
				Token:   token.Hex(),
				BatchID: pw.BatchID,
				Amount:  decimal(pw.Amount),
			})
		}
	}
	return rows
}

func decimal(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// Worker keeps the projection tables in step with engine commits.
// Projections are eventually consistent: a failed update is logged and skipped, and the next
// commit whose chain does not follow the last projected hash triggers a full resync.
type Worker struct {
	db      *sql.DB
	input   <-chan core.CommitOutput
	metrics *observability.Metrics
	log     zerolog.Logger

	lastHash [32]byte
	synced   bool
}

func NewWorker(db *sql.DB, input <-chan core.CommitOutput, metrics *observability.Metrics, logger zerolog.Logger) *Worker {
	return &Worker{db: db, input: input, metrics: metrics, log: logger}
}

// Run blocks until ctx is cancelled or the input is closed.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-w.input:
			if !ok {
				return nil
			}
			if err := w.Process(ctx, out); err != nil {
				w.log.Warn().Err(err).Uint64("block", out.Position.BlockNumber).Msg("projection update failed")
			}
		}
	}
}

// Process projects one commit. Only the touched accounts are rewritten unless the commit
// does not chain onto the last projected one.
func (w *Worker) Process(ctx context.Context, out core.CommitOutput) error {
	start := time.Now()

	owners := out.Accounts
	full := !w.synced || out.PrevHash != w.lastHash
	if full {
		owners = out.State.Addresses()
		w.log.Info().
			Uint64("block", out.Position.BlockNumber).
			Int("accounts", len(owners)).
			Msg("projection resync")
	}

	if err := w.write(ctx, DeriveRows(out.State, owners), out); err != nil {
		w.synced = false
		return err
	}
	w.lastHash = out.StateHash
	w.synced = true

	if w.metrics != nil {
		w.metrics.ProjectionDur.Observe(time.Since(start).Seconds())
	}
	return nil
}

func (w *Worker) write(ctx context.Context, rows Rows, out core.CommitOutput) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	block := int64(out.Position.BlockNumber)

	for _, t := range rows.Tokens {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.tokens (token_id, address) VALUES ($1, $2)
			ON CONFLICT (token_id) DO UPDATE SET address = EXCLUDED.address
		`, int32(t.ID), t.Address); err != nil {
			return fmt.Errorf("token projection: %w", err)
		}
	}

	for _, owner := range rows.Owners {
		for _, table := range []string{"projections.orders", "projections.pending_withdrawals"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE owner = $1`, owner); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
	}

	for _, b := range rows.Balances {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (owner, token, balance, last_block)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (owner, token) DO UPDATE SET balance = EXCLUDED.balance, last_block = EXCLUDED.last_block
		`, b.Owner, b.Token, b.Balance, block); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	for _, o := range rows.Orders {
		var validUntil sql.NullInt64
		if o.ValidUntil != nil {
			validUntil = sql.NullInt64{Int64: int64(*o.ValidUntil), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.orders (owner, order_id, buy_token, sell_token, valid_from, valid_until,
				price_numerator, price_denominator, remaining_amount, last_block)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, o.Owner, int32(o.OrderID), int32(o.BuyToken), int32(o.SellToken), int64(o.ValidFrom), validUntil,
			o.PriceNumerator, o.PriceDenominator, o.RemainingAmount, block); err != nil {
			return fmt.Errorf("order projection: %w", err)
		}
	}

	for _, pw := range rows.Withdrawals {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.pending_withdrawals (owner, token, batch_id, amount)
			VALUES ($1, $2, $3, $4)
		`, pw.Owner, pw.Token, int64(pw.BatchID), pw.Amount); err != nil {
			return fmt.Errorf("withdrawal projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_block, last_log_index, state_hash, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (worker_id) DO UPDATE
			SET last_block = EXCLUDED.last_block, last_log_index = EXCLUDED.last_log_index,
			    state_hash = EXCLUDED.state_hash, updated_at = NOW()
	`, WorkerID, block, int64(out.Position.LogIndex), out.StateHash[:]); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}
