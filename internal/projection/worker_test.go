package projection

import (
	"context"
	"math/big"
	"testing"

	"DexLedger/internal/core"
	"DexLedger/internal/event"
	"DexLedger/internal/persistence"
	"DexLedger/internal/state"
	"DexLedger/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	weth  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	dai   = common.HexToAddress("0x00000000000000000000000000000000000000d1")
)

func meta(block uint64, logIndex uint) event.Meta {
	return event.Meta{Position: event.Position{BlockNumber: block, LogIndex: logIndex}}
}

func sampleState(t *testing.T) *state.AccountState {
	t.Helper()
	st := state.New()
	err := st.ApplyEvents([]event.Event{
		&event.TokenListing{Meta: meta(1, 0), ID: 1, Token: dai},
		&event.TokenListing{Meta: meta(1, 1), ID: 0, Token: weth},
		&event.Deposit{Meta: meta(2, 0), User: alice, Token: weth, Amount: big.NewInt(100), BatchID: 1},
		&event.Deposit{Meta: meta(2, 1), User: alice, Token: dai, Amount: big.NewInt(7), BatchID: 1},
		&event.OrderPlacement{
			Meta: meta(3, 0), Owner: alice, Index: 0, BuyToken: 1, SellToken: 0, ValidFrom: 5, ValidUntil: 50,
			PriceNumerator: big.NewInt(200), PriceDenominator: big.NewInt(100),
		},
		&event.OrderPlacement{
			Meta: meta(3, 1), Owner: alice, Index: 1, BuyToken: 0, SellToken: 1, ValidFrom: 5, ValidUntil: 60,
			PriceNumerator: big.NewInt(3), PriceDenominator: big.NewInt(4),
		},
		&event.OrderCancellation{Meta: meta(4, 0), Owner: alice, ID: 1},
		&event.WithdrawRequest{Meta: meta(4, 1), User: alice, Token: weth, Amount: big.NewInt(40), BatchID: 9},
		&event.Deposit{Meta: meta(5, 0), User: bob, Token: dai, Amount: big.NewInt(1), BatchID: 2},
	}, true)
	require.NoError(t, err)
	return st
}

func TestDeriveRows(t *testing.T) {
	st := sampleState(t)

	rows := DeriveRows(st, []common.Address{alice})

	require.Len(t, rows.Tokens, 2)
	assert.Equal(t, TokenRow{ID: 0, Address: weth.Hex()}, rows.Tokens[0])
	assert.Equal(t, TokenRow{ID: 1, Address: dai.Hex()}, rows.Tokens[1])

	assert.Equal(t, []string{alice.Hex()}, rows.Owners)

	require.Len(t, rows.Balances, 2)
	for _, b := range rows.Balances {
		assert.Equal(t, alice.Hex(), b.Owner)
		switch b.Token {
		case weth.Hex():
			assert.Equal(t, "100", b.Balance)
		case dai.Hex():
			assert.Equal(t, "7", b.Balance)
		default:
			t.Fatalf("unexpected token %s", b.Token)
		}
	}

	require.Len(t, rows.Orders, 2)
	assert.Equal(t, uint16(0), rows.Orders[0].OrderID)
	assert.Equal(t, "200", rows.Orders[0].PriceNumerator)
	assert.Equal(t, "100", rows.Orders[0].RemainingAmount)
	require.NotNil(t, rows.Orders[0].ValidUntil)
	assert.Equal(t, uint32(50), *rows.Orders[0].ValidUntil)
	assert.Nil(t, rows.Orders[1].ValidUntil, "canceled order has no expiry")

	require.Len(t, rows.Withdrawals, 1)
	assert.Equal(t, WithdrawalRow{Owner: alice.Hex(), Token: weth.Hex(), BatchID: 9, Amount: "40"}, rows.Withdrawals[0])
}

func TestDeriveRows_UnknownOwnerIsCleared(t *testing.T) {
	st := sampleState(t)
	ghost := common.HexToAddress("0x00000000000000000000000000000000000000ff")

	rows := DeriveRows(st, []common.Address{ghost})

	assert.Equal(t, []string{ghost.Hex()}, rows.Owners)
	assert.Empty(t, rows.Balances)
	assert.Empty(t, rows.Orders)
	assert.Empty(t, rows.Withdrawals)
}

// ============================================================================
// Integration
// ============================================================================

func TestWorker_Integration(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, persistence.NewMigrator(db, testutil.MigrationsDir, zerolog.Nop()).Up(ctx))

	st := sampleState(t)
	w := NewWorker(db, nil, nil, zerolog.Nop())
	out := core.CommitOutput{
		Position:  event.Position{BlockNumber: 5, LogIndex: 0},
		Accounts:  []common.Address{bob},
		State:     st,
		StateHash: [32]byte{9},
	}
	require.NoError(t, w.Process(ctx, out))

	// the first commit resyncs every account, not just the touched one
	var orders int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM projections.orders WHERE owner = $1`, alice.Hex()).Scan(&orders))
	assert.Equal(t, 2, orders)

	var block int64
	var hash []byte
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT last_block, state_hash FROM projections.watermark WHERE worker_id = $1`, WorkerID).Scan(&block, &hash))
	assert.Equal(t, int64(5), block)
	assert.Equal(t, out.StateHash[:], hash)
}
