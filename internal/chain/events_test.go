package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"DexLedger/internal/core"
	"DexLedger/internal/event"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	exchangeAddr = common.HexToAddress("0x6F400810b62df8E13fded51bE75fF5393eaa841F")
	owner        = common.HexToAddress("0x1111111111111111111111111111111111111111")
	tokenAddr    = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type fakeLogClient struct {
	head    uint64
	logs    []types.Log
	queries []ethereum.FilterQuery
	err     error
}

func (f *fakeLogClient) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, f.err
}

func (f *fakeLogClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= q.FromBlock.Uint64() && lg.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, lg)
		}
	}
	return out, nil
}

func mustLog(t *testing.T, name string, block uint64, index uint, topics []common.Hash, data ...interface{}) types.Log {
	t.Helper()
	abiEvent, ok := exchangeABI.Events[name]
	require.True(t, ok, name)
	packed, err := abiEvent.Inputs.NonIndexed().Pack(data...)
	require.NoError(t, err)
	return types.Log{
		Address:     exchangeAddr,
		Topics:      append([]common.Hash{abiEvent.ID}, topics...),
		Data:        packed,
		BlockNumber: block,
		Index:       index,
	}
}

func idTopic(id int64) common.Hash {
	return common.BigToHash(big.NewInt(id))
}

func TestDecodeLog_AllKinds(t *testing.T) {
	tests := []struct {
		name string
		log  types.Log
		want event.Event
	}{
		{
			name: "token listing",
			log:  mustLog(t, "TokenListing", 1, 0, nil, tokenAddr, uint16(3)),
			want: &event.TokenListing{ID: 3, Token: tokenAddr},
		},
		{
			name: "order placement",
			log: mustLog(t, "OrderPlacement", 1, 1,
				[]common.Hash{common.BytesToHash(owner.Bytes()), idTopic(1), idTopic(0)},
				uint16(4), uint32(10), uint32(20), big.NewInt(300), big.NewInt(150)),
			want: &event.OrderPlacement{
				Owner: owner, Index: 4, BuyToken: 1, SellToken: 0, ValidFrom: 10, ValidUntil: 20,
				PriceNumerator: big.NewInt(300), PriceDenominator: big.NewInt(150),
			},
		},
		{
			name: "deposit",
			log: mustLog(t, "Deposit", 2, 0, []common.Hash{common.BytesToHash(owner.Bytes()), common.BytesToHash(tokenAddr.Bytes())},
				big.NewInt(1000), uint32(7)),
			want: &event.Deposit{User: owner, Token: tokenAddr, Amount: big.NewInt(1000), BatchID: 7},
		},
		{
			name: "trade",
			log: mustLog(t, "Trade", 3, 2, []common.Hash{common.BytesToHash(owner.Bytes()), idTopic(4), idTopic(0)},
				uint16(1), big.NewInt(50), big.NewInt(99)),
			want: &event.Trade{
				Owner: owner, OrderID: 4, SellToken: 0, BuyToken: 1,
				ExecutedSellAmount: big.NewInt(50), ExecutedBuyAmount: big.NewInt(99),
			},
		},
		{
			name: "solution submission",
			log: mustLog(t, "SolutionSubmission", 3, 3, []common.Hash{common.BytesToHash(owner.Bytes())},
				big.NewInt(1), big.NewInt(2), big.NewInt(3), big.NewInt(4),
				[]*big.Int{big.NewInt(5)}, []uint16{1}),
			want: &event.SolutionSubmission{
				Submitter: owner, Utility: big.NewInt(1), DisregardedUtility: big.NewInt(2),
				BurntFees: big.NewInt(3), LastAuctionBurntFees: big.NewInt(4),
				Prices: []*big.Int{big.NewInt(5)}, TokenIDsForPrice: []uint16{1},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeLog(tt.log)
			require.NoError(t, err)
			assert.Equal(t, tt.want.Kind(), got.Kind())
			assert.Equal(t, event.Position{BlockNumber: tt.log.BlockNumber, LogIndex: tt.log.Index}, got.At())
			assertSameFields(t, tt.want, got)
		})
	}
}

// assertSameFields compares events ignoring their ledger metadata.
func assertSameFields(t *testing.T, want, got event.Event) {
	t.Helper()
	switch w := want.(type) {
	case *event.TokenListing:
		g := got.(*event.TokenListing)
		assert.Equal(t, w.ID, g.ID)
		assert.Equal(t, w.Token, g.Token)
	case *event.OrderPlacement:
		g := got.(*event.OrderPlacement)
		w.Meta = g.Meta
		assert.Equal(t, w, g)
	case *event.Deposit:
		g := got.(*event.Deposit)
		w.Meta = g.Meta
		assert.Equal(t, w, g)
	case *event.Trade:
		g := got.(*event.Trade)
		w.Meta = g.Meta
		assert.Equal(t, w, g)
	case *event.SolutionSubmission:
		g := got.(*event.SolutionSubmission)
		w.Meta = g.Meta
		assert.Equal(t, w, g)
	default:
		t.Fatalf("unhandled %T", want)
	}
}

func TestDecodeLog_UnknownTopic(t *testing.T) {
	_, err := DecodeLog(types.Log{Topics: []common.Hash{common.HexToHash("0x01")}})
	assert.True(t, errors.Is(err, ErrUnexpectedLog))

	_, err = DecodeLog(types.Log{})
	assert.True(t, errors.Is(err, ErrUnexpectedLog))
}

func TestEventSource_SortsAndSkipsRemoved(t *testing.T) {
	removed := mustLog(t, "TokenListing", 5, 0, nil, tokenAddr, uint16(9))
	removed.Removed = true
	client := &fakeLogClient{
		head: 12,
		logs: []types.Log{
			mustLog(t, "OrderCancellation", 6, 1, []common.Hash{common.BytesToHash(owner.Bytes())}, uint16(0)),
			mustLog(t, "TokenListing", 5, 3, nil, tokenAddr, uint16(1)),
			removed,
			mustLog(t, "Withdraw", 11, 0, []common.Hash{common.BytesToHash(owner.Bytes()), common.BytesToHash(tokenAddr.Bytes())}, big.NewInt(1)),
		},
	}
	src := NewEventSource(client, exchangeAddr, 4, zerolog.Nop())

	head, err := src.LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(12), head)
	deployment, err := src.DeploymentBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(4), deployment)

	events, err := src.Events(context.Background(), 4, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, event.KindTokenListing, events[0].Kind())
	assert.Equal(t, event.KindOrderCancellation, events[1].Kind())

	require.Len(t, client.queries, 1)
	q := client.queries[0]
	assert.Equal(t, []common.Address{exchangeAddr}, q.Addresses)
	require.Len(t, q.Topics, 1)
	assert.Len(t, q.Topics[0], len(event.Kinds()))
}

func TestEventSource_PropagatesClientError(t *testing.T) {
	client := &fakeLogClient{err: errors.New("429 too many requests")}
	src := NewEventSource(client, exchangeAddr, 0, zerolog.Nop())
	_, err := src.Events(context.Background(), 0, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestEventSource_UndecodableLogIsInvalidEvent(t *testing.T) {
	client := &fakeLogClient{
		head: 12,
		logs: []types.Log{
			mustLog(t, "TokenListing", 5, 0, nil, tokenAddr, uint16(1)),
			{BlockNumber: 6, Topics: []common.Hash{common.HexToHash("0x01")}},
		},
	}
	src := NewEventSource(client, exchangeAddr, 0, zerolog.Nop())

	_, err := src.Events(context.Background(), 0, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedLog)
	assert.ErrorIs(t, err, core.ErrInvalidEvent)
	assert.NotErrorIs(t, err, core.ErrTransientFetch)
}
