package chain

import (
	"context"
	"fmt"
	"math/big"

	"DexLedger/internal/core"
	"DexLedger/internal/event"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
)

// ErrUnexpectedLog is returned for exchange logs that do not match the event ABI.
// It wraps core.ErrInvalidEvent, which the engine treats as fatal.
var ErrUnexpectedLog = fmt.Errorf("unexpected log: %w", core.ErrInvalidEvent)

// LogClient is the subset of ethclient.Client the event source needs.
type LogClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// EventSource reads exchange events from contract logs.
type EventSource struct {
	client     LogClient
	exchange   common.Address
	deployment uint64
	topics     []common.Hash
	log        zerolog.Logger
}

// NewEventSource creates a source for the exchange at address, deployed in block deployment.
func NewEventSource(client LogClient, exchange common.Address, deployment uint64, logger zerolog.Logger) *EventSource {
	topics := make([]common.Hash, 0, len(exchangeABI.Events))
	for _, kind := range event.Kinds() {
		if ev, ok := exchangeABI.Events[kind.String()]; ok {
			topics = append(topics, ev.ID)
		}
	}
	return &EventSource{
		client:     client,
		exchange:   exchange,
		deployment: deployment,
		topics:     topics,
		log:        logger,
	}
}

// LatestBlock returns the chain head.
func (s *EventSource) LatestBlock(ctx context.Context) (uint64, error) {
	return s.client.BlockNumber(ctx)
}

// DeploymentBlock returns the configured deployment block.
func (s *EventSource) DeploymentBlock(ctx context.Context) (uint64, error) {
	return s.deployment, nil
}

// Events returns every exchange event in [from, to] sorted by position.
// Logs marked as removed by a reorg are skipped.
func (s *EventSource) Events(ctx context.Context, from, to uint64) ([]event.Event, error) {
	logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.exchange},
		Topics:    [][]common.Hash{s.topics},
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs [%d, %d]: %w", from, to, err)
	}

	events := make([]event.Event, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ev, err := DecodeLog(lg)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	event.Sort(events)
	s.log.Debug().Uint64("from", from).Uint64("to", to).Int("events", len(events)).Msg("fetched events")
	return events, nil
}

// DecodeLog converts an exchange log into a typed event.
func DecodeLog(lg types.Log) (event.Event, error) {
	if len(lg.Topics) == 0 {
		return nil, fmt.Errorf("log %d in block %d has no topics: %w", lg.Index, lg.BlockNumber, ErrUnexpectedLog)
	}
	abiEvent, err := exchangeABI.EventByID(lg.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("log %d in block %d: %w", lg.Index, lg.BlockNumber, ErrUnexpectedLog)
	}

	values := make(map[string]interface{})
	var indexed abi.Arguments
	for _, arg := range abiEvent.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(values, indexed, lg.Topics[1:]); err != nil {
		return nil, fmt.Errorf("%s topics: %w", abiEvent.Name, err)
	}
	if err := abiEvent.Inputs.UnpackIntoMap(values, lg.Data); err != nil {
		return nil, fmt.Errorf("%s data: %w", abiEvent.Name, err)
	}

	d := &fields{name: abiEvent.Name, values: values}
	meta := event.Meta{
		Position: event.Position{BlockNumber: lg.BlockNumber, LogIndex: lg.Index},
		TxHash:   lg.TxHash,
	}

	var ev event.Event
	switch abiEvent.Name {
	case "TokenListing":
		ev = &event.TokenListing{Meta: meta, ID: d.u16("id"), Token: d.addr("token")}
	case "OrderPlacement":
		ev = &event.OrderPlacement{
			Meta:             meta,
			Owner:            d.addr("owner"),
			Index:            d.u16("index"),
			BuyToken:         d.u16("buyToken"),
			SellToken:        d.u16("sellToken"),
			ValidFrom:        d.u32("validFrom"),
			ValidUntil:       d.u32("validUntil"),
			PriceNumerator:   d.num("priceNumerator"),
			PriceDenominator: d.num("priceDenominator"),
		}
	case "OrderCancellation":
		ev = &event.OrderCancellation{Meta: meta, Owner: d.addr("owner"), ID: d.u16("id")}
	case "OrderDeletion":
		ev = &event.OrderDeletion{Meta: meta, Owner: d.addr("owner"), ID: d.u16("id")}
	case "Deposit":
		ev = &event.Deposit{
			Meta:    meta,
			User:    d.addr("user"),
			Token:   d.addr("token"),
			Amount:  d.num("amount"),
			BatchID: d.u32("batchId"),
		}
	case "WithdrawRequest":
		ev = &event.WithdrawRequest{
			Meta:    meta,
			User:    d.addr("user"),
			Token:   d.addr("token"),
			Amount:  d.num("amount"),
			BatchID: d.u32("batchId"),
		}
	case "Withdraw":
		ev = &event.Withdraw{Meta: meta, User: d.addr("user"), Token: d.addr("token"), Amount: d.num("amount")}
	case "Trade":
		ev = &event.Trade{
			Meta:               meta,
			Owner:              d.addr("owner"),
			OrderID:            d.u16("orderId"),
			BuyToken:           d.u16("buyToken"),
			SellToken:          d.u16("sellToken"),
			ExecutedBuyAmount:  d.num("executedBuyAmount"),
			ExecutedSellAmount: d.num("executedSellAmount"),
		}
	case "TradeReversion":
		ev = &event.TradeReversion{
			Meta:               meta,
			Owner:              d.addr("owner"),
			OrderID:            d.u16("orderId"),
			BuyToken:           d.u16("buyToken"),
			SellToken:          d.u16("sellToken"),
			ExecutedBuyAmount:  d.num("executedBuyAmount"),
			ExecutedSellAmount: d.num("executedSellAmount"),
		}
	case "SolutionSubmission":
		ev = &event.SolutionSubmission{
			Meta:                 meta,
			Submitter:            d.addr("submitter"),
			Utility:              d.num("utility"),
			DisregardedUtility:   d.num("disregardedUtility"),
			BurntFees:            d.num("burntFees"),
			LastAuctionBurntFees: d.num("lastAuctionBurntFees"),
			Prices:               d.nums("prices"),
			TokenIDsForPrice:     d.u16s("tokenIdsForPrice"),
		}
	case "SolutionReversion":
		ev = &event.SolutionReversion{Meta: meta, Submitter: d.addr("submitter"), BurntFees: d.num("burntFees")}
	default:
		return nil, fmt.Errorf("event %s: %w", abiEvent.Name, ErrUnexpectedLog)
	}
	if d.err != nil {
		return nil, d.err
	}
	return ev, nil
}

// fields reads typed ABI values, keeping the first mismatch.
type fields struct {
	name   string
	values map[string]interface{}
	err    error
}

func (f *fields) fail(arg string) {
	if f.err == nil {
		f.err = fmt.Errorf("%s.%s has type %T: %w", f.name, arg, f.values[arg], ErrUnexpectedLog)
	}
}

func (f *fields) addr(arg string) common.Address {
	v, ok := f.values[arg].(common.Address)
	if !ok {
		f.fail(arg)
	}
	return v
}

func (f *fields) u16(arg string) uint16 {
	v, ok := f.values[arg].(uint16)
	if !ok {
		f.fail(arg)
	}
	return v
}

func (f *fields) u32(arg string) uint32 {
	v, ok := f.values[arg].(uint32)
	if !ok {
		f.fail(arg)
	}
	return v
}

func (f *fields) num(arg string) *big.Int {
	v, ok := f.values[arg].(*big.Int)
	if !ok {
		f.fail(arg)
		return new(big.Int)
	}
	return v
}

func (f *fields) nums(arg string) []*big.Int {
	v, ok := f.values[arg].([]*big.Int)
	if !ok {
		f.fail(arg)
	}
	return v
}

func (f *fields) u16s(arg string) []uint16 {
	v, ok := f.values[arg].([]uint16)
	if !ok {
		f.fail(arg)
	}
	return v
}
