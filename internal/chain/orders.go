package chain

import (
	"context"
	"fmt"
	"math/big"

	"DexLedger/internal/encoding"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultOrderPageSize is the number of orders requested per viewer call.
const DefaultOrderPageSize uint16 = 500

// Page is one response of the paginated order book read.
type Page struct {
	Elements           []byte
	HasNextPage        bool
	NextPageUser       common.Address
	NextPageUserOffset uint16
}

// OrderPageSource serves the open order book one page at a time. A nil block reads the latest state.
type OrderPageSource interface {
	OrderPage(ctx context.Context, cursorUser common.Address, cursorOffset, pageSize uint16, block *big.Int) (Page, error)
}

// ReadAllOrders follows the page cursor until the source reports no next page and decodes
// every element as an indexed order.
func ReadAllOrders(ctx context.Context, src OrderPageSource, pageSize uint16, block *big.Int) ([]encoding.IndexedOrder, error) {
	if pageSize == 0 {
		pageSize = DefaultOrderPageSize
	}
	var (
		orders []encoding.IndexedOrder
		user   common.Address
		offset uint16
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := src.OrderPage(ctx, user, offset, pageSize, block)
		if err != nil {
			return nil, fmt.Errorf("order page after %s/%d: %w", user.Hex(), offset, err)
		}
		decoded, err := encoding.DecodeIndexedOrderBytes(page.Elements)
		if err != nil {
			return nil, err
		}
		orders = append(orders, decoded...)
		if !page.HasNextPage {
			return orders, nil
		}
		user, offset = page.NextPageUser, page.NextPageUserOffset
	}
}

// ContractCaller is the subset of ethclient.Client used for view calls.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ViewerReader reads the order book through the viewer contract.
type ViewerReader struct {
	client      ContractCaller
	viewer      common.Address
	tokenFilter []common.Address
}

// NewViewerReader creates a reader for the viewer at address. An empty filter returns all tokens.
func NewViewerReader(client ContractCaller, viewer common.Address, tokenFilter ...common.Address) *ViewerReader {
	return &ViewerReader{client: client, viewer: viewer, tokenFilter: tokenFilter}
}

// OrderPage calls getOpenOrderBookPaginated.
func (r *ViewerReader) OrderPage(ctx context.Context, cursorUser common.Address, cursorOffset, pageSize uint16, block *big.Int) (Page, error) {
	filter := r.tokenFilter
	if filter == nil {
		filter = []common.Address{}
	}
	input, err := viewerABI.Pack("getOpenOrderBookPaginated", filter, cursorUser, cursorOffset, pageSize)
	if err != nil {
		return Page{}, fmt.Errorf("pack call: %w", err)
	}
	output, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &r.viewer, Data: input}, block)
	if err != nil {
		return Page{}, err
	}
	values, err := viewerABI.Unpack("getOpenOrderBookPaginated", output)
	if err != nil {
		return Page{}, fmt.Errorf("unpack result: %w", err)
	}
	if len(values) != 4 {
		return Page{}, fmt.Errorf("unpack result: %d values: %w", len(values), ErrUnexpectedLog)
	}
	elements, ok1 := values[0].([]byte)
	hasNext, ok2 := values[1].(bool)
	nextUser, ok3 := values[2].(common.Address)
	nextOffset, ok4 := values[3].(uint16)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return Page{}, fmt.Errorf("unpack result: unexpected types %T %T %T %T", values[0], values[1], values[2], values[3])
	}
	return Page{
		Elements:           elements,
		HasNextPage:        hasNext,
		NextPageUser:       nextUser,
		NextPageUserOffset: nextOffset,
	}, nil
}
