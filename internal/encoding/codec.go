package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	// ErrMalformedInput is returned when encoded data does not split into whole records.
	ErrMalformedInput = errors.New("malformed order data")

	// ErrOverflow is returned when a value does not fit its fixed-width field.
	ErrOverflow = errors.New("value overflows field")
)

// Decode splits a 0x-prefixed hex string into records of width bytes.
// Empty input ("" or "0x") yields no records.
func Decode(data string, width int) ([][]byte, error) {
	if data == "" {
		return nil, nil
	}
	raw, err := hexutil.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return split(raw, width)
}

func split(raw []byte, width int) ([][]byte, error) {
	if width <= 0 {
		return nil, fmt.Errorf("%w: invalid record width %d", ErrMalformedInput, width)
	}
	if len(raw)%width != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of record width %d",
			ErrMalformedInput, len(raw), width)
	}

	records := make([][]byte, 0, len(raw)/width)
	for offset := 0; offset < len(raw); offset += width {
		records = append(records, raw[offset:offset+width])
	}
	return records, nil
}

// DecodeOrders decodes 112-byte order records.
func DecodeOrders(data string) ([]Order, error) {
	records, err := Decode(data, OrderWidth)
	if err != nil {
		return nil, err
	}
	orders := make([]Order, 0, len(records))
	for _, rec := range records {
		orders = append(orders, readOrder(rec))
	}
	return orders, nil
}

// DecodeIndexedOrders decodes 114-byte indexed order records.
func DecodeIndexedOrders(data string) ([]IndexedOrder, error) {
	records, err := Decode(data, IndexedOrderWidth)
	if err != nil {
		return nil, err
	}
	return readIndexed(records), nil
}

// DecodeIndexedOrderBytes decodes indexed order records from raw bytes, as returned by an ABI call.
func DecodeIndexedOrderBytes(raw []byte) ([]IndexedOrder, error) {
	records, err := split(raw, IndexedOrderWidth)
	if err != nil {
		return nil, err
	}
	return readIndexed(records), nil
}

func readIndexed(records [][]byte) []IndexedOrder {
	orders := make([]IndexedOrder, 0, len(records))
	for _, rec := range records {
		orders = append(orders, IndexedOrder{
			Order:   readOrder(rec[:OrderWidth]),
			OrderID: binary.BigEndian.Uint16(rec[OrderWidth:]),
		})
	}
	return orders
}

func readOrder(rec []byte) Order {
	r := reader{buf: rec}
	return Order{
		User:             common.BytesToAddress(r.next(userWidth)),
		SellTokenBalance: new(big.Int).SetBytes(r.next(sellTokenBalanceWidth)),
		BuyToken:         binary.BigEndian.Uint16(r.next(tokenIDWidth)),
		SellToken:        binary.BigEndian.Uint16(r.next(tokenIDWidth)),
		ValidFrom:        binary.BigEndian.Uint32(r.next(batchIDWidth)),
		ValidUntil:       binary.BigEndian.Uint32(r.next(batchIDWidth)),
		PriceNumerator:   new(big.Int).SetBytes(r.next(amountWidth)),
		PriceDenominator: new(big.Int).SetBytes(r.next(amountWidth)),
		RemainingAmount:  new(big.Int).SetBytes(r.next(amountWidth)),
	}
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) next(n int) []byte {
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

// EncodeOrders packs orders into exactly len(orders)*OrderWidth bytes.
func EncodeOrders(orders []Order) ([]byte, error) {
	buf := make([]byte, 0, len(orders)*OrderWidth)
	for i, o := range orders {
		var err error
		if buf, err = appendOrder(buf, o); err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
	}
	return buf, nil
}

// EncodeIndexedOrders packs indexed orders into exactly len(orders)*IndexedOrderWidth bytes.
func EncodeIndexedOrders(orders []IndexedOrder) ([]byte, error) {
	buf := make([]byte, 0, len(orders)*IndexedOrderWidth)
	for i, o := range orders {
		var err error
		if buf, err = appendOrder(buf, o.Order); err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
		buf = binary.BigEndian.AppendUint16(buf, o.OrderID)
	}
	return buf, nil
}

// EncodeOrdersHex is EncodeOrders rendered as a 0x-prefixed hex string.
func EncodeOrdersHex(orders []Order) (string, error) {
	buf, err := EncodeOrders(orders)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(buf), nil
}

// EncodeIndexedOrdersHex is EncodeIndexedOrders rendered as a 0x-prefixed hex string.
func EncodeIndexedOrdersHex(orders []IndexedOrder) (string, error) {
	buf, err := EncodeIndexedOrders(orders)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(buf), nil
}

func appendOrder(buf []byte, o Order) ([]byte, error) {
	buf = append(buf, o.User.Bytes()...)

	var err error
	if buf, err = appendUint(buf, o.SellTokenBalance, sellTokenBalanceWidth, "sellTokenBalance"); err != nil {
		return nil, err
	}
	buf = binary.BigEndian.AppendUint16(buf, o.BuyToken)
	buf = binary.BigEndian.AppendUint16(buf, o.SellToken)
	buf = binary.BigEndian.AppendUint32(buf, o.ValidFrom)
	buf = binary.BigEndian.AppendUint32(buf, o.ValidUntil)

	if buf, err = appendUint(buf, o.PriceNumerator, amountWidth, "priceNumerator"); err != nil {
		return nil, err
	}
	if buf, err = appendUint(buf, o.PriceDenominator, amountWidth, "priceDenominator"); err != nil {
		return nil, err
	}
	return appendUint(buf, o.RemainingAmount, amountWidth, "remainingAmount")
}

// appendUint writes v big-endian into width bytes. Nil is written as zero.
func appendUint(buf []byte, v *big.Int, width int, field string) ([]byte, error) {
	out := make([]byte, width)
	if v != nil {
		if v.Sign() < 0 {
			return nil, fmt.Errorf("%w: %s is negative (%s)", ErrOverflow, field, v)
		}
		if v.BitLen() > width*8 {
			return nil, fmt.Errorf("%w: %s=%s exceeds %d bytes", ErrOverflow, field, v, width)
		}
		v.FillBytes(out)
	}
	return append(buf, out...), nil
}

// ToUint converts an integer given as a native integer, a decimal string or a *big.Int.
func ToUint(v any) (*big.Int, error) {
	switch x := v.(type) {
	case *big.Int:
		if x == nil {
			return new(big.Int), nil
		}
		return new(big.Int).Set(x), nil
	case big.Int:
		return new(big.Int).Set(&x), nil
	case string:
		s := strings.TrimSpace(x)
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a decimal integer", ErrMalformedInput, x)
		}
		return n, nil
	case int:
		return big.NewInt(int64(x)), nil
	case int32:
		return big.NewInt(int64(x)), nil
	case int64:
		return big.NewInt(x), nil
	case uint:
		return new(big.Int).SetUint64(uint64(x)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(x)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(x)), nil
	case uint64:
		return new(big.Int).SetUint64(x), nil
	default:
		return nil, fmt.Errorf("%w: unsupported integer type %T", ErrMalformedInput, v)
	}
}

// ToUint16 converts v and checks it fits a 2-byte field.
func ToUint16(v any) (uint16, error) {
	n, err := toFixed(v, 16)
	return uint16(n), err
}

// ToUint32 converts v and checks it fits a 4-byte field.
func ToUint32(v any) (uint32, error) {
	n, err := toFixed(v, 32)
	return uint32(n), err
}

func toFixed(v any, bits int) (uint64, error) {
	n, err := ToUint(v)
	if err != nil {
		return 0, err
	}
	if n.Sign() < 0 || n.BitLen() > bits {
		return 0, fmt.Errorf("%w: %s does not fit in %d bits", ErrOverflow, n, bits)
	}
	return n.Uint64(), nil
}

// ParseAddress parses a 20-byte hex address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: invalid address %q", ErrOverflow, s)
	}
	return common.HexToAddress(s), nil
}

// FormatUint renders a nil-safe decimal amount.
func FormatUint(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
