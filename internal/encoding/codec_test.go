package encoding_test

import (
	"math/big"
	"strings"
	"testing"

	"DexLedger/internal/encoding"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOrder() encoding.Order {
	return encoding.Order{
		User:             common.HexToAddress("0x000102030405060708090a0b0c0d0e0f10111213"),
		SellTokenBalance: big.NewInt(1),
		BuyToken:         2,
		SellToken:        3,
		ValidFrom:        4,
		ValidUntil:       5,
		PriceNumerator:   big.NewInt(6),
		PriceDenominator: big.NewInt(7),
		RemainingAmount:  big.NewInt(8),
	}
}

func padded(hexByte string, width int) string {
	return strings.Repeat("00", width-1) + hexByte
}

func expectedSampleHex() string {
	return "0x" +
		"000102030405060708090a0b0c0d0e0f10111213" +
		padded("01", 32) +
		"0002" +
		"0003" +
		"00000004" +
		"00000005" +
		padded("06", 16) +
		padded("07", 16) +
		padded("08", 16)
}

func TestEncodeOrders_BitExact(t *testing.T) {
	encoded, err := encoding.EncodeOrdersHex([]encoding.Order{sampleOrder()})
	require.NoError(t, err)
	assert.Equal(t, expectedSampleHex(), encoded)
	assert.Len(t, encoded, 2+2*encoding.OrderWidth)
}

func TestEncodeIndexedOrders_AppendsOrderID(t *testing.T) {
	encoded, err := encoding.EncodeIndexedOrdersHex([]encoding.IndexedOrder{
		{Order: sampleOrder(), OrderID: 9},
	})
	require.NoError(t, err)
	assert.Equal(t, expectedSampleHex()+"0009", encoded)
}

func TestDecodeOrders_RoundTrip(t *testing.T) {
	second := sampleOrder()
	second.User = common.HexToAddress("0xffffffffffffffffffffffffffffffffffffffff")
	second.SellTokenBalance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	second.RemainingAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	second.ValidUntil = ^uint32(0)
	orders := []encoding.Order{sampleOrder(), second}

	encoded, err := encoding.EncodeOrdersHex(orders)
	require.NoError(t, err)

	decoded, err := encoding.DecodeOrders(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	for i := range orders {
		assert.True(t, orders[i].Equal(decoded[i]), "order %d differs: %+v vs %+v", i, orders[i], decoded[i])
	}
}

func TestDecodeIndexedOrders_RoundTrip(t *testing.T) {
	orders := []encoding.IndexedOrder{
		{Order: sampleOrder(), OrderID: 0},
		{Order: sampleOrder(), OrderID: 65535},
	}
	raw, err := encoding.EncodeIndexedOrders(orders)
	require.NoError(t, err)
	require.Len(t, raw, 2*encoding.IndexedOrderWidth)

	decoded, err := encoding.DecodeIndexedOrderBytes(raw)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, uint16(65535), decoded[1].OrderID)
	assert.True(t, orders[1].Order.Equal(decoded[1].Order))
}

func TestDecode_EmptyInput(t *testing.T) {
	for _, in := range []string{"", "0x"} {
		orders, err := encoding.DecodeOrders(in)
		require.NoError(t, err, "input %q", in)
		assert.Empty(t, orders, "input %q", in)
	}

	orders, err := encoding.DecodeIndexedOrderBytes(nil)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestDecode_RejectsPartialRecord(t *testing.T) {
	_, err := encoding.DecodeOrders(expectedSampleHex() + "00")
	assert.ErrorIs(t, err, encoding.ErrMalformedInput)

	_, err = encoding.DecodeIndexedOrders(expectedSampleHex())
	assert.ErrorIs(t, err, encoding.ErrMalformedInput)

	_, err = encoding.DecodeOrders("0xzz")
	assert.ErrorIs(t, err, encoding.ErrMalformedInput)
}

func TestEncode_Overflow(t *testing.T) {
	o := sampleOrder()
	o.PriceNumerator = new(big.Int).Lsh(big.NewInt(1), 128)
	_, err := encoding.EncodeOrders([]encoding.Order{o})
	assert.ErrorIs(t, err, encoding.ErrOverflow)

	o = sampleOrder()
	o.RemainingAmount = big.NewInt(-1)
	_, err = encoding.EncodeOrders([]encoding.Order{o})
	assert.ErrorIs(t, err, encoding.ErrOverflow)

	_, err = encoding.ToUint16(70000)
	assert.ErrorIs(t, err, encoding.ErrOverflow)

	_, err = encoding.ToUint32("4294967296")
	assert.ErrorIs(t, err, encoding.ErrOverflow)
}

func TestToUint_AcceptedRepresentations(t *testing.T) {
	for _, v := range []any{42, int64(42), uint64(42), "42", big.NewInt(42)} {
		n, err := encoding.ToUint(v)
		require.NoError(t, err, "%T", v)
		assert.Equal(t, int64(42), n.Int64())
	}

	_, err := encoding.ToUint("4x2")
	assert.ErrorIs(t, err, encoding.ErrMalformedInput)
}

func TestParseAddress(t *testing.T) {
	addr, err := encoding.ParseAddress("0x000102030405060708090a0b0c0d0e0f10111213")
	require.NoError(t, err)
	assert.Equal(t, sampleOrder().User, addr)

	_, err = encoding.ParseAddress("0x0102")
	assert.ErrorIs(t, err, encoding.ErrOverflow)
}

func TestOrder_ValidIn(t *testing.T) {
	o := sampleOrder()
	assert.False(t, o.ValidIn(3))
	assert.True(t, o.ValidIn(4))
	assert.True(t, o.ValidIn(5))
	assert.False(t, o.ValidIn(6))
}
