package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"

	"DexLedger/internal/core"
	"DexLedger/internal/event"
	"DexLedger/internal/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakeStream struct {
	mu   sync.Mutex
	msgs []published
	fail bool
}

func (f *fakeStream) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("no responders")
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return &jetstream.PubAck{Stream: StreamName, Sequence: uint64(len(f.msgs))}, nil
}

var trader = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func sampleCommit() core.CommitOutput {
	return core.CommitOutput{
		CycleID:  uuid.New(),
		Position: event.Position{BlockNumber: 8, LogIndex: 1},
		Events: []event.Event{
			&event.Deposit{
				Meta:   event.Meta{Position: event.Position{BlockNumber: 8, LogIndex: 0}},
				User:   trader,
				Token:  common.HexToAddress("0xe1"),
				Amount: big.NewInt(5),
			},
			&event.OrderCancellation{
				Meta:  event.Meta{Position: event.Position{BlockNumber: 8, LogIndex: 1}},
				Owner: trader,
				ID:    3,
			},
		},
		StateHash: [32]byte{0xab},
	}
}

func TestSubjectAndMsgID(t *testing.T) {
	assert.Equal(t, "dex.ledger.events.TradeReversion", Subject(event.KindTradeReversion))
	assert.Equal(t, "42-7", MsgID(event.Position{BlockNumber: 42, LogIndex: 7}))
}

func TestEncode(t *testing.T) {
	out := sampleCommit()

	data, err := Encode(out, out.Events[1])
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, out.CycleID.String(), msg.CycleID)
	assert.Equal(t, "OrderCancellation", msg.Kind)
	assert.Equal(t, "0xab00000000000000000000000000000000000000000000000000000000000000", msg.StateHash)

	var ev event.OrderCancellation
	require.NoError(t, json.Unmarshal(msg.Event, &ev))
	assert.Equal(t, trader, ev.Owner)
	assert.Equal(t, uint16(3), ev.ID)
	assert.Equal(t, uint(1), ev.LogIndex)
}

func TestPublisher_PublishesEveryEvent(t *testing.T) {
	stream := &fakeStream{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	input := make(chan core.CommitOutput, 1)
	p := NewPublisher(stream, input, metrics, zerolog.Nop())

	input <- sampleCommit()
	close(input)
	require.NoError(t, p.Run(context.Background()))

	require.Len(t, stream.msgs, 2)
	assert.Equal(t, "dex.ledger.events.Deposit", stream.msgs[0].subject)
	assert.Equal(t, "dex.ledger.events.OrderCancellation", stream.msgs[1].subject)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PublishedTotal.WithLabelValues("Deposit")))
}

func TestPublisher_FailuresAreCounted(t *testing.T) {
	stream := &fakeStream{fail: true}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	input := make(chan core.CommitOutput, 1)
	p := NewPublisher(stream, input, metrics, zerolog.Nop())

	input <- sampleCommit()
	close(input)
	require.NoError(t, p.Run(context.Background()))

	assert.Empty(t, stream.msgs)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.PublishErrors))
}
