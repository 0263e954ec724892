package server

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"DexLedger/internal/core"
	"DexLedger/internal/event"
	fpmath "DexLedger/internal/math"
	"DexLedger/internal/observability"
	"DexLedger/internal/query"
	"DexLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var (
	trader = common.HexToAddress("0x1111111111111111111111111111111111111111")
	tokenA = common.HexToAddress("0x000000000000000000000000000000000000000a")
	tokenB = common.HexToAddress("0x000000000000000000000000000000000000000b")
)

type snapshotReader struct{ snap *core.Snapshot }

func (r snapshotReader) Snapshot() *core.Snapshot { return r.snap }

func meta(block uint64, logIndex uint) event.Meta {
	return event.Meta{Position: event.Position{BlockNumber: block, LogIndex: logIndex}}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st := state.New()
	require.NoError(t, st.ApplyEvents([]event.Event{
		&event.TokenListing{Meta: meta(1, 0), ID: 0, Token: tokenA},
		&event.TokenListing{Meta: meta(1, 1), ID: 1, Token: tokenB},
		&event.Deposit{Meta: meta(2, 0), User: trader, Token: tokenA, Amount: big.NewInt(500)},
		&event.OrderPlacement{
			Meta: meta(2, 1), Owner: trader, Index: 0, BuyToken: 1, SellToken: 0,
			ValidFrom: 0, ValidUntil: 10,
			PriceNumerator: big.NewInt(300), PriceDenominator: big.NewInt(100),
		},
	}, true))

	reader := snapshotReader{&core.Snapshot{State: st, CommittedAt: time.Now()}}
	svc := query.NewService(reader, fpmath.Zero(), nil)
	srv, err := NewServer("127.0.0.1:0", "127.0.0.1:0", svc, observability.NewHealthChecker(), zerolog.Nop())
	require.NoError(t, err)
	return srv
}

func get(t *testing.T, srv *Server, path string) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]interface{}
	if rec.Body.Len() > 0 && rec.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func TestRoutes_State(t *testing.T) {
	code, body := get(t, newTestServer(t), "/v1/state")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["block_number"])
	assert.Equal(t, float64(1), body["open_orders"])
}

func TestRoutes_Tokens(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(t).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tokens", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var tokens []query.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	assert.Len(t, tokens, 2)
}

func TestRoutes_Account(t *testing.T) {
	srv := newTestServer(t)

	code, body := get(t, srv, "/v1/accounts/"+trader.Hex())
	assert.Equal(t, http.StatusOK, code)
	balances := body["balances"].(map[string]interface{})
	assert.Equal(t, "500", balances[tokenA.Hex()])

	code, body = get(t, srv, "/v1/accounts/0x9999999999999999999999999999999999999999")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NotFound", body["code"])

	code, _ = get(t, srv, "/v1/accounts/bogus")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRoutes_Orders(t *testing.T) {
	code, body := get(t, newTestServer(t), "/v1/orders")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])
	assert.Len(t, body["encoded"], 2+2*114)
}

func TestRoutes_OrderbookAndPrice(t *testing.T) {
	srv := newTestServer(t)

	code, body := get(t, srv, "/v1/orderbooks/0/1?batch=3")
	require.Equal(t, http.StatusOK, code)
	book := body["book"].(map[string]interface{})
	assert.Equal(t, "0", book["baseToken"])
	assert.Len(t, book["asks"], 1)

	code, body = get(t, srv, "/v1/prices/0/1?batch=3&side=buy&amount=100")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["found"])
	assert.Equal(t, "3/1", body["price"])

	code, _ = get(t, srv, "/v1/prices/0/1?batch=nope&amount=1")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = get(t, srv, "/v1/orderbooks/0/1?batch=4294967296")
	assert.Equal(t, http.StatusBadRequest, code, "batch ids are 32 bits")
}

func TestRoutes_ProjectionDisabled(t *testing.T) {
	code, _ := get(t, newTestServer(t), "/v1/projection")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRoutes_UnknownPath(t *testing.T) {
	code, _ := get(t, newTestServer(t), "/v2/nothing")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSetServing(t *testing.T) {
	srv := newTestServer(t)

	code, _ := get(t, srv, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	resp, err := srv.grpcHealth.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	srv.SetServing(true)
	code, _ = get(t, srv, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	resp, err = srv.grpcHealth.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	code, _ = get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, code)
}
