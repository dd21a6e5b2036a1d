package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/settlement-pricer/pkg/logging"
	"github.com/StrathCole/settlement-pricer/pkg/server/aggregator"
	"github.com/StrathCole/settlement-pricer/pkg/server/settlement"
	"github.com/StrathCole/settlement-pricer/pkg/server/store"
	"github.com/StrathCole/settlement-pricer/pkg/server/twap"
)

var testNow = time.Unix(1_700_000_000, 0).UTC()

type stepPool struct {
	values []uint64
}

func (p *stepPool) CumulativePrice(context.Context) (sdkmath.Uint, error) {
	v := p.values[0]
	p.values = p.values[1:]
	return sdkmath.NewUint(v), nil
}

type testEnv struct {
	store   *store.MemoryStore
	pricer  *aggregator.Aggregator
	service *settlement.Service
	server  *Server
	handler http.Handler
	clock   *time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logging.NewNoopLogger()
	st := store.NewMemoryStore()
	clock := testNow

	agg, err := aggregator.New(st, aggregator.Config{Tolerances: aggregator.Tolerances{WeightDeviation: 500}}, logger)
	require.NoError(t, err)
	agg.WithClock(func() time.Time { return clock })

	svc := settlement.NewService(agg, settlement.NewBook(st), logger)
	sampler, err := twap.NewSampler(twap.Config{Name: "eth-usdc", Asset: "ETH/USD", Decimals: 6, MinPeriod: time.Minute},
		&stepPool{values: []uint64{1_000_000, 121_000_000}}, logger)
	require.NoError(t, err)
	sampler.WithClock(func() time.Time { return clock })
	require.NoError(t, svc.AddSampler(sampler))

	srv := NewServer(Options{Addr: ":0"}, st, agg, svc, logger)
	srv.now = func() time.Time { return clock }

	return &testEnv{store: st, pricer: agg, service: svc, server: srv, handler: srv.Handler(), clock: &clock}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestSourcesAndQuotesFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/assets/BTC-USD/price", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for _, src := range []store.Source{
		{ID: "alice", Weight: 5000, Decimals: 8},
		{ID: "bob", Weight: 5000, Decimals: 2},
	} {
		rec = env.do(t, http.MethodPost, "/v1/assets/BTC-USD/sources", src)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, "/v1/assets/BTC-USD/sources", store.Source{ID: "alice", Weight: 1})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = env.do(t, http.MethodPost, "/v1/assets/BTC-USD/sources", store.Source{ID: "carol", Weight: 10001})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/quotes", map[string]string{"asset": "btc/usdt", "source": "alice", "value": "6000000000000"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodPost, "/v1/quotes", map[string]string{"asset": "BTC/USD", "source": "bob", "value": "6000000"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/v1/quotes", map[string]string{"asset": "BTC/USD", "source": "mallory", "value": "1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodPost, "/v1/quotes", map[string]string{"asset": "BTC/USD", "source": "bob", "value": "-5"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/assets/BTC%2FUSD/price", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "BTC/USD", body["asset"])
	assert.Equal(t, "6000000000000", body["price"])
	assert.Equal(t, "60000", body["price_decimal"])
	assert.Equal(t, float64(8), body["decimals"])

	rec = env.do(t, http.MethodGet, "/v1/assets/BTC-USD/sources", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["sources"], 2)

	rec = env.do(t, http.MethodDelete, "/v1/assets/BTC-USD/sources/bob", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodDelete, "/v1/assets/BTC-USD/sources/bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/assets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{"BTC/USD"}, decode(t, rec)["assets"])
}

func TestPriceOutOfBounds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		require.NoError(t, env.store.AddSource(ctx, "ETH/USD", store.Source{ID: id, Weight: 6000}))
		require.NoError(t, env.store.RecordQuote(ctx, "ETH/USD", id, sdkmath.NewUint(100), testNow))
	}

	rec := env.do(t, http.MethodGet, "/v1/assets/ETH-USD/price", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/assets/ETH-USD/price?ignore_out_of_bounds=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "120", decode(t, rec)["price"])

	rec = env.do(t, http.MethodGet, "/v1/assets/ETH-USD/price?ignore_out_of_bounds=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettleAndLookup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.AddSource(ctx, "ETH/USD", store.Source{ID: "a", Weight: 10000, Decimals: 6}))
	require.NoError(t, env.store.RecordQuote(ctx, "ETH/USD", "a", sdkmath.NewUint(2_500_000_000), testNow))

	expiry := int64(1_711_699_200)
	rec := env.do(t, http.MethodPost, "/v1/assets/ETH-USD/settle", map[string]interface{}{"expiry": expiry})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "2500", body["price_decimal"])
	assert.Equal(t, settlement.KindAggregate, body["kind"])

	rec = env.do(t, http.MethodPost, "/v1/assets/ETH-USD/settle", map[string]interface{}{"expiry": expiry})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/assets/ETH-USD/settle", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/settlements/ETH-USD/1711699200", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decode(t, rec)
	assert.Equal(t, "2500000000", body["price"])
	assert.NotEmpty(t, body["recorded_at"])

	rec = env.do(t, http.MethodGet, "/v1/settlements/ETH-USD/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/settlements/ETH-USD/soon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTolerances(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/tolerances", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(500), decode(t, rec)["weight_deviation_tolerance"])

	rec = env.do(t, http.MethodPut, "/v1/tolerances", aggregator.Tolerances{WeightDeviation: 200, PriceDeviation: 300})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, aggregator.Tolerances{WeightDeviation: 200, PriceDeviation: 300}, env.pricer.Tolerances())

	rec = env.do(t, http.MethodPut, "/v1/tolerances", aggregator.Tolerances{PriceDeviation: 10001})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTwapEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/twap/eth-usdc/price", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/twap/eth-usdc/trigger", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "started", decode(t, rec)["result"].(map[string]interface{})["status"])

	rec = env.do(t, http.MethodGet, "/v1/twap/eth-usdc/price", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/twap/eth-usdc/trigger", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	*env.clock = env.clock.Add(time.Minute)
	rec = env.do(t, http.MethodPost, "/v1/twap/eth-usdc/trigger", map[string]interface{}{"expiry": 1_711_699_200})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "finalized", body["result"].(map[string]interface{})["status"])
	assert.Equal(t, settlement.KindTWAP, body["settlement"].(map[string]interface{})["kind"])

	rec = env.do(t, http.MethodGet, "/v1/twap/eth-usdc/price", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "2000000", body["price"])
	assert.Equal(t, "2", body["price_decimal"])

	rec = env.do(t, http.MethodGet, "/v1/twap", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["pools"], 1)

	rec = env.do(t, http.MethodPost, "/v1/twap/nope/trigger", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHumanPrice(t *testing.T) {
	tests := []struct {
		value    string
		decimals uint8
		want     string
	}{
		{"100000000000000000000", 18, "100"},
		{"123456", 4, "12.3456"},
		{"5", 0, "5"},
		{"1", 6, "0.000001"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, humanPrice(sdkmath.NewUintFromString(tt.value), tt.decimals))
		})
	}
}
