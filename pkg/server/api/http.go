package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"

	"github.com/StrathCole/settlement-pricer/pkg/logging"
	"github.com/StrathCole/settlement-pricer/pkg/metrics"
	"github.com/StrathCole/settlement-pricer/pkg/server/aggregator"
	"github.com/StrathCole/settlement-pricer/pkg/server/settlement"
	"github.com/StrathCole/settlement-pricer/pkg/server/store"
	"github.com/StrathCole/settlement-pricer/pkg/server/twap"
)

// Options configures the HTTP server.
type Options struct {
	Addr     string
	CertFile string
	KeyFile  string
}

// Server represents the HTTP API server.
type Server struct {
	opts        Options
	store       store.Store
	pricer      *aggregator.Aggregator
	settlements *settlement.Service
	logger      *logging.Logger
	now         func() time.Time
	server      *http.Server
	wsServer    *WebSocketServer // optional, mounted at /ws when set
}

// NewServer creates a new HTTP API server.
func NewServer(opts Options, st store.Store, pricer *aggregator.Aggregator, settlements *settlement.Service, logger *logging.Logger) *Server {
	return &Server{
		opts:        opts,
		store:       st,
		pricer:      pricer,
		settlements: settlements,
		logger:      logger,
		now:         time.Now,
	}
}

// SetWebSocketServer mounts the settlement stream on this server's /ws route.
func (s *Server) SetWebSocketServer(ws *WebSocketServer) {
	s.wsServer = ws
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.instrument("/health", s.handleHealth))
	mux.HandleFunc("POST /v1/quotes", s.instrument("/v1/quotes", s.handleRecordQuote))
	mux.HandleFunc("GET /v1/assets", s.instrument("/v1/assets", s.handleAssets))
	mux.HandleFunc("GET /v1/assets/{asset}/price", s.instrument("/v1/assets/price", s.handlePrice))
	mux.HandleFunc("POST /v1/assets/{asset}/settle", s.instrument("/v1/assets/settle", s.handleSettle))
	mux.HandleFunc("GET /v1/assets/{asset}/sources", s.instrument("/v1/assets/sources", s.handleListSources))
	mux.HandleFunc("POST /v1/assets/{asset}/sources", s.instrument("/v1/assets/sources", s.handleAddSource))
	mux.HandleFunc("DELETE /v1/assets/{asset}/sources/{source}", s.instrument("/v1/assets/sources", s.handleRemoveSource))
	mux.HandleFunc("GET /v1/tolerances", s.instrument("/v1/tolerances", s.handleGetTolerances))
	mux.HandleFunc("PUT /v1/tolerances", s.instrument("/v1/tolerances", s.handleSetTolerances))
	mux.HandleFunc("GET /v1/twap", s.instrument("/v1/twap", s.handleListPools))
	mux.HandleFunc("POST /v1/twap/{pool}/trigger", s.instrument("/v1/twap/trigger", s.handleTriggerTwap))
	mux.HandleFunc("GET /v1/twap/{pool}/price", s.instrument("/v1/twap/price", s.handleTwapPrice))
	mux.HandleFunc("GET /v1/settlements/{asset}/{expiry}", s.instrument("/v1/settlements", s.handleGetSettlement))
	if s.wsServer != nil {
		mux.HandleFunc("/ws", s.wsServer.handleWebSocket)
	}
	return mux
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var err error
	if s.opts.CertFile != "" && s.opts.KeyFile != "" {
		s.logger.Info("Starting HTTPS server", "addr", s.opts.Addr)
		err = s.server.ListenAndServeTLS(s.opts.CertFile, s.opts.KeyFile)
	} else {
		s.logger.Info("Starting HTTP server", "addr", s.opts.Addr)
		err = s.server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		s.logger.Info("Stopping HTTP server")
		return s.server.Shutdown(ctx)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request count and latency under a fixed endpoint label.
func (s *Server) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		metrics.RecordHTTPRequest(endpoint, strconv.Itoa(rec.status), time.Since(start))
	}
}

// handleHealth handles /health endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type quoteRequest struct {
	Asset     string     `json:"asset"`
	Source    string     `json:"source"`
	Value     string     `json:"value"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type quoteResponse struct {
	Asset     string       `json:"asset"`
	Source    string       `json:"source"`
	Value     sdkmath.Uint `json:"value"`
	Timestamp time.Time    `json:"timestamp"`
}

// handleRecordQuote accepts a quote from a source registered for the asset.
func (s *Server) handleRecordQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, err)
		return
	}
	value, err := sdkmath.ParseUint(strings.TrimSpace(req.Value))
	if err != nil {
		s.sendError(w, fmt.Errorf("%w: value %q: %v", ErrInvalidRequest, req.Value, err))
		return
	}

	ctx := r.Context()
	asset := store.CanonicalAsset(req.Asset)
	registered, err := s.isRegistered(ctx, asset, req.Source)
	if err != nil {
		s.sendError(w, err)
		return
	}
	if !registered {
		s.sendError(w, fmt.Errorf("%w: %s for %s", ErrSourceNotRegistered, req.Source, asset))
		return
	}

	ts := s.now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}
	if err := s.store.RecordQuote(ctx, asset, req.Source, value, ts); err != nil {
		s.sendError(w, err)
		return
	}
	metrics.RecordQuote(asset, req.Source)
	s.logger.Debug("Recorded quote", "asset", asset, "source", req.Source, "value", value.String())

	s.sendJSONStatus(w, http.StatusAccepted, quoteResponse{Asset: asset, Source: req.Source, Value: value, Timestamp: ts})
}

func (s *Server) isRegistered(ctx context.Context, asset, source string) (bool, error) {
	list, err := s.store.ListSources(ctx, asset)
	if err != nil {
		return false, err
	}
	for _, src := range list {
		if src.ID == source {
			return true, nil
		}
	}
	return false, nil
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.store.Assets(r.Context())
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, map[string]interface{}{"assets": assets})
}

type priceResponse struct {
	Asset        string            `json:"asset"`
	Price        sdkmath.Uint      `json:"price"`
	Decimals     uint8             `json:"decimals"`
	PriceDecimal string            `json:"price_decimal"`
	Report       aggregator.Report `json:"report"`
}

// handlePrice previews the aggregated price without forwarding it.
func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	ignore, err := boolQuery(r, "ignore_out_of_bounds")
	if err != nil {
		s.sendError(w, err)
		return
	}
	asset := assetParam(r)

	report, err := s.pricer.ComputeDetailed(r.Context(), asset, ignore)
	if err != nil {
		s.sendError(w, err)
		return
	}
	if report.Overridden {
		s.logger.Warn("Price preview used weight bounds override", "asset", report.Asset, "remote", r.RemoteAddr)
	}

	s.sendJSON(w, priceResponse{
		Asset:        report.Asset,
		Price:        report.Price,
		Decimals:     report.Decimals,
		PriceDecimal: humanPrice(report.Price, report.Decimals),
		Report:       report,
	})
}

type settleRequest struct {
	Expiry            int64 `json:"expiry"` // unix seconds
	IgnoreOutOfBounds bool  `json:"ignore_out_of_bounds"`
}

type settlementResponse struct {
	Asset        string       `json:"asset"`
	Expiry       int64        `json:"expiry"`
	Price        sdkmath.Uint `json:"price"`
	Decimals     uint8        `json:"decimals"`
	PriceDecimal string       `json:"price_decimal"`
	Kind         string       `json:"kind"`
	Source       string       `json:"source,omitempty"`
	Overridden   bool         `json:"overridden,omitempty"`
	RecordedAt   *time.Time   `json:"recorded_at,omitempty"`
}

func newSettlementResponse(sub settlement.Submission) settlementResponse {
	return settlementResponse{
		Asset:        sub.Asset,
		Expiry:       sub.Expiry.Unix(),
		Price:        sub.Price,
		Decimals:     sub.Decimals,
		PriceDecimal: humanPrice(sub.Price, sub.Decimals),
		Kind:         sub.Kind,
		Source:       sub.Source,
	}
}

// handleSettle aggregates and forwards the asset's price for an expiry.
func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, err)
		return
	}
	if req.Expiry <= 0 {
		s.sendError(w, settlement.ErrInvalidExpiry)
		return
	}
	if req.IgnoreOutOfBounds {
		s.logger.Warn("Settlement requested with weight bounds override",
			"asset", assetParam(r),
			"expiry", req.Expiry,
			"remote", r.RemoteAddr)
	}

	sub, report, err := s.settlements.Settle(r.Context(), assetParam(r), time.Unix(req.Expiry, 0), req.IgnoreOutOfBounds)
	if err != nil {
		s.sendError(w, err)
		return
	}
	resp := newSettlementResponse(sub)
	resp.Overridden = report.Overridden
	s.sendJSON(w, resp)
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	asset := store.CanonicalAsset(assetParam(r))
	list, err := s.store.ListSources(r.Context(), asset)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, map[string]interface{}{"asset": asset, "sources": list})
}

func (s *Server) handleAddSource(w http.ResponseWriter, r *http.Request) {
	var src store.Source
	if err := decodeJSON(r, &src); err != nil {
		s.sendError(w, err)
		return
	}
	asset := store.CanonicalAsset(assetParam(r))
	if err := s.store.AddSource(r.Context(), asset, src); err != nil {
		s.sendError(w, err)
		return
	}
	s.logger.Info("Added source", "asset", asset, "source", src.ID, "weight", src.Weight, "decimals", src.Decimals)

	s.sendJSONStatus(w, http.StatusCreated, src)
}

func (s *Server) handleRemoveSource(w http.ResponseWriter, r *http.Request) {
	asset := store.CanonicalAsset(assetParam(r))
	source := r.PathValue("source")
	if err := s.store.RemoveSource(r.Context(), asset, source); err != nil {
		s.sendError(w, err)
		return
	}
	s.logger.Info("Removed source", "asset", asset, "source", source)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetTolerances(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, s.pricer.Tolerances())
}

func (s *Server) handleSetTolerances(w http.ResponseWriter, r *http.Request) {
	var tol aggregator.Tolerances
	if err := decodeJSON(r, &tol); err != nil {
		s.sendError(w, err)
		return
	}
	if err := s.pricer.SetTolerances(tol); err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, tol)
}

func (s *Server) handleListPools(w http.ResponseWriter, _ *http.Request) {
	samplers := s.settlements.Samplers()
	states := make([]twap.State, 0, len(samplers))
	for _, sampler := range samplers {
		states = append(states, sampler.State())
	}
	s.sendJSON(w, map[string]interface{}{"pools": states})
}

type triggerRequest struct {
	Expiry int64 `json:"expiry,omitempty"` // unix seconds; zero publishes without settling
}

type triggerResponse struct {
	Result     twap.Result         `json:"result"`
	Settlement *settlementResponse `json:"settlement,omitempty"`
}

func (s *Server) handleTriggerTwap(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.sendError(w, err)
			return
		}
	}
	var expiry time.Time
	if req.Expiry > 0 {
		expiry = time.Unix(req.Expiry, 0)
	}

	res, sub, err := s.settlements.TriggerTwap(r.Context(), r.PathValue("pool"), expiry)
	if err != nil {
		s.sendError(w, err)
		return
	}
	resp := triggerResponse{Result: res}
	if sub != nil {
		sr := newSettlementResponse(*sub)
		resp.Settlement = &sr
	}
	s.sendJSON(w, resp)
}

func (s *Server) handleTwapPrice(w http.ResponseWriter, r *http.Request) {
	sampler, err := s.settlements.Sampler(r.PathValue("pool"))
	if err != nil {
		s.sendError(w, err)
		return
	}
	price, err := sampler.Price()
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, map[string]interface{}{
		"pool":          sampler.Name(),
		"asset":         sampler.Asset(),
		"price":         price,
		"decimals":      sampler.Decimals(),
		"price_decimal": humanPrice(price, sampler.Decimals()),
	})
}

func (s *Server) handleGetSettlement(w http.ResponseWriter, r *http.Request) {
	expiry, err := strconv.ParseInt(r.PathValue("expiry"), 10, 64)
	if err != nil || expiry <= 0 {
		s.sendError(w, fmt.Errorf("%w: expiry %q", ErrInvalidRequest, r.PathValue("expiry")))
		return
	}
	rec, err := s.store.GetExpiryPrice(r.Context(), assetParam(r), time.Unix(expiry, 0))
	if err != nil {
		s.sendError(w, err)
		return
	}
	recordedAt := rec.RecordedAt
	s.sendJSON(w, settlementResponse{
		Asset:        rec.Asset,
		Expiry:       rec.Expiry.Unix(),
		Price:        rec.Price,
		Decimals:     rec.Decimals,
		PriceDecimal: humanPrice(rec.Price, rec.Decimals),
		Kind:         rec.Kind,
		RecordedAt:   &recordedAt,
	})
}

// assetParam reads the {asset} path segment. "ETH-USD" and "ETH%2FUSD" both name ETH/USD.
func assetParam(r *http.Request) string {
	return strings.ReplaceAll(r.PathValue("asset"), "-", "/")
}

func boolQuery(r *http.Request, key string) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q", ErrInvalidRequest, key, raw)
	}
	return v, nil
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// humanPrice renders a fixed-point integer with its decimals applied.
func humanPrice(v sdkmath.Uint, decimals uint8) string {
	if v.IsNil() {
		return "0"
	}
	return decimal.NewFromBigInt(v.BigInt(), -int32(decimals)).String()
}

// sendJSON sends a JSON response.
func (s *Server) sendJSON(w http.ResponseWriter, data interface{}) {
	s.sendJSONStatus(w, http.StatusOK, data)
}

func (s *Server) sendJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
