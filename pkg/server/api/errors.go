// Package api provides the HTTP and WebSocket endpoints of the settlement pricer.
package api

import (
	"errors"
	"net/http"

	"github.com/StrathCole/settlement-pricer/pkg/server/aggregator"
	"github.com/StrathCole/settlement-pricer/pkg/server/settlement"
	"github.com/StrathCole/settlement-pricer/pkg/server/store"
	"github.com/StrathCole/settlement-pricer/pkg/server/twap"
)

var (
	// ErrInvalidRequest indicates a malformed request body or parameter.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrSourceNotRegistered indicates a quote from a source not registered for the asset.
	ErrSourceNotRegistered = errors.New("source not registered for asset")
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, aggregator.ErrPricerDoesNotExist),
		errors.Is(err, store.ErrSourceNotFound),
		errors.Is(err, store.ErrExpiryPriceNotFound),
		errors.Is(err, settlement.ErrUnknownPool),
		errors.Is(err, twap.ErrNoPrice):
		return http.StatusNotFound
	case errors.Is(err, aggregator.ErrWeightOutOfBounds),
		errors.Is(err, twap.ErrTooEarly),
		errors.Is(err, twap.ErrPreparingPrice),
		errors.Is(err, twap.ErrAccumulatorRegressed),
		errors.Is(err, store.ErrSourceExists),
		errors.Is(err, store.ErrExpiryPriceAlreadySet):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, store.ErrEmptyAsset),
		errors.Is(err, store.ErrEmptySource),
		errors.Is(err, store.ErrInvalidWeight),
		errors.Is(err, aggregator.ErrInvalidTolerance),
		errors.Is(err, settlement.ErrInvalidExpiry):
		return http.StatusBadRequest
	case errors.Is(err, ErrSourceNotRegistered):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
