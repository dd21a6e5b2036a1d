package config

import "errors"

var (
	// ErrTLSConfigIncomplete indicates that TLS config is incomplete.
	ErrTLSConfigIncomplete = errors.New("TLS cert and key must be specified when TLS is enabled")
	// ErrTLSCertNotFound indicates that the TLS cert file was not found.
	ErrTLSCertNotFound = errors.New("TLS cert file not found")
	// ErrTLSKeyNotFound indicates that the TLS key file was not found.
	ErrTLSKeyNotFound = errors.New("TLS key file not found")
	// ErrInvalidStoreBackend indicates an unknown store backend.
	ErrInvalidStoreBackend = errors.New("invalid store backend")
	// ErrStorePathRequired indicates that the badger backend needs a path.
	ErrStorePathRequired = errors.New("store path is required for the badger backend")
	// ErrInvalidFreshnessWindow indicates a non-positive freshness window.
	ErrInvalidFreshnessWindow = errors.New("freshness_window must be positive")
	// ErrInvalidTolerance indicates a tolerance outside 0..10000 basis points.
	ErrInvalidTolerance = errors.New("tolerance must be between 0 and 10000 basis points")
	// ErrInvalidEqualizeMode indicates an unknown equalize mode.
	ErrInvalidEqualizeMode = errors.New("invalid equalize_mode")
	// ErrAssetRequired indicates an asset entry without an id.
	ErrAssetRequired = errors.New("asset must be specified")
	// ErrDuplicateAsset indicates that an asset is configured twice.
	ErrDuplicateAsset = errors.New("duplicate asset")
	// ErrSourceIDRequired indicates a source entry without an id.
	ErrSourceIDRequired = errors.New("source id must be specified")
	// ErrDuplicateSource indicates that a source is configured twice for one asset.
	ErrDuplicateSource = errors.New("duplicate source")
	// ErrInvalidWeight indicates a weight above 10000 basis points.
	ErrInvalidWeight = errors.New("weight must be between 0 and 10000 basis points")
	// ErrPoolNameRequired indicates a TWAP pool without a name.
	ErrPoolNameRequired = errors.New("pool name must be specified")
	// ErrDuplicatePool indicates that a TWAP pool name is used twice.
	ErrDuplicatePool = errors.New("duplicate pool")
	// ErrRPCURLRequired indicates a TWAP pool without rpc_url.
	ErrRPCURLRequired = errors.New("rpc_url must be specified")
	// ErrPairAddressRequired indicates a TWAP pool without pair_address.
	ErrPairAddressRequired = errors.New("pair_address must be specified")
	// ErrInvalidTokenIndex indicates a token_index other than 0 or 1.
	ErrInvalidTokenIndex = errors.New("token_index must be 0 or 1")
	// ErrInvalidMinPeriod indicates a min_period under one second.
	ErrInvalidMinPeriod = errors.New("min_period must be at least 1s")
	// ErrInvalidLogLevel indicates that the log level is invalid.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat indicates that the log format is invalid.
	ErrInvalidLogFormat = errors.New("invalid log format")
)
