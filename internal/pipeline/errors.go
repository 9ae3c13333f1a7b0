package pipeline

import "errors"

var (
	// ErrIncompleteRange is returned when only one end of a date filter is
	// supplied, or the ends are reversed.
	ErrIncompleteRange = errors.New("please select a complete date range")
	// ErrUnknownAsset is returned for an asset, index or column outside the
	// configured set.
	ErrUnknownAsset = errors.New("unknown asset")
	// ErrInvalidParameter is returned for out-of-range request options.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrNoReports is returned when no report year could be fetched.
	ErrNoReports = errors.New("no report year could be fetched")
)
