package recipe

import (
	"errors"
	"fmt"
)

var (
	ErrUsage              = errors.New("usage error")
	ErrStep               = errors.New("recipe step failed")
	ErrDestinationExists  = errors.New("destination already holds an installation")
	ErrMissingBinary      = errors.New("installed binary missing")
	ErrUnsupportedArchive = errors.New("unsupported archive format")
)

// Returned by [System.Fetch] for non-2xx HTTP responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.Code)
}
