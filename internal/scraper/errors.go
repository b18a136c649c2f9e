package scraper

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the pipeline and the session store.
var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrFetchFailure       = errors.New("fetch failure")
	ErrValidation         = errors.New("validation failed")
	ErrConversion         = errors.New("conversion failed")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotFound           = errors.New("not found")
	ErrNoAssets           = errors.New("no assets")
	ErrSessionBusy        = errors.New("session is being written")
)

// FetchError reports that the page could not be obtained after retries.
type FetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Err != nil && e.Attempts > 0:
		return fmt.Sprintf("fetch %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("fetch %s failed", e.URL)
	}
}

// Unwrap lets errors.Is match both ErrFetchFailure and the underlying cause.
func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFetchFailure}
	}
	return []error{ErrFetchFailure, e.Err}
}
