package crawlqueue

import "errors"

// Error kinds surfaced across the service boundary. Callers classify with
// errors.Is; wrapped detail stays attached via fmt.Errorf("...: %w").
var (
	// ErrNotFound reports an unknown org or crawl identity.
	ErrNotFound = errors.New("crawl not found")

	// ErrInvalidPattern reports a caller-supplied regex that does not
	// compile. Polling clients treat it as non-fatal (the user may still
	// be typing) so it must stay distinguishable from other failures.
	ErrInvalidPattern = errors.New("invalid regex pattern")

	// ErrUnauthorized reports missing or insufficient credentials for the
	// requested org.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnavailable reports a transient backend failure; callers retry on
	// their normal poll cadence.
	ErrUnavailable = errors.New("temporarily unavailable")
)
