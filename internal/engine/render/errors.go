package render

import "errors"

// Pool and lifecycle errors.
var (
	ErrPoolShutdown         = errors.New("render context pool is shutting down")
	ErrBrowserInitFailed    = errors.New("browser context initialization failed")
	ErrContextRecycleFailed = errors.New("context recycle failed")
)

// Navigation errors, surfaced per spec.md §4.3/§7's render error taxonomy.
var (
	ErrNavTimeout            = errors.New("navigation timeout exceeded")
	ErrNavError              = errors.New("navigation failed")
	ErrRequestBudgetExceeded = errors.New("subresource request budget exceeded")
	ErrByteBudgetExceeded    = errors.New("subresource byte budget exceeded")
)

// Code maps a render error to the short code recorded on an ErrorRecord,
// matching the fetch package's SCREAMING_SNAKE convention.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrBrowserInitFailed):
		return "RENDER_INIT"
	case errors.Is(err, ErrNavTimeout), errors.Is(err, ErrRequestBudgetExceeded), errors.Is(err, ErrByteBudgetExceeded):
		return "NAV_TIMEOUT"
	case errors.Is(err, ErrNavError):
		return "NAV_ERROR"
	case errors.Is(err, ErrContextRecycleFailed):
		return "CONTEXT_RECYCLE_FAILED"
	}
	return "UNKNOWN"
}
