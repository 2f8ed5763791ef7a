package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrTimeout             = errors.New("request timed out")
	ErrRateLimited         = errors.New("rate limited")
	ErrAuthFailed          = errors.New("authentication failed")
	ErrNetwork             = errors.New("network error")
	ErrOrderRejected       = errors.New("order rejected")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrWSDisconnect        = errors.New("websocket disconnected")
	ErrKillSwitch          = errors.New("kill switch engaged")
	ErrRestartSuppressed   = errors.New("restart budget exhausted")
	ErrLockHeld            = errors.New("lock already held")
	ErrContextDone         = errors.New("context cancelled")
)

// Transient reports whether err is worth retrying at the call site.
// Timeouts and rate limits pass; rejections and auth failures do not.
func Transient(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrNetwork)
}
