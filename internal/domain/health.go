package domain

import "time"

// ConnState is the exchange connection status as seen by the supervisor.
type ConnState string

const (
	ConnConnected    ConnState = "connected"
	ConnReconnecting ConnState = "reconnecting"
	ConnFailed       ConnState = "failed"
)

// HealthStatus is the supervisor's view of the tick loop. Owned by the
// supervisor; other components read published copies only.
type HealthStatus struct {
	LastTick            time.Time `json:"last_tick"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Connection          ConnState `json:"connection"`
	RestartsInWindow    int       `json:"restarts_in_window"`
	TotalRestarts       int       `json:"total_restarts"`
}
