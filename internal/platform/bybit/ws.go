package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmarchuk/gridbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed between inbound messages before the
	// connection is considered dead. Bybit answers pings with pongs.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// wsAuthTTL is how far in the future the auth signature expires.
	wsAuthTTL = 10 * time.Second

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 30 * time.Second

	// maxReconnectAttempts before the stream gives up and escalates.
	maxReconnectAttempts = 5
)

// wsCommand is an outbound op frame on the private stream.
type wsCommand struct {
	Op   string `json:"op"`
	Args []any  `json:"args,omitempty"`
}

// wsMessage is the inbound frame envelope.
type wsMessage struct {
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
	Topic   string          `json:"topic"`
	Data    json.RawMessage `json:"data"`
}

// StreamFills opens the private execution stream for symbol. Fills
// arrive on the first channel; a failed reconnect cycle delivers
// ErrWSDisconnect on the second and ends the stream. Both channels close
// when the stream stops.
func (c *Client) StreamFills(ctx context.Context, symbol string) (<-chan domain.FillEvent, <-chan error, error) {
	conn, err := c.dialPrivate(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("bybit: stream fills: %w", err)
	}

	fills := make(chan domain.FillEvent, 64)
	errs := make(chan error, 1)
	s := &fillStream{
		client:    c,
		symbol:    symbol,
		conn:      conn,
		fills:     fills,
		errs:      errs,
		pingEvery: pingPeriod,
	}
	go s.run(ctx)
	return fills, errs, nil
}

// dialPrivate connects, authenticates, and subscribes to executions.
func (c *Client) dialPrivate(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.WsPrivateURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	auth := wsCommand{Op: "auth", Args: c.auth.WsAuthArgs(wsAuthTTL)}
	if err := writeCommand(conn, auth); err != nil {
		conn.Close()
		return nil, fmt.Errorf("auth: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	var resp wsMessage
	if err := conn.ReadJSON(&resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("auth response: %w", err)
	}
	if resp.Success != nil && !*resp.Success {
		conn.Close()
		return nil, fmt.Errorf("%w: ws auth: %s", domain.ErrAuthFailed, resp.RetMsg)
	}

	sub := wsCommand{Op: "subscribe", Args: []any{"execution"}}
	if err := writeCommand(conn, sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return conn, nil
}

func writeCommand(conn *websocket.Conn, cmd wsCommand) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(cmd)
}

// fillStream owns one private WS connection and its reconnect loop.
type fillStream struct {
	client    *Client
	symbol    string
	fills     chan domain.FillEvent
	errs      chan error
	pingEvery time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *fillStream) current() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *fillStream) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// run reads executions until ctx is done or reconnection gives up.
func (s *fillStream) run(ctx context.Context) {
	defer close(s.fills)
	defer close(s.errs)
	defer func() {
		if conn := s.current(); conn != nil {
			conn.Close()
		}
	}()

	logger := s.client.logger
	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.pingLoop(pingDone)

	for {
		if ctx.Err() != nil {
			return
		}

		conn := s.current()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("fill stream read failed, reconnecting", slog.String("error", err.Error()))
			if !s.reconnect(ctx) {
				s.errs <- fmt.Errorf("bybit: fill stream: %w", domain.ErrWSDisconnect)
				return
			}
			continue
		}
		s.handle(msg)
	}
}

// handle routes one inbound frame. Op acks and pongs are dropped.
func (s *fillStream) handle(msg wsMessage) {
	if msg.Topic != "execution" {
		return
	}
	var execs []wsExecution
	if err := json.Unmarshal(msg.Data, &execs); err != nil {
		return
	}
	for _, e := range execs {
		if e.Symbol != s.symbol {
			continue
		}
		fill := e.toDomain()
		select {
		case s.fills <- fill:
		default:
			// Consumer is behind; drop rather than block the read loop.
			s.client.logger.Warn("fill channel full, dropping execution",
				slog.String("exec_id", fill.ExecID))
		}
	}
}

// pingLoop keeps whichever connection is current alive with
// protocol-level ping ops. It runs for the life of the stream, not of a
// single connection: writes fail while a reconnect is in flight, and the
// loop must still be ticking when the next connection comes up.
func (s *fillStream) pingLoop(done <-chan struct{}) {
	every := s.pingEvery
	if every <= 0 {
		every = pingPeriod
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := writeCommand(s.current(), wsCommand{Op: "ping"}); err != nil {
				s.client.logger.Debug("keepalive write failed",
					slog.String("error", err.Error()))
			}
		}
	}
}

// reconnect re-establishes the connection with exponential backoff.
// Returns false when the attempt budget is spent or ctx is done.
func (s *fillStream) reconnect(ctx context.Context) bool {
	s.current().Close()
	delay := reconnectDelay

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		conn, err := s.client.dialPrivate(dialCtx)
		cancel()
		if err == nil {
			s.setConn(conn)
			s.client.logger.Info("fill stream reconnected", slog.Int("attempt", attempt))
			return true
		}
		s.client.logger.Warn("fill stream reconnect failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
	return false
}
