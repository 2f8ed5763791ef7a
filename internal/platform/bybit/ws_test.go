package bybit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmarchuk/gridbot/internal/config"
	"github.com/dmarchuk/gridbot/internal/domain"
)

// wsTestServer speaks the private-stream handshake: it reads the auth
// frame, acks it, and reads the subscribe frame. The first connection is
// dropped right after subscribing; later connections stay up and report
// every inbound ping op on the pings channel.
func wsTestServer(t *testing.T, pings chan<- struct{}) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	var conns int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil || cmd.Op != "auth" {
			return
		}
		ok := true
		if err := conn.WriteJSON(wsMessage{Op: "auth", Success: &ok}); err != nil {
			return
		}
		if err := conn.ReadJSON(&cmd); err != nil || cmd.Op != "subscribe" {
			return
		}

		if atomic.AddInt32(&conns, 1) == 1 {
			return
		}
		for {
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			if cmd.Op == "ping" {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFillStreamKeepaliveSurvivesReconnect(t *testing.T) {
	pings := make(chan struct{}, 16)
	srv := wsTestServer(t, pings)

	cfg := config.Defaults().Bybit
	cfg.ApiKey = "test-key"
	cfg.ApiSecret = "test-secret"
	cfg.WsPrivateURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	client := NewClient(cfg, nil, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, err := client.dialPrivate(ctx)
	if err != nil {
		t.Fatalf("dialPrivate() = %v", err)
	}
	s := &fillStream{
		client:    client,
		symbol:    "BTCUSDT",
		conn:      conn,
		fills:     make(chan domain.FillEvent, 4),
		errs:      make(chan error, 1),
		pingEvery: 50 * time.Millisecond,
	}
	go s.run(ctx)

	// The server kills the first connection immediately, so several ping
	// ticks elapse against a dead socket before the redial succeeds. The
	// pings channel only carries frames from the reconnected connection:
	// receiving one proves the keepalive outlived the broken socket.
	select {
	case <-pings:
	case err := <-s.errs:
		t.Fatalf("stream gave up before keepalive resumed: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("no ping after reconnect; keepalive died with the first connection")
	}
}
