// Package bybit implements the exchange contract against the Bybit v5
// REST and WebSocket APIs (linear perpetual category).
package bybit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dmarchuk/gridbot/internal/config"
	"github.com/dmarchuk/gridbot/internal/crypto"
	"github.com/dmarchuk/gridbot/internal/domain"
)

const category = "linear"

// Demo-trading endpoints. DemoMode swaps these in for the well-known
// production URLs; explicitly configured custom URLs are left alone.
const (
	mainnetBaseURL = "https://api.bybit.com"
	demoBaseURL    = "https://api-demo.bybit.com"

	mainnetWsPrivateURL = "wss://stream.bybit.com/v5/private"
	demoWsPrivateURL    = "wss://stream-demo.bybit.com/v5/private"
)

// Client is the REST client for the Bybit v5 API. It implements
// domain.Exchange; StreamFills lives in ws.go.
type Client struct {
	cfg        config.BybitConfig
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
	limiter    domain.RateLimiter // optional REST call budget
	logger     *slog.Logger
}

// NewClient creates a Bybit v5 client. limiter may be nil, in which case
// requests go out unthrottled.
func NewClient(cfg config.BybitConfig, limiter domain.RateLimiter, logger *slog.Logger) *Client {
	if cfg.DemoMode {
		if cfg.BaseURL == mainnetBaseURL {
			cfg.BaseURL = demoBaseURL
		}
		if cfg.WsPrivateURL == mainnetWsPrivateURL {
			cfg.WsPrivateURL = demoWsPrivateURL
		}
	}
	return &Client{
		cfg:     cfg,
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout.Duration,
		},
		auth:    &crypto.HMACAuth{Key: cfg.ApiKey, Secret: cfg.ApiSecret},
		limiter: limiter,
		logger:  logger.With(slog.String("component", "bybit")),
	}
}

// GetPrice fetches the latest ticker for symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (domain.PriceSnapshot, error) {
	q := url.Values{}
	q.Set("category", category)
	q.Set("symbol", symbol)

	var result tickerResult
	if err := c.get(ctx, "/v5/market/tickers", q, false, &result); err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("bybit: get price: %w", err)
	}
	if len(result.List) == 0 {
		return domain.PriceSnapshot{}, fmt.Errorf("bybit: get price: %w: no ticker for %s", domain.ErrNotFound, symbol)
	}

	return domain.PriceSnapshot{
		Symbol:    symbol,
		LastPrice: parseFloat(result.List[0].LastPrice),
		Timestamp: time.Now(),
	}, nil
}

// GetPosition returns the net linear position for symbol. A missing or
// zero-size entry is reported as a flat position, not an error.
func (c *Client) GetPosition(ctx context.Context, symbol string) (domain.Position, error) {
	q := url.Values{}
	q.Set("category", category)
	q.Set("symbol", symbol)

	var result positionResult
	if err := c.get(ctx, "/v5/position/list", q, true, &result); err != nil {
		return domain.Position{}, fmt.Errorf("bybit: get position: %w", err)
	}

	for _, p := range result.List {
		if p.Symbol == symbol && parseFloat(p.Size) != 0 {
			return p.toDomain(), nil
		}
	}
	return domain.Position{Symbol: symbol}, nil
}

// GetBalance returns the unified account equity snapshot.
func (c *Client) GetBalance(ctx context.Context) (domain.AccountBalance, error) {
	q := url.Values{}
	q.Set("accountType", "UNIFIED")

	var result walletResult
	if err := c.get(ctx, "/v5/account/wallet-balance", q, true, &result); err != nil {
		return domain.AccountBalance{}, fmt.Errorf("bybit: get balance: %w", err)
	}
	if len(result.List) == 0 {
		return domain.AccountBalance{}, fmt.Errorf("bybit: get balance: %w: empty wallet list", domain.ErrNotFound)
	}

	w := result.List[0]
	return domain.AccountBalance{
		WalletBalance: parseFloat(w.WalletBalance),
		Equity:        parseFloat(w.TotalEquity),
		UsedMargin:    parseFloat(w.TotalMarginUsd),
	}, nil
}

// PlaceOrder submits the intent and returns the exchange order id.
// Unmapped retCodes are reported as ErrOrderRejected.
func (c *Client) PlaceOrder(ctx context.Context, intent domain.OrderIntent) (string, error) {
	body := map[string]any{
		"category":  category,
		"symbol":    intent.Symbol,
		"side":      domainSideToAPI(intent.Side),
		"orderType": domainTypeToAPI(intent.Type),
		"qty":       formatQty(intent.Size),
	}
	if intent.LinkID != "" {
		body["orderLinkId"] = intent.LinkID
	}
	if intent.Type == domain.OrderTypeLimit {
		body["price"] = formatQty(intent.Price)
		body["timeInForce"] = "GTC"
	} else {
		body["timeInForce"] = "IOC"
	}
	if intent.ReduceOnly {
		body["reduceOnly"] = true
	}

	var result orderResult
	if err := c.post(ctx, "/v5/order/create", body, &result); err != nil {
		if isRejection(err) {
			return "", fmt.Errorf("bybit: place order: %w: %v", domain.ErrOrderRejected, err)
		}
		return "", fmt.Errorf("bybit: place order: %w", err)
	}
	return result.OrderID, nil
}

// CancelOrder cancels one order. Cancelling an already-gone order
// returns ErrNotFound.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]any{
		"category": category,
		"symbol":   symbol,
		"orderId":  orderID,
	}
	var result orderResult
	if err := c.post(ctx, "/v5/order/cancel", body, &result); err != nil {
		return fmt.Errorf("bybit: cancel order %s: %w", orderID, err)
	}
	return nil
}

// CancelAll cancels every open order for symbol.
func (c *Client) CancelAll(ctx context.Context, symbol string) error {
	body := map[string]any{
		"category": category,
		"symbol":   symbol,
	}
	var result openOrdersResult
	if err := c.post(ctx, "/v5/order/cancel-all", body, &result); err != nil {
		return fmt.Errorf("bybit: cancel all: %w", err)
	}
	c.logger.InfoContext(ctx, "cancelled all orders",
		slog.String("symbol", symbol),
		slog.Int("count", len(result.List)),
	)
	return nil
}

// OpenOrders returns the live orders for symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	q := url.Values{}
	q.Set("category", category)
	q.Set("symbol", symbol)
	q.Set("openOnly", "0")
	q.Set("limit", "50")

	var result openOrdersResult
	if err := c.get(ctx, "/v5/order/realtime", q, true, &result); err != nil {
		return nil, fmt.Errorf("bybit: open orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(result.List))
	for _, o := range result.List {
		orders = append(orders, o.toDomain())
	}
	return orders, nil
}

// SetLeverage sets both-sided leverage for symbol. Bybit returns a
// dedicated retCode when the value is already set; that is success.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	lev := strconv.Itoa(leverage)
	body := map[string]any{
		"category":     category,
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}
	var result json.RawMessage
	err := c.post(ctx, "/v5/position/set-leverage", body, &result)
	if err != nil {
		var rc *retCodeErr
		if errors.As(err, &rc) && rc.code == retLeverageNotModified {
			return nil
		}
		return fmt.Errorf("bybit: set leverage: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// retCodeErr carries the raw retCode alongside the sentinel mapping so
// callers can special-case individual codes.
type retCodeErr struct {
	code int
	err  error
}

func (e *retCodeErr) Error() string { return e.err.Error() }
func (e *retCodeErr) Unwrap() error { return e.err }

// get performs a GET request; query is signed when auth is set.
func (c *Client) get(ctx context.Context, path string, q url.Values, auth bool, out any) error {
	query := q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if auth {
		for k, v := range c.auth.RestHeaders(query, c.cfg.RecvWindowMs) {
			req.Header.Set(k, v)
		}
	}
	return c.do(ctx, req, out)
}

// post performs a signed POST request with a JSON body.
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.auth.RestHeaders(string(jsonBody), c.cfg.RecvWindowMs) {
		req.Header.Set(k, v)
	}
	return c.do(ctx, req, out)
}

// do sends the request through the rate budget, checks the HTTP status
// and the v5 envelope, and decodes the result payload into out.
func (c *Client) do(ctx context.Context, req *http.Request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, "bybit:rest"); err != nil {
			return fmt.Errorf("rate budget: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrNetwork, err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return err
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.RetCode != retOK {
		return &retCodeErr{code: envelope.RetCode, err: retCodeError(envelope.RetCode, envelope.RetMsg)}
	}

	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// transportError maps client-side HTTP failures to the sentinel taxonomy.
func transportError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
}

// checkHTTPStatus maps non-2xx status codes to the sentinel taxonomy.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyStr := string(body)
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrAuthFailed, statusCode, bodyStr)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrRateLimited, statusCode, bodyStr)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrNetwork, statusCode, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

// isRejection reports whether a place-order failure is a venue decision
// rather than a transport or auth problem.
func isRejection(err error) bool {
	switch {
	case domain.Transient(err),
		errors.Is(err, domain.ErrAuthFailed),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrNotFound):
		return false
	}
	var rc *retCodeErr
	return errors.As(err, &rc)
}

// formatQty renders a float the way the v5 API expects: plain decimal,
// no exponent, trailing zeros trimmed.
func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
