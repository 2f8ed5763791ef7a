package bybit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dmarchuk/gridbot/internal/domain"
)

// apiResponse is the envelope every v5 REST endpoint returns.
type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

// Bybit v5 retCodes the core cares about. Everything else is mapped to
// a generic rejection or transport error at the call site.
const (
	retOK                  = 0
	retTimestampExpired    = 10002
	retInvalidAPIKey       = 10003
	retSignError           = 10004
	retPermissionDenied    = 10005
	retRateLimited         = 10006
	retIPRateLimited       = 10018
	retOrderNotFound       = 110001
	retInsufficientBalance = 110007
	retLeverageNotModified = 110043
)

// retCodeError maps a non-zero retCode onto the sentinel taxonomy.
func retCodeError(code int, msg string) error {
	switch code {
	case retOK:
		return nil
	case retRateLimited, retIPRateLimited:
		return fmt.Errorf("%w: retCode %d: %s", domain.ErrRateLimited, code, msg)
	case retInvalidAPIKey, retSignError, retPermissionDenied:
		return fmt.Errorf("%w: retCode %d: %s", domain.ErrAuthFailed, code, msg)
	case retTimestampExpired:
		return fmt.Errorf("%w: retCode %d: %s", domain.ErrTimeout, code, msg)
	case retOrderNotFound:
		return fmt.Errorf("%w: retCode %d: %s", domain.ErrNotFound, code, msg)
	case retInsufficientBalance:
		return fmt.Errorf("%w: retCode %d: %s", domain.ErrInsufficientBalance, code, msg)
	default:
		return fmt.Errorf("retCode %d: %s", code, msg)
	}
}

// tickerResult is the payload of GET /v5/market/tickers.
type tickerResult struct {
	Category string `json:"category"`
	List     []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
		Bid1Price string `json:"bid1Price"`
		Ask1Price string `json:"ask1Price"`
	} `json:"list"`
}

// positionResult is the payload of GET /v5/position/list.
type positionResult struct {
	List []apiPosition `json:"list"`
}

type apiPosition struct {
	Symbol         string `json:"symbol"`
	Side           string `json:"side"` // "Buy", "Sell", or "" when flat
	Size           string `json:"size"`
	AvgPrice       string `json:"avgPrice"`
	UnrealisedPnl  string `json:"unrealisedPnl"`
	CurRealisedPnl string `json:"curRealisedPnl"`
	Leverage       string `json:"leverage"`
	UpdatedTime    string `json:"updatedTime"`
}

func (p apiPosition) toDomain() domain.Position {
	size := parseFloat(p.Size)
	if p.Side == "Sell" {
		size = -size
	}
	lev, _ := strconv.Atoi(p.Leverage)
	pos := domain.Position{
		Symbol:        p.Symbol,
		Size:          size,
		EntryPrice:    parseFloat(p.AvgPrice),
		UnrealizedPnL: parseFloat(p.UnrealisedPnl),
		RealizedPnL:   parseFloat(p.CurRealisedPnl),
		Leverage:      lev,
	}
	if ms, err := strconv.ParseInt(p.UpdatedTime, 10, 64); err == nil {
		pos.UpdatedAt = time.UnixMilli(ms)
	}
	return pos
}

// walletResult is the payload of GET /v5/account/wallet-balance.
type walletResult struct {
	List []struct {
		AccountType    string `json:"accountType"`
		TotalEquity    string `json:"totalEquity"`
		WalletBalance  string `json:"totalWalletBalance"`
		TotalMarginUsd string `json:"totalInitialMargin"`
	} `json:"list"`
}

// orderResult is the payload of POST /v5/order/create and cancel.
type orderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// openOrdersResult is the payload of GET /v5/order/realtime.
type openOrdersResult struct {
	List []apiOrder `json:"list"`
}

type apiOrder struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	CumExecQty  string `json:"cumExecQty"`
	AvgPrice    string `json:"avgPrice"`
	OrderStatus string `json:"orderStatus"`
	CreatedTime string `json:"createdTime"`
}

func (o apiOrder) toDomain() domain.Order {
	out := domain.Order{
		ID:         o.OrderID,
		LinkID:     o.OrderLinkID,
		Symbol:     o.Symbol,
		Side:       apiSideToDomain(o.Side),
		Type:       apiTypeToDomain(o.OrderType),
		Price:      parseFloat(o.Price),
		Size:       parseFloat(o.Qty),
		FilledSize: parseFloat(o.CumExecQty),
		AvgPrice:   parseFloat(o.AvgPrice),
		Status:     apiStatusToDomain(o.OrderStatus),
	}
	if ms, err := strconv.ParseInt(o.CreatedTime, 10, 64); err == nil {
		out.CreatedAt = time.UnixMilli(ms)
	}
	return out
}

// wsExecution is one entry of a private "execution" topic message.
type wsExecution struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	ExecID      string `json:"execId"`
	ExecPrice   string `json:"execPrice"`
	ExecQty     string `json:"execQty"`
	ExecFee     string `json:"execFee"`
	ExecTime    string `json:"execTime"`
}

func (e wsExecution) toDomain() domain.FillEvent {
	fill := domain.FillEvent{
		OrderID: e.OrderID,
		LinkID:  e.OrderLinkID,
		Symbol:  e.Symbol,
		Side:    apiSideToDomain(e.Side),
		Price:   parseFloat(e.ExecPrice),
		Size:    parseFloat(e.ExecQty),
		Fee:     parseFloat(e.ExecFee),
		ExecID:  e.ExecID,
	}
	if ms, err := strconv.ParseInt(e.ExecTime, 10, 64); err == nil {
		fill.Timestamp = time.UnixMilli(ms)
	}
	return fill
}

func apiSideToDomain(s string) domain.OrderSide {
	if s == "Sell" {
		return domain.OrderSideSell
	}
	return domain.OrderSideBuy
}

func domainSideToAPI(s domain.OrderSide) string {
	if s == domain.OrderSideSell {
		return "Sell"
	}
	return "Buy"
}

func apiTypeToDomain(t string) domain.OrderType {
	if t == "Market" {
		return domain.OrderTypeMarket
	}
	return domain.OrderTypeLimit
}

func domainTypeToAPI(t domain.OrderType) string {
	if t == domain.OrderTypeMarket {
		return "Market"
	}
	return "Limit"
}

func apiStatusToDomain(s string) domain.OrderStatus {
	switch s {
	case "New", "Untriggered", "PartiallyFilled":
		return domain.OrderStatusOpen
	case "Filled":
		return domain.OrderStatusFilled
	case "Cancelled", "Deactivated":
		return domain.OrderStatusCancelled
	case "Rejected":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusOpen
	}
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
