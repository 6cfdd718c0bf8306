// Package bybit implements the Bybit V5 exchange client.
package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"signal_trader/internal/config"
	"signal_trader/internal/core"
	apperrors "signal_trader/pkg/errors"
	httpclient "signal_trader/pkg/http"
	"signal_trader/pkg/tradingutils"
)

const restTimeout = 15 * time.Second

// Client talks to the Bybit V5 REST API. It implements core.IExchange.
type Client struct {
	apiKey      string
	apiSecret   []byte
	category    string
	accountType string
	recvWindow  string
	leverage    int

	http   *httpclient.Client
	logger core.ILogger
}

// NewClient creates a signed REST client from the configuration.
func NewClient(cfg *config.Config, logger core.ILogger) *Client {
	c := &Client{
		apiKey:      cfg.APIKey,
		apiSecret:   []byte(cfg.APISecret),
		category:    cfg.Category,
		accountType: cfg.AccountType,
		recvWindow:  cfg.RecvWindow,
		leverage:    cfg.Leverage,
		logger:      logger.WithField("component", "bybit"),
	}
	c.http = httpclient.NewClient(cfg.BaseURL(), restTimeout, c)
	return c
}

// SignRequest adds the V5 authentication headers. The signature covers
// timestamp + key + recv_window + payload, where payload is the request body
// for POST and the raw query string for GET.
func (c *Client) SignRequest(req *http.Request, body []byte) error {
	timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())

	payload := string(body)
	if req.Method == http.MethodGet {
		payload = req.URL.RawQuery
	}

	mac := hmac.New(sha256.New, c.apiSecret)
	mac.Write([]byte(timestamp + c.apiKey + c.recvWindow + payload))
	signature := hex.EncodeToString(mac.Sum(nil))

	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-SIGN", signature)
	req.Header.Set("X-BAPI-SIGN-TYPE", "2")
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", c.recvWindow)

	return nil
}

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// mapError translates Bybit retCodes into the sentinel error vocabulary.
// https://bybit-exchange.github.io/docs/v5/error
func mapError(code int, msg string) error {
	switch code {
	case 0:
		return nil
	case 10001, 10002:
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidOrderParameter, msg)
	case 10003, 10004:
		return fmt.Errorf("%w: %s", apperrors.ErrAuthenticationFailed, msg)
	case 10006:
		return fmt.Errorf("%w: %s", apperrors.ErrRateLimitExceeded, msg)
	case 110001:
		return fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, msg)
	case 110007:
		return fmt.Errorf("%w: %s", apperrors.ErrInsufficientFunds, msg)
	case 110094:
		return fmt.Errorf("%w: %s", apperrors.ErrDuplicateOrder, msg)
	}
	return fmt.Errorf("bybit error: %s (%d)", msg, code)
}

// decode unwraps the {retCode, retMsg, result} envelope into out.
func decode(data []byte, out interface{}) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to parse response envelope: %w", err)
	}
	if env.RetCode != 0 {
		return mapError(env.RetCode, env.RetMsg)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("failed to parse result: %w", err)
	}
	return nil
}

// LastPrice returns the latest traded price for symbol.
func (c *Client) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	data, err := c.http.Get(ctx, "/v5/market/tickers", map[string]string{
		"category": c.category,
		"symbol":   symbol,
	})
	if err != nil {
		return decimal.Zero, err
	}

	var result struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := decode(data, &result); err != nil {
		return decimal.Zero, err
	}
	if len(result.List) == 0 {
		return decimal.Zero, fmt.Errorf("%w: no ticker data for %s", apperrors.ErrInvalidSymbol, symbol)
	}
	return decimal.NewFromString(result.List[0].LastPrice)
}

// InstrumentRules fetches the quantization constraints for symbol.
func (c *Client) InstrumentRules(ctx context.Context, symbol string) (core.InstrumentRules, error) {
	data, err := c.http.Get(ctx, "/v5/market/instruments-info", map[string]string{
		"category": c.category,
		"symbol":   symbol,
	})
	if err != nil {
		return core.InstrumentRules{}, err
	}

	var result struct {
		List []struct {
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LotSizeFilter struct {
				QtyStep       string `json:"qtyStep"`
				BasePrecision string `json:"basePrecision"`
				MinOrderQty   string `json:"minOrderQty"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := decode(data, &result); err != nil {
		return core.InstrumentRules{}, err
	}
	if len(result.List) == 0 {
		return core.InstrumentRules{}, fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, symbol)
	}

	raw := result.List[0]
	step := raw.LotSizeFilter.QtyStep
	if step == "" {
		step = raw.LotSizeFilter.BasePrecision
	}

	return core.InstrumentRules{
		TickSize: parseDecimal(raw.PriceFilter.TickSize, "0.0001"),
		QtyStep:  parseDecimal(step, "0.000001"),
		MinQty:   parseDecimal(raw.LotSizeFilter.MinOrderQty, "0"),
	}, nil
}

// WalletEquity returns the total equity of the configured account type.
func (c *Client) WalletEquity(ctx context.Context) (decimal.Decimal, error) {
	data, err := c.http.Get(ctx, "/v5/account/wallet-balance", map[string]string{
		"accountType": c.accountType,
	})
	if err != nil {
		return decimal.Zero, err
	}

	var result struct {
		List []struct {
			TotalEquity string `json:"totalEquity"`
		} `json:"list"`
	}
	if err := decode(data, &result); err != nil {
		return decimal.Zero, err
	}
	if len(result.List) == 0 {
		return decimal.Zero, fmt.Errorf("wallet balance: empty account list")
	}
	return decimal.NewFromString(result.List[0].TotalEquity)
}

// SetLeverage applies the same leverage to both directions of symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	body := map[string]interface{}{
		"category":     c.category,
		"symbol":       symbol,
		"buyLeverage":  fmt.Sprintf("%d", leverage),
		"sellLeverage": fmt.Sprintf("%d", leverage),
	}
	data, err := c.http.Post(ctx, "/v5/position/set-leverage", body)
	if err != nil {
		return err
	}
	// retCode 110043: leverage not modified, which is fine.
	var env envelope
	if jsonErr := json.Unmarshal(data, &env); jsonErr == nil && env.RetCode == 110043 {
		return nil
	}
	return decode(data, nil)
}

type orderBody struct {
	Category         string `json:"category"`
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	OrderType        string `json:"orderType"`
	Qty              string `json:"qty"`
	Price            string `json:"price,omitempty"`
	TimeInForce      string `json:"timeInForce,omitempty"`
	TriggerDirection int    `json:"triggerDirection,omitempty"`
	TriggerPrice     string `json:"triggerPrice,omitempty"`
	TriggerBy        string `json:"triggerBy,omitempty"`
	ReduceOnly       bool   `json:"reduceOnly"`
	CloseOnTrigger   bool   `json:"closeOnTrigger"`
	OrderLinkID      string `json:"orderLinkId,omitempty"`
}

// PlaceOrder submits one order. The order-link id doubles as the exchange
// side idempotency key, so retried submissions cannot double-place.
func (c *Client) PlaceOrder(ctx context.Context, req core.OrderRequest) (string, error) {
	body := orderBody{
		Category:         c.category,
		Symbol:           req.Symbol,
		Side:             string(req.Side),
		OrderType:        req.OrderType,
		Qty:              tradingutils.Format(req.Qty),
		TimeInForce:      req.TimeInForce,
		TriggerDirection: req.TriggerDirection,
		TriggerBy:        req.TriggerBy,
		ReduceOnly:       req.ReduceOnly,
		OrderLinkID:      req.OrderLinkID,
	}
	if req.Price.Sign() > 0 {
		body.Price = tradingutils.Format(req.Price)
	}
	if req.TriggerDirection != 0 {
		body.TriggerPrice = tradingutils.Format(req.TriggerPrice)
	}

	data, err := c.http.Post(ctx, "/v5/order/create", body)
	if err != nil {
		return "", err
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := decode(data, &result); err != nil {
		return "", err
	}
	return result.OrderID, nil
}

// CancelOrder cancels an order by exchange id. A missing order surfaces as
// apperrors.ErrOrderNotFound so callers can treat it as already gone.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
		"orderId":  orderID,
	}
	data, err := c.http.Post(ctx, "/v5/order/cancel", body)
	if err != nil {
		return err
	}
	return decode(data, nil)
}

// OpenOrders lists the live orders for symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	data, err := c.http.Get(ctx, "/v5/order/realtime", map[string]string{
		"category": c.category,
		"symbol":   symbol,
	})
	if err != nil {
		return nil, err
	}

	var result struct {
		List []struct {
			OrderID     string `json:"orderId"`
			OrderLinkID string `json:"orderLinkId"`
			Symbol      string `json:"symbol"`
			Side        string `json:"side"`
			Price       string `json:"price"`
			Qty         string `json:"qty"`
			OrderStatus string `json:"orderStatus"`
		} `json:"list"`
	}
	if err := decode(data, &result); err != nil {
		return nil, err
	}

	orders := make([]core.Order, 0, len(result.List))
	for _, raw := range result.List {
		orders = append(orders, core.Order{
			OrderID:     raw.OrderID,
			OrderLinkID: raw.OrderLinkID,
			Symbol:      raw.Symbol,
			Side:        core.Side(raw.Side),
			Price:       parseDecimal(raw.Price, "0"),
			Qty:         parseDecimal(raw.Qty, "0"),
			Status:      raw.OrderStatus,
		})
	}
	return orders, nil
}

// Positions lists the position records for symbol, zero-size rows included.
func (c *Client) Positions(ctx context.Context, symbol string) ([]core.Position, error) {
	data, err := c.http.Get(ctx, "/v5/position/list", map[string]string{
		"category": c.category,
		"symbol":   symbol,
	})
	if err != nil {
		return nil, err
	}

	var result struct {
		List []struct {
			Symbol   string `json:"symbol"`
			Size     string `json:"size"`
			AvgPrice string `json:"avgPrice"`
		} `json:"list"`
	}
	if err := decode(data, &result); err != nil {
		return nil, err
	}

	positions := make([]core.Position, 0, len(result.List))
	for _, raw := range result.List {
		positions = append(positions, core.Position{
			Symbol:   raw.Symbol,
			Size:     parseDecimal(raw.Size, "0"),
			AvgPrice: parseDecimal(raw.AvgPrice, "0"),
		})
	}
	return positions, nil
}

type tradingStopBody struct {
	Category     string `json:"category"`
	Symbol       string `json:"symbol"`
	PositionIdx  int    `json:"positionIdx"`
	TpslMode     string `json:"tpslMode"`
	StopLoss     string `json:"stopLoss,omitempty"`
	ActivePrice  string `json:"activePrice,omitempty"`
	TrailingStop string `json:"trailingStop,omitempty"`
}

// SetTradingStop applies a position-level SL/trailing update in Full mode.
func (c *Client) SetTradingStop(ctx context.Context, req core.TradingStopRequest) error {
	body := tradingStopBody{
		Category:    c.category,
		Symbol:      req.Symbol,
		PositionIdx: 0,
		TpslMode:    "Full",
	}
	if req.StopLoss.Sign() > 0 {
		body.StopLoss = tradingutils.Format(req.StopLoss)
	}
	if req.ActivePrice.Sign() > 0 {
		body.ActivePrice = tradingutils.Format(req.ActivePrice)
	}
	if req.TrailingStop.Sign() > 0 {
		body.TrailingStop = tradingutils.Format(req.TrailingStop)
	}

	data, err := c.http.Post(ctx, "/v5/position/trading-stop", body)
	if err != nil {
		return err
	}
	return decode(data, nil)
}

func parseDecimal(s, def string) decimal.Decimal {
	if s == "" {
		s = def
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		d, _ = decimal.NewFromString(def)
	}
	return d
}
