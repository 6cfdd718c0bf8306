package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"signal_trader/internal/config"
	"signal_trader/internal/core"
	"signal_trader/pkg/websocket"
)

// EventHandler receives decoded private-stream events.
type EventHandler func(core.ExecutionEvent)

// Stream consumes the Bybit V5 private WebSocket. After every (re)connect it
// authenticates and subscribes to the execution and order topics. Execution
// events are forwarded as-is; order events only when the order reached
// "Filled", since the engine reacts to fills and nothing else.
type Stream struct {
	apiKey    string
	apiSecret []byte

	client  *websocket.Client
	handler EventHandler
	logger  core.ILogger

	// send is the outbound path, indirected for tests.
	send func(v interface{}) error
}

// NewStream creates a private-stream consumer delivering events to handler.
func NewStream(cfg *config.Config, handler EventHandler, logger core.ILogger) *Stream {
	s := &Stream{
		apiKey:    cfg.APIKey,
		apiSecret: []byte(cfg.APISecret),
		handler:   handler,
		logger:    logger.WithField("component", "bybit_ws"),
	}
	s.client = websocket.NewClient(cfg.PrivateWSURL(), s.onMessage, s.logger)
	s.client.SetPingConfig(20*time.Second, 10*time.Second, 60*time.Second)
	s.client.SetOnConnected(s.onConnected)
	s.send = s.client.Send
	return s
}

// Start begins the connect/auth/subscribe loop.
func (s *Stream) Start() {
	s.client.Start()
}

// Stop tears the stream down.
func (s *Stream) Stop() {
	s.client.Stop()
}

// onConnected authenticates. The subscribe waits for the auth ack in
// onMessage; the venue rejects subscriptions that race it.
func (s *Stream) onConnected() {
	expires := time.Now().Add(10 * time.Second).UnixMilli()

	mac := hmac.New(sha256.New, s.apiSecret)
	mac.Write([]byte(fmt.Sprintf("GET/realtime%d", expires)))
	signature := hex.EncodeToString(mac.Sum(nil))

	auth := map[string]interface{}{
		"op":   "auth",
		"args": []interface{}{s.apiKey, expires, signature},
	}
	if err := s.send(auth); err != nil {
		s.logger.Error("Failed to send auth request", "error", err)
	}
}

func (s *Stream) subscribe() {
	sub := map[string]interface{}{
		"op":   "subscribe",
		"args": []string{"execution", "order"},
	}
	if err := s.send(sub); err != nil {
		s.logger.Error("Failed to subscribe to private topics", "error", err)
	}
}

type wsMessage struct {
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
	Topic   string          `json:"topic"`
	Data    json.RawMessage `json:"data"`
}

type wsRecord struct {
	OrderLinkID string `json:"orderLinkId"`
	OrderID     string `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	ExecPrice   string `json:"execPrice"`
	Price       string `json:"price"`
	LastPrice   string `json:"lastPriceOnCreated"`
	ExecQty     string `json:"execQty"`
	OrderStatus string `json:"orderStatus"`
}

func (s *Stream) onMessage(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.logger.Warn("Dropping unparseable stream message", "error", err)
		return
	}

	if msg.Op != "" {
		if msg.Success != nil && !*msg.Success {
			s.logger.Error("Private stream operation rejected", "op", msg.Op, "ret_msg", msg.RetMsg)
			return
		}
		if msg.Op == "auth" {
			s.subscribe()
		}
		return
	}

	switch msg.Topic {
	case "execution":
		s.dispatch(msg.Data, false)
	case "order":
		s.dispatch(msg.Data, true)
	}
}

// dispatch decodes a topic payload and forwards its events. For the order
// topic only terminal fills are forwarded.
func (s *Stream) dispatch(data json.RawMessage, filledOnly bool) {
	var records []wsRecord
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn("Dropping unparseable topic payload", "error", err)
		return
	}

	for _, r := range records {
		if filledOnly && r.OrderStatus != "Filled" {
			continue
		}
		s.deliver(core.ExecutionEvent{
			OrderLinkID: r.OrderLinkID,
			OrderID:     r.OrderID,
			Symbol:      r.Symbol,
			Side:        core.Side(r.Side),
			ExecPrice:   wsDecimal(r.ExecPrice),
			Price:       wsDecimal(r.Price),
			LastPrice:   wsDecimal(r.LastPrice),
			ExecQty:     wsDecimal(r.ExecQty),
			OrderStatus: r.OrderStatus,
		})
	}
}

func (s *Stream) deliver(ev core.ExecutionEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Event handler panicked", "panic", r, "order_link_id", ev.OrderLinkID)
		}
	}()
	s.handler(ev)
}

func wsDecimal(v string) decimal.Decimal {
	if v == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}
