package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	feedMaxRetries  = 10
	feedBaseDelay   = 1 * time.Second
	feedMaxDelay    = 60 * time.Second
	feedReadTimeout = 60 * time.Second
)

// tickerMessage is the wire shape of a feed price update.
type tickerMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// FeedWorker streams ticker prices from a websocket feed into
// placeholder oracles, one per subscribed token. Prices arrive as
// decimal strings and are normalized to the 1e8 scale.
type FeedWorker struct {
	url     string
	symbols map[string]common.Address // feed symbol -> token
	targets map[common.Address]*Placeholder

	conn    *websocket.Conn
	mu      sync.RWMutex
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewFeedWorker creates a worker for the given symbol->token mapping.
// Each mapped token gets its own placeholder oracle, retrievable via
// Target for registry registration.
func NewFeedWorker(url string, symbols map[string]common.Address) *FeedWorker {
	targets := make(map[common.Address]*Placeholder, len(symbols))
	for _, token := range symbols {
		targets[token] = &Placeholder{}
	}
	return &FeedWorker{
		url:     url,
		symbols: symbols,
		targets: targets,
	}
}

// Target returns the placeholder oracle fed for a token.
func (w *FeedWorker) Target(token common.Address) (*Placeholder, bool) {
	p, ok := w.targets[token]
	return p, ok
}

// Connect starts the websocket connection loop.
func (w *FeedWorker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

func (w *FeedWorker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			slog.Warn("Feed connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			delay := calculateBackoff(retryCount)
			retryCount++
			if retryCount > feedMaxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		} else {
			retryCount = 0
			w.readLoop(ctx)
		}
	}
}

func calculateBackoff(retryCount int) time.Duration {
	delay := feedBaseDelay * time.Duration(math.Pow(2, float64(retryCount)))
	if delay > feedMaxDelay {
		delay = feedMaxDelay
	}
	return delay
}

func (w *FeedWorker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return err
	}

	slog.Info("Feed connected", slog.Int("subs", len(w.symbols)))
	return nil
}

func (w *FeedWorker) subscribe() error {
	codes := make([]string, 0, len(w.symbols))
	for sym := range w.symbols {
		codes = append(codes, sym)
	}
	msg := map[string]interface{}{"type": "subscribe", "symbols": codes}
	b, _ := json.Marshal(msg)
	return w.threadSafeWrite(websocket.TextMessage, b)
}

func (w *FeedWorker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *FeedWorker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(feedReadTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			w.closeConnection()
			return
		}
		w.handleMessage(msg)
	}
}

func (w *FeedWorker) handleMessage(msg []byte) {
	var tick tickerMessage
	if json.Unmarshal(msg, &tick) != nil || tick.Type != "ticker" {
		return
	}

	token, ok := w.symbols[tick.Symbol]
	if !ok {
		return
	}

	price, err := decimal.NewFromString(tick.Price)
	if err != nil || !price.IsPositive() {
		return
	}

	// Normalize to the 1e8 fixed-point scale.
	w.targets[token].SetPrice(price.Shift(8).BigInt())
}

func (w *FeedWorker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}

// Disconnect stops the worker and waits for the loops to exit.
func (w *FeedWorker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}
