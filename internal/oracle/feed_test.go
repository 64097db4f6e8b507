package oracle

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
)

func TestFeedWorkerStreamsAndDisconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	sent := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		// Consume the subscription, push one tick, then hold the
		// socket open so the worker blocks in its read.
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
		tick := `{"type":"ticker","symbol":"ETH-USD","price":"3000.12345678"}`
		if err := c.WriteMessage(websocket.TextMessage, []byte(tick)); err != nil {
			return
		}
		sent <- struct{}{}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	token := common.HexToAddress("0x0000000000000000000000000000000000000e01")
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	w := NewFeedWorker(url, map[string]common.Address{"ETH-USD": token})
	if err := w.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	src, ok := w.Target(token)
	if !ok {
		t.Fatal("no placeholder for subscribed token")
	}

	deadline := time.Now().Add(2 * time.Second)
	var got *big.Int
	for time.Now().Before(deadline) {
		if p, err := src.LatestPrice(); err == nil {
			got = p
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got == nil {
		t.Fatal("no price arrived over the feed")
	}
	if want := big.NewInt(300_012_345_678); got.Cmp(want) != 0 {
		t.Fatalf("price = %s, want %s", got, want)
	}

	// Tear down while the read loop is blocked on the socket; this
	// must not panic and must stop both loops.
	<-sent
	w.Disconnect()
}
