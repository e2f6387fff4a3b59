package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xtrntr/venue/internal/exchange"
	"github.com/xtrntr/venue/internal/logging"
	"github.com/xtrntr/venue/internal/models"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// FeedMessage is one market data push.
type FeedMessage struct {
	Type   string         `json:"type"` // "book" or "trades"
	Book   []quoteView    `json:"book,omitempty"`
	Trades []models.Trade `json:"trades,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

// Broadcaster pushes top of book and trades to websocket subscribers. Slow
// subscribers are dropped rather than allowed to hold up a tick.
type Broadcaster struct {
	ex       *exchange.Exchange
	log      *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

func NewBroadcaster(ex *exchange.Exchange, log *logging.Logger) *Broadcaster {
	return &Broadcaster{
		ex:  ex,
		log: log.Named("feed"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// ServeHTTP upgrades the request and streams feed messages until the peer
// goes away.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, sendBuffer)}
	if snapshot, err := b.bookMessage(); err == nil {
		c.send <- snapshot
	}
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()

	go b.writePump(c)
	b.readPump(c)
}

// readPump drains control frames so pongs and close frames are seen.
func (b *Broadcaster) readPump(c *wsClient) {
	defer b.remove(c)
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Broadcaster) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (b *Broadcaster) remove(c *wsClient) {
	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()
	c.close()
}

// Subscribers returns the number of connected feed clients.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) bookMessage() ([]byte, error) {
	return json.Marshal(FeedMessage{Type: "book", Book: quoteViews(b.ex.GetOrderBook())})
}

// PublishTick sends the tick's trades followed by the new top of book. It is
// meant to be registered as a trade sink on the server.
func (b *Broadcaster) PublishTick(_ context.Context, trades []models.Trade) {
	if b.Subscribers() == 0 {
		return
	}
	tradesMsg, err := json.Marshal(FeedMessage{Type: "trades", Trades: trades})
	if err != nil {
		b.log.Error("failed to marshal trades", zap.Error(err))
		return
	}
	bookMsg, err := b.bookMessage()
	if err != nil {
		b.log.Error("failed to marshal order book", zap.Error(err))
		return
	}
	b.broadcast(tradesMsg)
	b.broadcast(bookMsg)
}

// Run pushes the top of book every interval until ctx is done, so
// subscribers see resting orders change between trades.
func (b *Broadcaster) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if b.Subscribers() == 0 {
				continue
			}
			msg, err := b.bookMessage()
			if err != nil {
				b.log.Error("failed to marshal order book", zap.Error(err))
				continue
			}
			b.broadcast(msg)
		}
	}
}

func (b *Broadcaster) broadcast(msg []byte) {
	var slow []*wsClient
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		b.log.Warn("dropping slow feed subscriber", zap.Stringer("remote", c.conn.RemoteAddr()))
		b.remove(c)
	}
}
