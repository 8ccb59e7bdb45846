package rest

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ballotwatch/fraud-engine/internal/service/fraud"
)

const (
	feedWriteTimeout = 10 * time.Second
	feedPingPeriod   = 30 * time.Second
	feedSendBuffer   = 16
)

// AlertFeed pushes newly created fraud alerts to connected websocket
// clients. Publish never blocks the detection path: a client that cannot
// keep up is dropped.
type AlertFeed struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*feedClient]struct{}
}

type feedClient struct {
	conn *websocket.Conn
	send chan *fraud.FraudAlert
}

// NewAlertFeed creates the live alert stream.
func NewAlertFeed(logger *zap.Logger) *AlertFeed {
	return &AlertFeed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*feedClient]struct{}),
	}
}

// Publish fans one alert out to every connected client.
func (f *AlertFeed) Publish(alert *fraud.FraudAlert) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for client := range f.clients {
		select {
		case client.send <- alert:
		default:
			// Slow consumer, close it from a separate goroutine so the
			// publish path never waits.
			go f.drop(client)
		}
	}
}

// Serve upgrades one HTTP request into an alert-stream connection.
func (f *AlertFeed) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &feedClient{
		conn: conn,
		send: make(chan *fraud.FraudAlert, feedSendBuffer),
	}

	f.mu.Lock()
	f.clients[client] = struct{}{}
	total := len(f.clients)
	f.mu.Unlock()

	f.logger.Info("alert feed client connected", zap.Int("clients", total))

	go f.writeLoop(client)
	go f.readLoop(client)
}

func (f *AlertFeed) writeLoop(client *feedClient) {
	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case alert, ok := <-client.send:
			if !ok {
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := client.conn.WriteJSON(alert); err != nil {
				f.drop(client)
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.drop(client)
				return
			}
		}
	}
}

// readLoop drains the connection so control frames are processed and client
// disconnects are noticed.
func (f *AlertFeed) readLoop(client *feedClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			f.drop(client)
			return
		}
	}
}

func (f *AlertFeed) drop(client *feedClient) {
	f.mu.Lock()
	_, present := f.clients[client]
	if present {
		delete(f.clients, client)
	}
	f.mu.Unlock()

	if present {
		client.conn.Close()
	}
}

// ClientCount reports connected clients, used by statistics and tests.
func (f *AlertFeed) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}
