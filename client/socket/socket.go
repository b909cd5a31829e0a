package socket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/gorilla/websocket"

	"github.com/shi-gg/linkdave-go/client/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024 // 512KB
)

// Config describes a single connection attempt. A fresh Connection is
// built for every attempt; the prior session id, when known, asks the
// node to resume that session.
type Config struct {
	URI        string
	Passphrase string
	UserID     snowflake.ID
	ShardCount int
	ClientName string
	SessionID  string
}

// PayloadHandler receives each decoded payload in receive order.
type PayloadHandler func(payload protocol.Payload)

// Connection is one dialed websocket connection to the node. It decodes
// inbound messages and hands them to a PayloadHandler until the socket
// closes or the listen context is cancelled.
type Connection struct {
	logger *slog.Logger
	config Config

	conn *websocket.Conn

	closeChan chan struct{}
	closeOnce sync.Once
}

func NewConnection(logger *slog.Logger, config Config) *Connection {
	return &Connection{
		logger:    logger,
		config:    config,
		closeChan: make(chan struct{}),
	}
}

// Dial opens the websocket. The handshake headers identify the client
// and, when a session id is set, request resumption of that session.
func (c *Connection) Dial(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", c.config.Passphrase)
	header.Set("User-Id", c.config.UserID.String())
	header.Set("Num-Shards", strconv.Itoa(c.config.ShardCount))
	if c.config.ClientName != "" {
		header.Set("Client-Name", c.config.ClientName)
	}
	if c.config.SessionID != "" {
		header.Set("Session-Id", c.config.SessionID)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.config.URI, header)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.config.URI, err)
	}

	c.conn = conn
	return nil
}

// Listen reads and decodes payloads until the connection closes, the
// context is cancelled, or a transport error occurs. Decode failures
// are isolated per message; transport failures end the loop and are
// returned for the caller to classify.
func (c *Connection) Listen(ctx context.Context, handler PayloadHandler) error {
	if c.conn == nil {
		return fmt.Errorf("connection not dialed")
	}

	stop := context.AfterFunc(ctx, func() {
		c.Close()
	})
	defer stop()

	go c.pingLoop()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("websocket read error: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		payload, err := protocol.DecodeMessage(data)
		if err != nil {
			c.logger.Error("failed to decode payload", slog.Any("error", err))
			continue
		}

		handler(payload)
	}
}

func (c *Connection) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closeChan:
			return
		}
	}
}

// Close tears the connection down. It is safe to call from any
// goroutine and is idempotent.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		if c.conn != nil {
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.conn.Close()
		}
	})
}
