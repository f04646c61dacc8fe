package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

var (
	// ErrSlowConsumer closes a connection whose send buffer is full.
	ErrSlowConsumer = errors.New("send buffer full")
	// ErrPeerUnresponsive closes a connection that stopped answering pings.
	ErrPeerUnresponsive = errors.New("peer did not answer ping")
)

// Socket is the delivery handle the registry and hub keep for a live connection.
type Socket interface {
	ID() uuid.UUID
	Send(message []byte)
	Close(err error)
}

// callback executed when a message is received.
type MessageHandler func(ctx context.Context, sock Socket, msg []byte)

type OnCloseHandler func(connID uuid.UUID, err error)

// ConnectionConfig bounds one socket. With a PingInterval set, liveness is
// proven by pongs and ReadTimeout only bounds each ping; without it, a client
// silent for ReadTimeout is dropped.
type ConnectionConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
	SendBuffer   int
	MaxFrameSize int64
}

// Connection represents a single, thread-safe WebSocket connection.
type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	ctx       context.Context
	closeOnce sync.Once
	cancel    context.CancelFunc

	logger *slog.Logger
}

var _ Socket = (*Connection)(nil)

func NewConnection(parentCtx context.Context, conn *websocket.Conn, config ConnectionConfig, logger *slog.Logger) *Connection {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)
	if config.SendBuffer <= 0 {
		config.SendBuffer = 256
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 60 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.MaxFrameSize > 0 {
		conn.SetReadLimit(config.MaxFrameSize)
	}

	return &Connection{
		id:     id,
		conn:   conn,
		logger: logger.With(slog.String("connID", id.String())),
		config: config,
		send:   make(chan []byte, config.SendBuffer),
		done:   make(chan struct{}),
		ctx:    connCtx,
		cancel: cancel,
	}
}

// Run starts the read and write pumps, plus the keepalive loop when a ping
// interval is configured. The caller waits on Done.
func (c *Connection) Run() {
	go c.readPump()
	go c.writePump()
	if c.config.PingInterval > 0 {
		go c.keepalive()
	}

	c.logger.Debug("connection established")
}

// readPump pumps messages from the WebSocket connection to the message handler.
// Messages are handled inline so one connection's events never overtake each other.
func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		readCtx, cancelRead := c.ctx, context.CancelFunc(func() {})
		if c.config.PingInterval <= 0 {
			readCtx, cancelRead = context.WithTimeout(c.ctx, c.config.ReadTimeout)
		}
		typ, r, err := c.conn.Reader(readCtx)
		if err != nil {
			cancelRead()
			readErr = err
			return
		}
		message, err := io.ReadAll(r)
		cancelRead()
		if err != nil {
			c.logger.Warn("Failed to read websocket frame", slog.Any("error", err))
			readErr = err
			return
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			continue
		}
		if c.onMessage != nil {
			c.onMessage(c.ctx, c, message)
		}
	}
}

// writePump pumps messages from the send channel to the WebSocket connection.
func (c *Connection) writePump() {
	var writeErr error
	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case message := <-c.send:
			writeCtx, cancel := context.WithTimeout(c.ctx, c.config.WriteTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// keepalive pings the client every PingInterval. Pongs are read by the read
// pump, so a ping that is not answered within ReadTimeout means the peer is gone.
func (c *Connection) keepalive() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, c.config.ReadTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if c.ctx.Err() == nil {
					c.logger.Info("Peer missed keepalive", slog.Any("error", err))
				}
				c.Close(ErrPeerUnresponsive)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues a message for the client. It never blocks; a full buffer closes
// the connection. Safe for concurrent use.
func (c *Connection) Send(message []byte) {
	select {
	case <-c.ctx.Done():
		c.logger.Debug("Dropped message for closed connection")
		return
	default:
	}
	select {
	case c.send <- message:
	default:
		c.logger.Warn("Send buffer full, closing connection")
		go c.Close(ErrSlowConsumer)
	}
}

// Close shuts down the connection and runs the close handler exactly once.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		status := websocket.CloseStatus(err)
		c.logger.Debug("Transport connection closing", slog.Any("reason", err), slog.String("status", status.String()))

		c.cancel()
		if c.conn != nil {
			code, reason := closeStatus(err)
			c.conn.Close(code, reason)
		}
		if c.onClose != nil {
			c.onClose(c.id, err)
		}
		close(c.done)
	})
}

// returns a channel that is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}

func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.onClose = handler
}

func closeStatus(err error) (websocket.StatusCode, string) {
	switch {
	case errors.Is(err, ErrSlowConsumer):
		return websocket.StatusPolicyViolation, "slow consumer"
	case errors.Is(err, ErrPeerUnresponsive):
		return websocket.StatusGoingAway, "keepalive timeout"
	default:
		return websocket.StatusNormalClosure, ""
	}
}
