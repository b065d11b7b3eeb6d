package chat

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrConnClosed    = errors.New("connection closed")
	ErrSendQueueFull = errors.New("send queue full")
)

const (
	writeWait      = 10 * time.Second
	maxFrameSize   = 64 * 1024
	defaultQueue   = 64
	defaultPingGap = 30 * time.Second
)

// Conn es una conexion websocket con un buzon de salida acotado. Un unico
// writer goroutine drena el buzon; Send nunca bloquea.
type Conn struct {
	id     string
	userID int64
	ws     *websocket.Conn
	logger *zap.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
	done   chan struct{}

	pingPeriod time.Duration
	pongWait   time.Duration
}

func newConn(ws *websocket.Conn, userID int64, queue int, pingPeriod time.Duration, logger *zap.Logger) *Conn {
	if queue <= 0 {
		queue = defaultQueue
	}
	if pingPeriod <= 0 {
		pingPeriod = defaultPingGap
	}
	return &Conn{
		id:         uuid.NewString(),
		userID:     userID,
		ws:         ws,
		logger:     logger,
		send:       make(chan []byte, queue),
		done:       make(chan struct{}),
		pingPeriod: pingPeriod,
		pongWait:   pingPeriod * 2,
	}
}

func (c *Conn) ID() string {
	return c.id
}

// Send encola el payload. Falla si el buzon esta lleno o la conexion cerrada.
func (c *Conn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close cierra el buzon; el writer envia el frame de cierre y suelta el socket.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.done)
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Info("websocket write failed",
					zap.Int64("user_id", c.userID),
					zap.String("conn_id", c.id),
					zap.Error(err),
				)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
