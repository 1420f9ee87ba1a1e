package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dinorun/posecontrol/internal/channel"
	"github.com/dinorun/posecontrol/pkg/streaming"
	ws "github.com/gorilla/websocket"
)

const (
	sendChSize   = 256
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxFrameSize = 1 << 20
)

// connection owns one client WebSocket with a single write goroutine.
type connection struct {
	mu     sync.Mutex
	conn   *ws.Conn
	sendQ  channel.Channel[[]byte]
	done   chan struct{} // closed on shutdown
	closed bool
	wg     sync.WaitGroup

	logger *slog.Logger
}

func newConnection(conn *ws.Conn, logger *slog.Logger) *connection {
	c := &connection{
		conn:   conn,
		sendQ:  channel.NewBuffered[[]byte](sendChSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.wg.Add(1)
	go c.writeLoop()
	return c
}

// writeLoop drains the send queue and writes messages to the WebSocket.
func (c *connection) writeLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendQ.Receive():
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				return
			}
			if err := c.conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(ws.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("WebSocket ping failed", "error", err)
				return
			}
		}
	}
}

// send pushes data to the write loop. Non-blocking; drops if channel full.
func (c *connection) send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if !c.sendQ.Send(data) {
		c.logger.Warn("WebSocket send queue full, dropping message", "queued", c.sendQ.Len())
	}
}

// sendEnvelope marshals the payload into an Envelope and pushes it to the
// write loop.
func (c *connection) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	c.send(data)
	return nil
}

func (c *connection) ack(msgType string) {
	data, err := json.Marshal(streaming.AckMessage{Type: streaming.TypeAck, For: msgType})
	if err != nil {
		return
	}
	c.send(data)
}

func (c *connection) sendError(forType string, err error) {
	_ = c.sendEnvelope(streaming.TypeError, streaming.ErrorPayload{For: forType, Message: err.Error()})
}

// close stops the write loop, flushes queued messages and sends a close
// frame. Safe to call more than once.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	c.wg.Wait()
	c.flush()
	c.sendQ.Close()

	_ = c.conn.WriteControl(
		ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	return c.conn.Close()
}

// flush writes whatever is still queued, best effort.
func (c *connection) flush() {
	for {
		select {
		case data := <-c.sendQ.Receive():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(ws.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}
