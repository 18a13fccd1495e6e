package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/hub"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/protocol"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/tracker"
	"github.com/shubham-shewale/stock-tracker/pkg/models"
)

const (
	maxMessageSize = 512 * 1024
	sendBuffer     = 256
)

// Switcher is the orchestrator surface a session drives.
type Switcher interface {
	SwitchSymbol(ctx context.Context, session, oldSymbol, newSymbol string) error
	HandleDisconnect(ctx context.Context, session string) error
	Watching(symbol, session string) bool
}

type ClientAdapter struct {
	id      string
	conn    net.Conn
	hub     *hub.Hub
	tracker Switcher
	send    chan []byte
	logger  *zap.Logger

	// current is only touched by readPump
	current string

	closeOnce sync.Once

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func NewClient(conn net.Conn, h *hub.Hub, tr Switcher, logger *zap.Logger) *ClientAdapter {
	id := uuid.NewString()
	return &ClientAdapter{
		id:         id,
		conn:       conn,
		hub:        h,
		tracker:    tr,
		send:       make(chan []byte, sendBuffer),
		logger:     logger.With(zap.String("session", id)),
		writeWait:  5 * time.Second,
		pongWait:   60 * time.Second,
		pingPeriod: 50 * time.Second,
	}
}

// Start greets the session with its id, subscribes it to its error topic and
// spawns the pumps.
func (c *ClientAdapter) Start() {
	c.SendJSON(protocol.WSResponse{Type: protocol.TypeSession, Data: c.id})
	c.hub.Subscribe(c, protocol.ErrorTopic(c.id))
	c.logger.Info("Session connected", zap.String("remote", c.conn.RemoteAddr().String()))

	go c.writePump()
	go c.readPump()
}

func (c *ClientAdapter) ID() string { return c.id }

// Close only closes the channel and lets writePump close the conn
func (c *ClientAdapter) Close() {
	c.closeOnce.Do(func() { close(c.send) })
}

func (c *ClientAdapter) SendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to encode frame", zap.Error(err))
		return
	}
	c.SendBytes(b)
}

// SendBytes never blocks; a full buffer drops the frame.
func (c *ClientAdapter) SendBytes(b []byte) bool {
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *ClientAdapter) readPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.tracker.HandleDisconnect(context.Background(), c.id); err != nil {
			c.logger.Error("Disconnect cleanup failed", zap.Error(err))
		}
		c.conn.Close()
		c.logger.Info("Session closed")
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			break
		}

		if header.Length > int64(maxMessageSize) {
			c.logger.Warn("Msg too big", zap.Int64("size", header.Length))
			break
		}

		if !header.Fin {
			c.logger.Warn("Client sent fragmented message (not supported)")
			break
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			break
		}

		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpText:
			var req protocol.WSRequest
			if err := json.Unmarshal(payload, &req); err != nil {
				c.SendJSON(protocol.WSResponse{Type: protocol.TypeError, Message: "Invalid JSON"})
				continue
			}
			c.handle(req)
		}
	}
}

func (c *ClientAdapter) handle(req protocol.WSRequest) {
	switch req.Action {
	case protocol.ActionTrack:
		c.track(req)
	case protocol.ActionSubscribe:
		if req.Topic == "" {
			c.reply(req.ID, "error", "topic is required")
			return
		}
		if protocol.IsErrorTopic(req.Topic) && req.Topic != protocol.ErrorTopic(c.id) {
			c.logger.Warn("Rejected foreign error topic", zap.String("topic", req.Topic))
			c.reply(req.ID, "error", "topic not allowed")
			return
		}
		c.hub.Subscribe(c, req.Topic)
		c.reply(req.ID, "success", "")
	case protocol.ActionUnsubscribe:
		if req.Topic == "" {
			c.reply(req.ID, "error", "topic is required")
			return
		}
		c.hub.Unsubscribe(c, req.Topic)
		c.reply(req.ID, "success", "")
	default:
		c.SendJSON(protocol.WSResponse{Type: protocol.TypeError, ID: req.ID, Message: "Unknown action"})
	}
}

// track moves the session to req.NewSymbol. The session's watched symbol is
// kept here, so a stale currentSymbol from the client is ignored.
func (c *ClientAdapter) track(req protocol.WSRequest) {
	oldSymbol := c.current
	newSymbol := models.NormalizeSymbol(req.NewSymbol)

	if claimed := models.NormalizeSymbol(req.CurrentSymbol); claimed != "" && claimed != oldSymbol {
		c.logger.Debug("Ignoring client currentSymbol", zap.String("claimed", claimed), zap.String("actual", oldSymbol))
	}

	if oldSymbol != "" && oldSymbol != newSymbol {
		c.hub.Unsubscribe(c, protocol.PriceTopic(oldSymbol))
	}
	// Subscribe first so the switch's own publish reaches this session
	if newSymbol != "" {
		c.hub.Subscribe(c, protocol.PriceTopic(newSymbol))
	}

	err := c.tracker.SwitchSymbol(context.Background(), c.id, oldSymbol, newSymbol)
	if err == nil {
		c.current = newSymbol
		c.reply(req.ID, "success", "")
		return
	}

	// A failed switch normally leaves nothing watched, but re-tracking the
	// current symbol keeps it registered.
	c.current = ""
	if oldSymbol != "" && c.tracker.Watching(oldSymbol, c.id) {
		c.current = oldSymbol
	}
	if newSymbol != "" && newSymbol != c.current {
		c.hub.Unsubscribe(c, protocol.PriceTopic(newSymbol))
	}

	if errors.Is(err, tracker.ErrSymbolNotFound) {
		c.hub.Publish(protocol.ErrorTopic(c.id), err.Error())
		c.reply(req.ID, "error", err.Error())
		return
	}
	c.logger.Error("Track failed", zap.String("symbol", newSymbol), zap.Error(err))
	c.reply(req.ID, "error", "internal error")
}

func (c *ClientAdapter) reply(id, status, message string) {
	if id == "" {
		return
	}
	c.SendJSON(protocol.WSResponse{Type: protocol.TypeAck, ID: id, Status: status, Message: message})
}

func (c *ClientAdapter) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				c.conn.Write(ws.CompiledClose)
				return
			}
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
