package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
	maxFrameBytes  = 4 << 10
)

// ActionResync tells a UI that it missed broadcasts and should reload its
// notes and tasks over the REST API.
const ActionResync = "resync"

// clientFrame is the only message a UI sends: a subscription change.
type clientFrame struct {
	Type     string   `json:"type"`
	Entities []string `json:"entities"`
}

// Client is one local UI connection. It receives the entities it subscribed
// to, or every entity when it never subscribed.
type Client struct {
	hub    *Hub
	conn   *ws.Conn
	send   chan []byte
	logger *slog.Logger

	mu       sync.RWMutex
	entities map[string]bool

	lagged  atomic.Bool
	dropped atomic.Int64
}

// NewClient creates a Client tied to the given hub and connection.
// entities limits the initial subscription; nil means all entities.
func NewClient(hub *Hub, conn *ws.Conn, logger *slog.Logger, entities []string) *Client {
	c := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: logger,
	}
	c.subscribe(entities)
	return c
}

// ParseEntities splits a comma-separated entity list, dropping blanks.
func ParseEntities(s string) []string {
	var out []string
	for _, e := range strings.Split(s, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

func (c *Client) subscribe(entities []string) {
	var set map[string]bool
	if len(entities) > 0 {
		set = make(map[string]bool, len(entities))
		for _, e := range entities {
			set[e] = true
		}
	}
	c.mu.Lock()
	c.entities = set
	c.mu.Unlock()
}

// wants reports whether the client subscribed to entity. Sync state is
// always delivered so every UI can show upload progress.
func (c *Client) wants(entity string) bool {
	if entity == EntitySync {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entities == nil || c.entities[entity]
}

// markDropped records a broadcast lost to a full send buffer.
func (c *Client) markDropped() {
	c.lagged.Store(true)
	c.dropped.Add(1)
}

// frames returns what the write pump sends for msg: a resync notice first
// when broadcasts were dropped since the last write.
func (c *Client) frames(msg []byte) [][]byte {
	if !c.lagged.Swap(false) {
		return [][]byte{msg}
	}
	resync, err := json.Marshal(NewMessage(EntitySync, ActionResync, "", map[string]any{
		"dropped": c.dropped.Swap(0),
	}))
	if err != nil {
		return [][]byte{msg}
	}
	return [][]byte{resync, msg}
}

// handleFrame applies a frame sent by the UI.
func (c *Client) handleFrame(data []byte) {
	var f clientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Debug("ignoring malformed frame", "error", err)
		return
	}
	switch f.Type {
	case "subscribe":
		c.subscribe(f.Entities)
		c.logger.Debug("subscription changed", "entities", f.Entities)
	default:
		c.logger.Debug("ignoring frame", "type", f.Type)
	}
}

// Run registers the client, starts the write pump, and runs the read pump.
// It blocks until the connection is closed, then unregisters.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)
	c.logger.Debug("ui connected", "clients", c.hub.ClientCount())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.conn.SetReadLimit(maxFrameBytes)
	go c.writePump(ctx)
	c.readPump(ctx)
	c.logger.Debug("ui disconnected")
}

func (c *Client) readPump(ctx context.Context) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ == ws.MessageText {
			c.handleFrame(data)
		}
	}
}

// writePump drains the send channel and pings to detect stale connections.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			for _, frame := range c.frames(msg) {
				if err := c.conn.Write(ctx, ws.MessageText, frame); err != nil {
					c.logger.Debug("write failed", "error", err)
					return
				}
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
