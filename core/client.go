package core

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/ratelimit"

	"github.com/wikimedia/rcstream/core/logger"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum inbound frame size. Clients only send short control frames.
	maxFrameSize = 4096

	tooManySubscriptions = "Too many subscriptions"
)

// controlFrame is an inbound client message. Wikis may be a JSON string or
// an array of strings.
type controlFrame struct {
	Action string          `json:"action"`
	Wikis  json.RawMessage `json:"wikis"`
}

type changeFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type errorFrame struct {
	Event   string `json:"event"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// SessionOptions bound the behavior of a single client session.
type SessionOptions struct {
	MaxSubscriptions int
	// MessageRate caps inbound control frames per second.
	MessageRate float64
	// WriteBuffer is the outbound queue length before the client counts as
	// stalled.
	WriteBuffer int
}

// Client is one WebSocket session.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	events *logger.SessionLogger
	opts   SessionOptions
	bucket *ratelimit.Bucket

	send chan []byte
	done chan struct{}

	closeOnce  sync.Once
	dropReason atomic.Value

	changesSent int64

	mu    sync.Mutex
	wikis map[string]struct{}
}

func newClient(hub *Hub, conn *websocket.Conn, events *logger.SessionLogger, opts SessionOptions) *Client {
	capacity := int64(opts.MessageRate)
	if capacity < 1 {
		capacity = 1
	}
	return &Client{
		hub:    hub,
		conn:   conn,
		events: events,
		opts:   opts,
		bucket: ratelimit.NewBucketWithRate(opts.MessageRate, capacity),
		send:   make(chan []byte, opts.WriteBuffer),
		done:   make(chan struct{}),
		wikis:  make(map[string]struct{}),
	}
}

// run services the session until the client disconnects or is dropped.
func (c *Client) run() {
	c.hub.add(c)

	go c.writePump()
	c.readPump()

	c.drop("client closed")
	reason, _ := c.dropReason.Load().(string)
	c.events.Record(&logger.ClientDisconnect{
		Reason:      reason,
		ChangesSent: atomic.LoadInt64(&c.changesSent),
	})
}

// drop terminates the session once, keeping the first reason given.
func (c *Client) drop(reason string) {
	c.closeOnce.Do(func() {
		c.dropReason.Store(reason)
		c.hub.remove(c)
		close(c.done)
		c.conn.Close()
	})
}

// wants reports whether a change for the wiki should reach this client.
func (c *Client) wants(wiki string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.wikis["*"]; ok {
		return true
	}
	_, ok := c.wikis[wiki]
	return ok
}

// deliverChange enqueues a change frame. A false return means the client's
// queue is full and the caller should drop it.
func (c *Client) deliverChange(frame []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}

	select {
	case c.send <- frame:
		atomic.AddInt64(&c.changesSent, 1)
		return true
	case <-c.done:
		return true
	default:
		return false
	}
}

// sendError enqueues an error frame. Slow clients lose error frames rather
// than being dropped for them.
func (c *Client) sendError(name, message string) {
	frame, err := json.Marshal(errorFrame{Event: "error", Name: name, Message: message})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	case <-c.done:
	default:
	}
}

func (c *Client) readPump() {
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		if c.bucket.TakeAvailable(1) == 0 {
			c.events.Record(&logger.InvalidMessage{Reason: "rate limited"})
			c.drop("rate limited")
			return
		}

		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	var frame controlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.invalidMessage("unparseable frame", data)
		return
	}

	switch frame.Action {
	case "subscribe":
		c.subscribe(frame.Wikis, data)
	case "unsubscribe":
		c.unsubscribe(frame.Wikis, data)
	default:
		c.invalidMessage("unknown action", data)
	}
}

func (c *Client) invalidMessage(reason string, data []byte) {
	if len(data) > maxFrameSize {
		data = data[:maxFrameSize]
	}
	c.events.Record(&logger.InvalidMessage{Reason: reason, Data: string(data)})
	c.sendError("invalid_message", reason)
}

func (c *Client) subscribe(raw json.RawMessage, frame []byte) {
	wikis, err := wikiNames(raw)
	if err != nil {
		c.invalidMessage("bad wikis value", frame)
		return
	}

	var added []string
	var rejected string
	c.mu.Lock()
	for _, wiki := range wikis {
		if _, ok := c.wikis[wiki]; ok {
			continue
		}
		if len(c.wikis) >= c.opts.MaxSubscriptions {
			rejected = wiki
			break
		}
		c.wikis[wiki] = struct{}{}
		added = append(added, wiki)
	}
	total := len(c.wikis)
	c.mu.Unlock()

	if len(added) > 0 {
		c.events.Record(&logger.Subscribe{Wikis: added, Total: total})
	}
	if rejected != "" {
		c.events.Record(&logger.SubscribeError{Wiki: rejected, Error: tooManySubscriptions})
		c.sendError("subscribe_error", tooManySubscriptions)
	}
}

func (c *Client) unsubscribe(raw json.RawMessage, frame []byte) {
	wikis, err := wikiNames(raw)
	if err != nil {
		c.invalidMessage("bad wikis value", frame)
		return
	}

	var removed []string
	c.mu.Lock()
	for _, wiki := range wikis {
		if _, ok := c.wikis[wiki]; !ok {
			continue
		}
		delete(c.wikis, wiki)
		removed = append(removed, wiki)
	}
	total := len(c.wikis)
	c.mu.Unlock()

	if len(removed) > 0 {
		c.events.Record(&logger.Unsubscribe{Wikis: removed, Total: total})
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.drop("write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.drop("ping failed")
				return
			}
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// wikiNames accepts either a single wiki name or an array of names,
// skipping non-string array entries.
func wikiNames(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, errMissingWikis
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	var out []string
	for _, item := range list {
		var wiki string
		if err := json.Unmarshal(item, &wiki); err != nil {
			continue
		}
		out = append(out, wiki)
	}
	return out, nil
}

var errMissingWikis = errors.New("missing wikis")

// clientIP extracts the caller's address, trusting the X-Forwarded-For
// header set by the fronting proxy when present.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
