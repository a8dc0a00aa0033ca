package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Subprotocol is the GraphQL over WebSocket protocol spoken by the node
	Subprotocol = "graphql-transport-ws"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	ackWait        = 10 * time.Second
	maxMessageSize = 4 << 20
	sendBuffer     = 64
)

// graphql-transport-ws message types
const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

var (
	// ErrStreamClosed is returned when subscribing on a closed stream client
	ErrStreamClosed = errors.New("stream client closed")

	// ErrSubscriptionEnded is passed to an EndHandler when the node ends a subscription
	ErrSubscriptionEnded = errors.New("subscription ended by node")
)

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type nextPayload struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

// Handler receives the data object of every result of a subscription
type Handler func(data json.RawMessage)

// EndHandler is called once when the node rejects or completes a
// subscription. It is not called for subscriptions stopped locally.
type EndHandler func(err error)

// StreamConfig holds stream client configuration
type StreamConfig struct {
	Endpoint   string
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Dialer     *websocket.Dialer
	Logger     *zap.Logger
}

// StreamClient runs GraphQL subscriptions over one WebSocket connection.
// It connects lazily on the first subscription, reconnects with exponential
// backoff when the connection drops and re-sends every live subscription
// after each reconnect.
type StreamClient struct {
	endpoint   string
	minBackoff time.Duration
	maxBackoff time.Duration
	dialer     *websocket.Dialer
	logger     *zap.Logger

	mu      sync.Mutex
	subs    map[string]*streamSubscription
	session *streamSession
	started bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type streamSubscription struct {
	id      string
	payload json.RawMessage
	handler Handler
	ended   EndHandler
}

// streamSession is one established connection
type streamSession struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// NewStreamClient creates a stream client. No connection is made until the
// first Subscribe.
func NewStreamClient(cfg *StreamConfig) (*StreamClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	minBackoff := cfg.MinBackoff
	if minBackoff <= 0 {
		minBackoff = 500 * time.Millisecond
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	d := *dialer
	d.Subprotocols = []string{Subprotocol}

	ctx, cancel := context.WithCancel(context.Background())
	return &StreamClient{
		endpoint:   cfg.Endpoint,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
		dialer:     &d,
		logger:     logger.With(zap.String("endpoint", cfg.Endpoint)),
		subs:       make(map[string]*streamSubscription),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Endpoint returns the WebSocket URL the client connects to
func (c *StreamClient) Endpoint() string {
	return c.endpoint
}

// Subscribe starts a subscription and returns the function that stops it.
// The stop function is safe to call more than once. ended may be nil.
func (c *StreamClient) Subscribe(req *Request, handler Handler, ended EndHandler) (func(), error) {
	if req.Variables == nil {
		req.Variables = map[string]any{}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode subscription: %w", err)
	}

	sub := &streamSubscription{
		id:      uuid.NewString(),
		payload: payload,
		handler: handler,
		ended:   ended,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrStreamClosed
	}
	c.subs[sub.id] = sub
	if !c.started {
		c.started = true
		c.wg.Add(1)
		go c.run()
	}
	session := c.session
	c.mu.Unlock()

	if session != nil {
		c.write(session, wsMessage{ID: sub.id, Type: msgSubscribe, Payload: sub.payload})
	}

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(sub.id) })
	}, nil
}

func (c *StreamClient) unsubscribe(id string) {
	c.mu.Lock()
	_, ok := c.subs[id]
	delete(c.subs, id)
	session := c.session
	c.mu.Unlock()

	if ok && session != nil {
		c.write(session, wsMessage{ID: id, Type: msgComplete})
	}
}

// Close stops every subscription and closes the connection
func (c *StreamClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.subs = make(map[string]*streamSubscription)
	session := c.session
	c.mu.Unlock()

	c.cancel()
	if session != nil {
		session.conn.Close()
	}
	c.wg.Wait()
	return nil
}

// run keeps a session alive until the client is closed
func (c *StreamClient) run() {
	defer c.wg.Done()

	backoff := c.minBackoff
	for {
		acked, err := c.runSession()
		if c.ctx.Err() != nil {
			return
		}
		if acked {
			backoff = c.minBackoff
		}
		c.logger.Warn("subscription connection lost, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// runSession dials, performs the handshake, resubscribes and reads until the
// connection fails. acked reports whether the handshake completed.
func (c *StreamClient) runSession() (acked bool, err error) {
	conn, _, err := c.dialer.DialContext(c.ctx, c.endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(c.ctx, func() { conn.Close() })
	defer stop()

	if err := c.handshake(conn); err != nil {
		return false, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return true, ErrStreamClosed
	}
	pending := make([]*streamSubscription, 0, len(c.subs))
	for _, sub := range c.subs {
		pending = append(pending, sub)
	}
	// room for every resubscribe on top of the regular buffer
	session := &streamSession{
		conn: conn,
		send: make(chan []byte, len(pending)+sendBuffer),
		done: make(chan struct{}),
	}
	c.session = session
	c.mu.Unlock()
	go c.writePump(session)

	c.logger.Info("subscription connection established", zap.Int("subscriptions", len(pending)))
	for _, sub := range pending {
		c.write(session, wsMessage{ID: sub.id, Type: msgSubscribe, Payload: sub.payload})
	}

	err = c.readPump(session)

	c.mu.Lock()
	if c.session == session {
		c.session = nil
	}
	c.mu.Unlock()
	close(session.done)

	return true, err
}

func (c *StreamClient) handshake(conn *websocket.Conn) error {
	initMsg, _ := json.Marshal(wsMessage{Type: msgConnectionInit, Payload: json.RawMessage("{}")})
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, initMsg); err != nil {
		return fmt.Errorf("connection init failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(ackWait))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("connection ack failed: %w", err)
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("malformed handshake message: %w", err)
		}
		switch msg.Type {
		case msgConnectionAck:
			return nil
		case msgPing:
			pong, _ := json.Marshal(wsMessage{Type: msgPong})
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, pong); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unexpected handshake message %q", msg.Type)
		}
	}
}

// readPump reads messages from the connection until it fails
func (c *StreamClient) readPump(session *streamSession) error {
	conn := session.conn
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleMessage(session, data)
	}
}

// writePump writes queued messages and keeps the connection alive
func (c *StreamClient) writePump(session *streamSession) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	conn := session.conn
	for {
		select {
		case <-session.done:
			return

		case message := <-session.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				conn.Close()
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (c *StreamClient) handleMessage(session *streamSession, data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("malformed subscription message", zap.Error(err))
		return
	}

	switch msg.Type {
	case msgNext:
		c.mu.Lock()
		sub, ok := c.subs[msg.ID]
		c.mu.Unlock()
		if !ok {
			return
		}

		var payload nextPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.logger.Warn("malformed subscription result", zap.String("id", msg.ID), zap.Error(err))
			return
		}
		if hasErrors(payload.Errors) {
			c.logger.Warn("subscription result carries errors",
				zap.String("id", msg.ID),
				zap.ByteString("errors", payload.Errors),
			)
		}
		if len(payload.Data) > 0 && string(payload.Data) != "null" {
			sub.handler(payload.Data)
		}

	case msgError:
		c.logger.Warn("subscription rejected by node",
			zap.String("id", msg.ID),
			zap.ByteString("errors", msg.Payload),
		)
		c.end(msg.ID, fmt.Errorf("%w: %s", ErrSubscriptionEnded, msg.Payload))

	case msgComplete:
		c.end(msg.ID, ErrSubscriptionEnded)

	case msgPing:
		c.write(session, wsMessage{Type: msgPong})

	case msgPong:

	default:
		c.logger.Debug("unknown message type", zap.String("type", msg.Type))
	}
}

// end forgets a subscription the node ended and tells its owner
func (c *StreamClient) end(id string, err error) {
	c.mu.Lock()
	sub, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()

	if ok && sub.ended != nil {
		sub.ended(err)
	}
}

// write queues msg on session. A full buffer fails the session, so the
// reconnect re-sends every live subscription.
func (c *StreamClient) write(session *streamSession, msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message", zap.Error(err))
		return
	}

	select {
	case session.send <- data:
	case <-session.done:
	default:
		c.logger.Warn("send buffer full, restarting session", zap.String("type", msg.Type))
		session.conn.Close()
	}
}

// Subscriptions returns the number of live subscriptions
func (c *StreamClient) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}
