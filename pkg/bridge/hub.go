// Package bridge connects pages and popup surfaces to the dispatch pipeline
// over WebSocket and plain HTTP.
package bridge

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/0xmhha/checko-go/internal/constants"
	"github.com/0xmhha/checko-go/internal/logger"
	"github.com/0xmhha/checko-go/pkg/rpc"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxFrameSize    = 1 << 20
	peerSendBuffer  = 256
	maxRequestBytes = 1 << 20
)

var (
	// ErrNoUI is returned by Send when no popup surface is connected
	ErrNoUI = errors.New("no ui connected")

	// ErrPeerGone is returned by Send when the surface disconnects before replying
	ErrPeerGone = errors.New("peer disconnected")

	// ErrHubClosed is returned once the hub is closed
	ErrHubClosed = errors.New("bridge closed")

	// ErrHandlerBound is returned when binding a second data handler
	ErrHandlerBound = errors.New("data handler already bound")

	// ErrUIForbidden is returned to UI handshakes without an allowed origin or token
	ErrUIForbidden = errors.New("ui peer not allowed")

	// ErrMissingOrigin is returned to page requests without an Origin header
	ErrMissingOrigin = errors.New("missing origin header")
)

// UITokenHeader carries the shared UI token; the token query parameter is
// accepted too since browsers cannot set headers on a WebSocket handshake
const UITokenHeader = "X-Checko-UI-Token"

// DataHandler answers a request sent by a page
type DataHandler func(ctx context.Context, req *rpc.Request) *rpc.Response

// UIObserver is told about popup surfaces coming and going
type UIObserver interface {
	UIConnected()
	UIDisconnected()
	PopupClosed(requestID int64)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Pages connect from arbitrary origins and their requests are stamped
	// with the handshake origin. UI peers are checked before upgrading.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub tracks connected peers, answers page requests through the bound
// handler and correlates UI replies with the frames they answer
type Hub struct {
	logger    *zap.Logger
	metrics   *Metrics
	keepalive time.Duration

	mu       sync.RWMutex
	peers    map[*peer]struct{}
	seq      uint64
	handler  DataHandler
	observer UIObserver

	uiOrigins map[string]struct{}
	uiToken   string

	pendingMu sync.Mutex
	pending   map[string]chan json.RawMessage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithKeepalive sets how often every peer receives a ping frame
func WithKeepalive(d time.Duration) HubOption {
	return func(h *Hub) { h.keepalive = d }
}

// WithHubMetrics enables Prometheus metrics
func WithHubMetrics(m *Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// WithUIAuth sets the origins and shared token accepted from popup surfaces.
// A hub without either rejects every UI peer.
func WithUIAuth(origins []string, token string) HubOption {
	return func(h *Hub) {
		h.uiOrigins = make(map[string]struct{}, len(origins))
		for _, o := range origins {
			if o != "" && o != "*" {
				h.uiOrigins[o] = struct{}{}
			}
		}
		h.uiToken = token
	}
}

// NewHub creates a hub
func NewHub(log *zap.Logger, opts ...HubOption) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		logger:    logger.WithComponent(logger.OrNop(log), "bridge"),
		keepalive: constants.DefaultKeepaliveInterval,
		peers:     make(map[*peer]struct{}),
		pending:   make(map[string]chan json.RawMessage),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve binds the handler of inbound data frames. It can be bound once.
func (h *Hub) Serve(handler DataHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handler != nil {
		return ErrHandlerBound
	}
	h.handler = handler
	return nil
}

// SetObserver sets the observer of popup surfaces
func (h *Hub) SetObserver(o UIObserver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observer = o
}

// Run sends keepalive frames until ctx is done
func (h *Hub) Run(ctx context.Context) {
	if h.keepalive <= 0 {
		return
	}
	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.broadcast(constants.ChannelPing, nil, func(*peer) bool { return true })
		}
	}
}

// Send delivers a message to the most recently connected popup surface and
// waits for its reply
func (h *Hub) Send(ctx context.Context, channel string, payload any) (json.RawMessage, error) {
	ui := h.latestUI()
	if ui == nil {
		return nil, ErrNoUI
	}

	id := uuid.NewString()
	data, err := encodeFrame(channel, id, payload)
	if err != nil {
		return nil, err
	}

	reply := make(chan json.RawMessage, 1)
	h.pendingMu.Lock()
	h.pending[id] = reply
	h.pendingMu.Unlock()
	defer func() {
		h.pendingMu.Lock()
		delete(h.pending, id)
		h.pendingMu.Unlock()
	}()

	start := time.Now()
	if !ui.enqueue(channel, data) {
		return nil, ErrPeerGone
	}

	select {
	case raw := <-reply:
		h.metrics.observeSend(channel, time.Since(start))
		return raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-ui.done:
		return nil, ErrPeerGone
	case <-h.ctx.Done():
		return nil, ErrHubClosed
	}
}

// Broadcast pushes a message to every connected page without waiting
func (h *Hub) Broadcast(channel string, payload any) {
	h.broadcast(channel, payload, func(p *peer) bool { return p.role == RolePage })
}

func (h *Hub) broadcast(channel string, payload any, match func(*peer) bool) {
	data, err := encodeFrame(channel, "", payload)
	if err != nil {
		h.logger.Error("failed to encode broadcast", zap.String("channel", channel), zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		if match(p) {
			targets = append(targets, p)
		}
	}
	h.mu.RUnlock()

	for _, p := range targets {
		p.enqueue(channel, data)
	}
}

// ServePage upgrades a page connection
func (h *Hub) ServePage(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, RolePage)
}

// ServeUI upgrades a popup surface connection
func (h *Hub) ServeUI(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, RoleUI)
}

func (h *Hub) serve(w http.ResponseWriter, r *http.Request, role Role) {
	if h.ctx.Err() != nil {
		http.Error(w, ErrHubClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	origin := r.Header.Get("Origin")
	switch {
	case role == RoleUI && !h.allowUI(r):
		h.logger.Warn("rejected ui peer",
			zap.String("origin", origin),
			zap.String("remote_addr", r.RemoteAddr),
		)
		http.Error(w, ErrUIForbidden.Error(), http.StatusForbidden)
		return
	case role == RolePage && origin == "":
		http.Error(w, ErrMissingOrigin.Error(), http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", zap.String("role", string(role)), zap.Error(err))
		return
	}

	p := &peer{
		hub:    h,
		role:   role,
		origin: origin,
		conn:   conn,
		send:   make(chan []byte, peerSendBuffer),
		done:   make(chan struct{}),
	}
	h.register(p)

	h.wg.Add(2)
	go p.writePump()
	go p.readPump()

	h.logger.Info("peer connected",
		zap.String("role", string(role)),
		zap.String("origin", origin),
		zap.String("remote_addr", r.RemoteAddr),
	)
}

// allowUI accepts a handshake carrying the shared token or an allowed origin
func (h *Hub) allowUI(r *http.Request) bool {
	if h.uiToken != "" {
		token := r.Header.Get(UITokenHeader)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.uiToken)) == 1 {
			return true
		}
	}
	_, ok := h.uiOrigins[r.Header.Get("Origin")]
	return ok
}

// ServeRPC answers a single request posted as JSON
func (h *Hub) ServeRPC(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	handler := h.handler
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if handler == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(rpc.NewError(errors.New("bridge not ready")))
		return
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(rpc.NewError(ErrMissingOrigin))
		return
	}

	var resp *rpc.Response
	body, err := readBody(w, r)
	if err == nil {
		var req *rpc.Request
		if req, err = rpc.ParseRequest(body); err == nil {
			req.Origin = origin
			resp = handler(r.Context(), req)
		}
	}
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		resp = rpc.NewError(err)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Hub) register(p *peer) {
	h.mu.Lock()
	h.seq++
	p.seq = h.seq
	h.peers[p] = struct{}{}
	observer := h.observer
	h.mu.Unlock()

	h.metrics.peerConnected(p.role)
	if p.role == RoleUI && observer != nil {
		observer.UIConnected()
	}
}

func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	_, ok := h.peers[p]
	delete(h.peers, p)
	observer := h.observer
	h.mu.Unlock()
	if !ok {
		return
	}

	close(p.done)
	p.conn.Close()
	h.metrics.peerDisconnected(p.role)
	h.logger.Info("peer disconnected", zap.String("role", string(p.role)))

	if p.role == RoleUI && observer != nil {
		observer.UIDisconnected()
	}
}

// latestUI returns the popup surface that connected last
func (h *Hub) latestUI() *peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var latest *peer
	for p := range h.peers {
		if p.role == RoleUI && (latest == nil || p.seq > latest.seq) {
			latest = p
		}
	}
	return latest
}

// UIConnected reports whether a popup surface is connected
func (h *Hub) UIConnected() bool {
	return h.latestUI() != nil
}

// PeerCount returns the number of connected peers of a role
func (h *Hub) PeerCount(role Role) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for p := range h.peers {
		if p.role == role {
			n++
		}
	}
	return n
}

// Close disconnects every peer and fails pending sends
func (h *Hub) Close() {
	h.cancel()

	h.mu.RLock()
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		p.conn.Close()
	}
	h.wg.Wait()
	h.logger.Info("bridge closed")
}

func (h *Hub) handleFrame(p *peer, f *Frame) {
	h.metrics.frameReceived(eventLabel(f.Event))

	switch f.Event {
	case constants.ChannelReply:
		h.pendingMu.Lock()
		reply, ok := h.pending[f.ID]
		h.pendingMu.Unlock()
		if !ok {
			h.logger.Debug("reply without pending send", zap.String("id", f.ID))
			return
		}
		select {
		case reply <- f.Payload:
		default:
		}

	case constants.ChannelData:
		h.dispatch(p, f)

	case constants.ChannelPopupClosed:
		if p.role != RoleUI {
			return
		}
		var closed rpc.PopupClosed
		if err := json.Unmarshal(f.Payload, &closed); err != nil {
			h.logger.Warn("malformed popup.closed", zap.Error(err))
			return
		}
		h.mu.RLock()
		observer := h.observer
		h.mu.RUnlock()
		if observer != nil {
			observer.PopupClosed(closed.RequestID)
		}

	case constants.ChannelPing:

	default:
		h.logger.Debug("unknown frame", zap.String("event", f.Event), zap.String("role", string(p.role)))
	}
}

func eventLabel(event string) string {
	switch event {
	case constants.ChannelReply, constants.ChannelData, constants.ChannelPopupClosed, constants.ChannelPing:
		return event
	}
	return "unknown"
}

// dispatch answers a data frame on its own goroutine so a request waiting
// for confirmation does not hold up the peer
func (h *Hub) dispatch(p *peer, f *Frame) {
	h.mu.RLock()
	handler := h.handler
	h.mu.RUnlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithCancel(h.ctx)
		defer cancel()

		var resp *rpc.Response
		req, err := rpc.ParseRequest(f.Payload)
		switch {
		case err != nil:
			resp = rpc.NewError(err)
		case handler == nil:
			resp = rpc.NewError(errors.New("bridge not ready"))
		default:
			req.Origin = p.origin
			resp = handler(ctx, req)
		}

		data, err := encodeFrame(constants.ChannelReply, f.ID, resp)
		if err != nil {
			h.logger.Error("failed to encode reply", zap.Error(err))
			return
		}
		p.enqueue(constants.ChannelReply, data)
	}()
}

// peer is one WebSocket connection
type peer struct {
	hub  *Hub
	role Role
	seq  uint64
	// origin is the handshake Origin header, the only origin its requests carry
	origin string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
}

// enqueue queues a frame; it is dropped when the peer is gone or too slow
func (p *peer) enqueue(event string, data []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	select {
	case p.send <- data:
		p.hub.metrics.frameSent(event)
		return true
	case <-p.done:
		return false
	default:
		p.hub.metrics.frameDropped()
		p.hub.logger.Warn("peer buffer full, dropping frame",
			zap.String("role", string(p.role)),
			zap.String("event", event),
		)
		return false
	}
}

func (p *peer) readPump() {
	defer p.hub.wg.Done()
	defer p.hub.unregister(p)

	p.conn.SetReadLimit(maxFrameSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.hub.logger.Debug("peer read failed", zap.String("role", string(p.role)), zap.Error(err))
			}
			return
		}
		p.conn.SetReadDeadline(time.Now().Add(pongWait))

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			p.hub.logger.Warn("malformed frame", zap.String("role", string(p.role)), zap.Error(err))
			continue
		}
		p.hub.handleFrame(p, &f)
	}
}

func (p *peer) writePump() {
	defer p.hub.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				p.conn.Close()
				return
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.conn.Close()
				return
			}
		}
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", rpc.ErrInvalidParams, err)
	}
	return raw, nil
}
