package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNode speaks enough graphql-transport-ws to drive the stream client.
// Every subscribe is answered with one next message echoing the variables,
// except queries naming rejected or finished, which get error or complete.
type fakeNode struct {
	server     *httptest.Server
	upgrader   websocket.Upgrader
	subscribes atomic.Int32
	completes  atomic.Int32

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	n := &fakeNode{
		upgrader: websocket.Upgrader{
			Subprotocols: []string{Subprotocol},
			CheckOrigin:  func(r *http.Request) bool { return true },
		},
	}
	n.server = httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(n.server.Close)
	return n
}

func (n *fakeNode) url() string {
	return "ws" + strings.TrimPrefix(n.server.URL, "http")
}

// dropAll closes every live connection from the server side
func (n *fakeNode) dropAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range n.conns {
		c.Close()
	}
	n.conns = nil
}

func (n *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	n.mu.Lock()
	n.conns = append(n.conns, conn)
	n.mu.Unlock()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}

		switch msg.Type {
		case msgConnectionInit:
			conn.WriteJSON(wsMessage{Type: msgConnectionAck})
		case msgSubscribe:
			n.subscribes.Add(1)
			var req Request
			json.Unmarshal(msg.Payload, &req)
			if strings.Contains(req.Query, "rejected") {
				conn.WriteJSON(wsMessage{ID: msg.ID, Type: msgError, Payload: json.RawMessage(`[{"message":"unknown chain"}]`)})
				continue
			}
			if strings.Contains(req.Query, "finished") {
				conn.WriteJSON(wsMessage{ID: msg.ID, Type: msgComplete})
				continue
			}
			vars, _ := json.Marshal(req.Variables)
			payload := `{"data":{"notifications":` + string(vars) + `}}`
			conn.WriteJSON(wsMessage{ID: msg.ID, Type: msgNext, Payload: json.RawMessage(payload)})
		case msgComplete:
			n.completes.Add(1)
		case msgPing:
			conn.WriteJSON(wsMessage{Type: msgPong})
		}
	}
}

type dataSink struct {
	mu   sync.Mutex
	data []json.RawMessage
}

func (s *dataSink) handle(data json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, data)
}

func (s *dataSink) at(i int) json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[i]
}

func (s *dataSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func newTestStream(t *testing.T, endpoint string) *StreamClient {
	t.Helper()
	c, err := NewStreamClient(&StreamConfig{
		Endpoint:   endpoint,
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestStreamSubscribe(t *testing.T) {
	node := newFakeNode(t)
	c := newTestStream(t, node.url())

	var sink dataSink
	stop, err := c.Subscribe(&Request{
		Query:     `subscription notifications($chainId: String!) { notifications(chainId: $chainId) }`,
		Variables: map[string]any{"chainId": "c1"},
	}, sink.handle, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sink.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.JSONEq(t, `{"notifications":{"chainId":"c1"}}`, string(sink.at(0)))
	assert.Equal(t, 1, c.Subscriptions())

	stop()
	stop()
	assert.Equal(t, 0, c.Subscriptions())
	require.Eventually(t, func() bool { return node.completes.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamIsLazy(t *testing.T) {
	node := newFakeNode(t)
	c := newTestStream(t, node.url())

	time.Sleep(50 * time.Millisecond)
	node.mu.Lock()
	conns := len(node.conns)
	node.mu.Unlock()
	assert.Zero(t, conns, "no connection before the first subscription")
	assert.Equal(t, node.url(), c.Endpoint())
}

func TestStreamResubscribesAfterReconnect(t *testing.T) {
	node := newFakeNode(t)
	c := newTestStream(t, node.url())

	var sink dataSink
	_, err := c.Subscribe(&Request{Query: `subscription { notifications(chainId: "a") }`}, sink.handle, nil)
	require.NoError(t, err)
	_, err = c.Subscribe(&Request{Query: `subscription { notifications(chainId: "b") }`}, sink.handle, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sink.len() == 2 }, 2*time.Second, 10*time.Millisecond)

	node.dropAll()

	require.Eventually(t, func() bool { return sink.len() == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(4), node.subscribes.Load())
}

func TestStreamClose(t *testing.T) {
	node := newFakeNode(t)
	c := newTestStream(t, node.url())

	var sink dataSink
	_, err := c.Subscribe(&Request{Query: `subscription { notifications(chainId: "a") }`}, sink.handle, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sink.len() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.Subscribe(&Request{Query: `subscription { x }`}, sink.handle, nil)
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestStreamUnreachableEndpoint(t *testing.T) {
	c := newTestStream(t, "ws://127.0.0.1:1/ws")

	_, err := c.Subscribe(&Request{Query: `subscription { x }`}, func(json.RawMessage) {}, nil)
	require.NoError(t, err, "subscribe does not wait for the connection")

	time.Sleep(50 * time.Millisecond)
	assert.NoError(t, c.Close(), "close stops the reconnect loop")
}

func TestNewStreamClientValidation(t *testing.T) {
	_, err := NewStreamClient(nil)
	assert.Error(t, err)

	_, err = NewStreamClient(&StreamConfig{})
	assert.Error(t, err)
}

func TestStreamNodeEndsSubscription(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantMsg string
	}{
		{name: "error", query: `subscription { rejected }`, wantMsg: "unknown chain"},
		{name: "complete", query: `subscription { finished }`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := newFakeNode(t)
			c := newTestStream(t, node.url())

			ended := make(chan error, 1)
			_, err := c.Subscribe(&Request{Query: tt.query}, func(json.RawMessage) {}, func(err error) { ended <- err })
			require.NoError(t, err)

			select {
			case err := <-ended:
				assert.ErrorIs(t, err, ErrSubscriptionEnded)
				assert.Contains(t, err.Error(), tt.wantMsg)
			case <-time.After(2 * time.Second):
				t.Fatal("end handler not called")
			}
			assert.Zero(t, c.Subscriptions())
		})
	}
}

func TestStreamLocalStopDoesNotCallEndHandler(t *testing.T) {
	node := newFakeNode(t)
	c := newTestStream(t, node.url())

	var sink dataSink
	var ended atomic.Int32
	stop, err := c.Subscribe(&Request{Query: `subscription { x }`}, sink.handle, func(error) { ended.Add(1) })
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sink.len() == 1 }, 2*time.Second, 10*time.Millisecond)

	stop()
	require.NoError(t, c.Close())
	assert.Zero(t, ended.Load())
}

func TestStreamFullBufferFailsSession(t *testing.T) {
	node := newFakeNode(t)
	c := newTestStream(t, node.url())

	conn, _, err := websocket.DefaultDialer.Dial(node.url(), nil)
	require.NoError(t, err)
	defer conn.Close()

	// nothing drains an unbuffered send channel
	session := &streamSession{conn: conn, send: make(chan []byte), done: make(chan struct{})}
	c.write(session, wsMessage{ID: "s1", Type: msgSubscribe, Payload: json.RawMessage(`{}`)})

	assert.Error(t, conn.WriteMessage(websocket.TextMessage, []byte(`{}`)), "connection closed")
}

func TestStreamResubscribesManyAfterReconnect(t *testing.T) {
	node := newFakeNode(t)
	c := newTestStream(t, node.url())

	var sink dataSink
	total := sendBuffer * 2
	for i := 0; i < total; i++ {
		_, err := c.Subscribe(&Request{Query: `subscription { x }`}, sink.handle, nil)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return sink.len() >= total }, 5*time.Second, 10*time.Millisecond)

	before := sink.len()
	node.dropAll()
	require.Eventually(t, func() bool { return sink.len() >= before+total }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, total, c.Subscriptions())
}
