package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fakeServer speaks the chat wire format and records what clients send.
type fakeServer struct {
	*httptest.Server

	history []Message
	status  int

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []outbound
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{status: http.StatusOK}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		if fs.status != http.StatusOK {
			w.WriteHeader(fs.status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(fs.history)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.conns = append(fs.conns, conn)
		fs.mu.Unlock()
		for {
			var in outbound
			if err := conn.ReadJSON(&in); err != nil {
				_ = conn.Close()
				return
			}
			fs.mu.Lock()
			fs.received = append(fs.received, in)
			fs.mu.Unlock()
		}
	})
	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return len(fs.conns) > 0
	}, 2*time.Second, 10*time.Millisecond)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.conns[0]
}

func (fs *fakeServer) receivedMessages() []outbound {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]outbound(nil), fs.received...)
}

func recv(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case m, ok := <-c.Messages():
		require.True(t, ok, "messages channel closed")
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func waitDone(t *testing.T, c *Client) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not observe close")
	}
}

func TestNewDerivesEndpoints(t *testing.T) {
	tests := []struct {
		host    string
		ws      string
		history string
	}{
		{"http://example.com:8000", "ws://example.com:8000/ws", "http://example.com:8000/history"},
		{"https://example.com:8000", "wss://example.com:8000/ws", "https://example.com:8000/history"},
		{"https://example.com/some/page?x=1#frag", "wss://example.com/ws", "https://example.com/history"},
		{"ws://127.0.0.1:9", "ws://127.0.0.1:9/ws", "http://127.0.0.1:9/history"},
		{"wss://chat.local", "wss://chat.local/ws", "https://chat.local/history"},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			c, err := New(tt.host)
			require.NoError(t, err)
			assert.Equal(t, tt.ws, c.SocketURL())
			assert.Equal(t, tt.history, c.HistoryURL())
		})
	}

	for _, bad := range []string{"ftp://example.com", "example.com", "http://", "://x"} {
		_, err := New(bad)
		assert.Error(t, err, bad)
	}
}

func TestHistory(t *testing.T) {
	fs := newFakeServer(t)
	ts := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	fs.history = []Message{
		{Author: "a", Message: "one", Timestamp: ts},
		{Author: "b", Message: "two", Timestamp: ts.Add(time.Second)},
	}

	c, err := New(fs.URL)
	require.NoError(t, err)
	msgs, err := c.History(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fs.history, msgs)
}

func TestHistoryStatusError(t *testing.T) {
	fs := newFakeServer(t)
	fs.status = http.StatusServiceUnavailable

	c, err := New(fs.URL)
	require.NoError(t, err)
	_, err = c.History(context.Background())

	var se *StatusError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, c.HistoryURL(), se.URL)
}

func TestHistoryCanceled(t *testing.T) {
	fs := newFakeServer(t)
	c, err := New(fs.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.History(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSendBeforeConnect(t *testing.T) {
	c, err := New("http://127.0.0.1:1")
	require.NoError(t, err)
	assert.ErrorIs(t, c.Send("hi"), ErrNotConnected)
	assert.NoError(t, c.Err())
}

func TestCloseWithoutConnect(t *testing.T) {
	c, err := New("http://127.0.0.1:1")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	waitDone(t, c)
	_, ok := <-c.Messages()
	assert.False(t, ok)
	assert.ErrorIs(t, c.Err(), ErrClosed)
	assert.ErrorIs(t, c.Send("hi"), ErrClosed)
	assert.ErrorIs(t, c.Connect(context.Background()), ErrClosed)
	assert.NoError(t, c.Close())
}

func TestSendUsesStoredAuthor(t *testing.T) {
	fs := newFakeServer(t)
	store := NewMemoryStorage()
	require.NoError(t, store.Set(AuthorKey, "alice"))

	c, err := New(fs.URL, WithStorage(store))
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()
	assert.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyConnected)

	require.NoError(t, c.Send("hi"))
	require.NoError(t, c.SetAuthor("bob"))
	require.NoError(t, c.Send("again"))

	require.Eventually(t, func() bool { return len(fs.receivedMessages()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []outbound{{Author: "alice", Message: "hi"}, {Author: "bob", Message: "again"}}, fs.receivedMessages())
}

func TestReceiveLiveMessages(t *testing.T) {
	fs := newFakeServer(t)
	c, err := New(fs.URL, WithBuffer(4))
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	server := fs.conn(t)
	ts := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte("garbage")))
	require.NoError(t, server.WriteJSON(Message{Author: "a", Message: "first", Timestamp: ts}))
	require.NoError(t, server.WriteJSON(Message{Author: "b", Message: "second", Timestamp: ts}))

	assert.Equal(t, Message{Author: "a", Message: "first", Timestamp: ts}, recv(t, c))
	assert.Equal(t, Message{Author: "b", Message: "second", Timestamp: ts}, recv(t, c))
	assert.NoError(t, c.Err())
}

func TestServerCloseDisablesSend(t *testing.T) {
	fs := newFakeServer(t)
	c, err := New(fs.URL)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	server := fs.conn(t)
	require.NoError(t, server.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye")))

	waitDone(t, c)
	_, ok := <-c.Messages()
	assert.False(t, ok)

	var ce *websocket.CloseError
	require.True(t, errors.As(c.Err(), &ce), "got %v", c.Err())
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
	assert.ErrorIs(t, c.Send("hello?"), ErrClosed)
}

func TestServerCloseWithUnreadMessages(t *testing.T) {
	fs := newFakeServer(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c, err := New(fs.URL, WithBuffer(0))
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))

	server := fs.conn(t)
	ts := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, server.WriteJSON(Message{Author: "a", Message: "pending", Timestamp: ts}))
	require.NoError(t, server.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye")))
	_ = server.Close()

	// Messages is not drained yet, the close must still be observed.
	waitDone(t, c)
	assert.ErrorIs(t, c.Send("hello?"), ErrClosed)
	var ce *websocket.CloseError
	require.True(t, errors.As(c.Err(), &ce), "got %v", c.Err())
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)

	assert.Equal(t, Message{Author: "a", Message: "pending", Timestamp: ts}, recv(t, c))
	select {
	case _, ok := <-c.Messages():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("messages channel not closed")
	}
	require.NoError(t, c.Close())
}

func TestCloseStopsReceiveLoop(t *testing.T) {
	fs := newFakeServer(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c, err := New(fs.URL, WithBuffer(0))
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))

	server := fs.conn(t)
	// Nobody reads Messages; Close must not wait on delivery.
	require.NoError(t, server.WriteJSON(Message{Author: "a", Message: "unread"}))

	require.NoError(t, c.Close())
	waitDone(t, c)
	assert.ErrorIs(t, c.Err(), ErrClosed)
	assert.ErrorIs(t, c.Send("x"), ErrClosed)
	assert.NoError(t, c.Close())
}

func TestFormat(t *testing.T) {
	m := Message{Author: "alice", Message: "hi there", Timestamp: time.Date(2024, 1, 2, 13, 4, 5, 0, time.UTC)}
	assert.Equal(t, "[13:04:05] alice: hi there\n", Format(m, time.UTC))

	kst := time.FixedZone("KST", 9*3600)
	assert.Equal(t, "[22:04:05] alice: hi there\n", Format(m, kst))
}
