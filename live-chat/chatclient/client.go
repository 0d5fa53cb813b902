// Package chatclient talks to a live-chat server the way the browser widget
// does: a one-shot history fetch, a persistent websocket for live messages,
// and an author name mirrored into a small key-value storage.
package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	closeWait = time.Second
)

// Client is safe for concurrent use. Once its socket closes it cannot be
// reconnected; create a new Client instead.
type Client struct {
	cfg        config
	wsURL      string
	historyURL string

	msgs      chan Message
	done      chan struct{}
	closing   chan struct{}
	delivered chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	conn   *websocket.Conn
	err    error
	closed bool

	// pending holds received messages not yet handed to msgs, so reading the
	// socket never waits on the consumer.
	pendingMu sync.Mutex
	pending   []Message
	notify    chan struct{}

	writeMu sync.Mutex
}

// New builds a client for host, e.g. "https://chat.example.com:8000".
// http and https hosts map to ws and wss sockets respectively.
func New(host string, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.storage == nil {
		cfg.storage = NewMemoryStorage()
	}

	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("chatclient: parse host: %w", err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("chatclient: host %q has no authority", host)
	}

	wsURL, historyURL := *base, *base
	switch base.Scheme {
	case "http", "ws":
		wsURL.Scheme, historyURL.Scheme = "ws", "http"
	case "https", "wss":
		wsURL.Scheme, historyURL.Scheme = "wss", "https"
	default:
		return nil, fmt.Errorf("chatclient: unsupported scheme %q", base.Scheme)
	}
	wsURL.Path, historyURL.Path = "/ws", "/history"
	wsURL.RawQuery, historyURL.RawQuery = "", ""
	wsURL.Fragment, historyURL.Fragment = "", ""

	return &Client{
		cfg:        cfg,
		wsURL:      wsURL.String(),
		historyURL: historyURL.String(),
		msgs:       make(chan Message, cfg.buffer),
		done:       make(chan struct{}),
		closing:    make(chan struct{}),
		delivered:  make(chan struct{}),
		notify:     make(chan struct{}, 1),
	}, nil
}

// SocketURL is the websocket endpoint derived from the host.
func (c *Client) SocketURL() string { return c.wsURL }

// HistoryURL is the history endpoint derived from the host.
func (c *Client) HistoryURL() string { return c.historyURL }

// History fetches the messages the server currently retains, oldest first.
func (c *Client) History(ctx context.Context) ([]Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.historyURL, nil)
	if err != nil {
		return nil, fmt.Errorf("chatclient: new history request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.cfg.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chatclient: fetch history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: c.historyURL, StatusCode: resp.StatusCode}
	}
	var msgs []Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("chatclient: decode history: %w", err)
	}
	return msgs, nil
}

// Connect opens the socket and starts delivering live messages on Messages.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closing:
		return ErrClosed
	default:
	}
	if c.conn != nil {
		return ErrAlreadyConnected
	}
	conn, resp, err := c.cfg.dialer.DialContext(ctx, c.wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("chatclient: dial %s: %w", c.wsURL, err)
	}
	c.conn = conn
	go c.readLoop(conn)
	go c.deliverLoop()
	return nil
}

// readLoop reads frames until the socket fails. It records the cause and
// closes done as soon as that happens, whether or not anyone consumes Messages.
func (c *Client) readLoop(conn *websocket.Conn) {
	var cause error
	defer func() {
		c.mu.Lock()
		select {
		case <-c.closing:
			c.err = ErrClosed
		default:
			c.err = cause
		}
		c.closed = true
		c.mu.Unlock()
		_ = conn.Close()
		close(c.done)
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			cause = err
			return
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			// Not an envelope; the socket itself is still fine.
			continue
		}
		c.pendingMu.Lock()
		c.pending = append(c.pending, m)
		c.pendingMu.Unlock()
		select {
		case c.notify <- struct{}{}:
		default:
		}
	}
}

func (c *Client) nextPending() (Message, bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if len(c.pending) == 0 {
		return Message{}, false
	}
	m := c.pending[0]
	c.pending[0] = Message{}
	c.pending = c.pending[1:]
	return m, true
}

// deliverLoop hands received messages to msgs in arrival order. It closes
// msgs once the socket has closed and everything received was delivered, or
// at once on Close.
func (c *Client) deliverLoop() {
	defer close(c.delivered)
	defer close(c.msgs)
	for {
		if m, ok := c.nextPending(); ok {
			select {
			case c.msgs <- m:
			case <-c.closing:
				return
			}
			continue
		}
		select {
		case <-c.notify:
		case <-c.done:
			// The reader has stopped; drain what it left behind.
			if m, ok := c.nextPending(); ok {
				select {
				case c.msgs <- m:
				case <-c.closing:
					return
				}
				continue
			}
			return
		case <-c.closing:
			return
		}
	}
}

// Messages delivers live messages in arrival order. After the socket closes
// it yields whatever was already received and is then closed; after Close
// it is closed without draining.
func (c *Client) Messages() <-chan Message { return c.msgs }

// Done is closed once the socket has closed. After that, Send fails.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the socket closed: ErrClosed after Close, otherwise the
// read error (a *websocket.CloseError when the server closed it). It is nil
// while the socket is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Author returns the stored author name, or "" if none is stored.
func (c *Client) Author() string {
	author, err := c.cfg.storage.Get(AuthorKey)
	if err != nil {
		return ""
	}
	return author
}

// SetAuthor stores the author name used by later Sends.
func (c *Client) SetAuthor(name string) error {
	return c.cfg.storage.Set(AuthorKey, name)
}

// Send writes {author, message} to the socket. After the socket has closed
// every Send fails with ErrClosed.
func (c *Client) Send(message string) error {
	select {
	case <-c.done:
		return ErrClosed
	case <-c.closing:
		return ErrClosed
	default:
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(outbound{Author: c.Author(), Message: message}); err != nil {
		return fmt.Errorf("chatclient: send: %w", err)
	}
	return nil
}

// Close sends a normal close frame and waits for the receive loop to exit.
// On a client that never connected it just marks the client closed: Done
// and Messages close and later calls fail with ErrClosed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closing) })

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		if !c.closed {
			c.closed = true
			c.err = ErrClosed
			close(c.done)
			close(c.msgs)
			close(c.delivered)
		}
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()

	select {
	case <-c.done:
	case <-time.After(closeWait):
		// The server did not answer the close frame; drop the connection.
		_ = conn.Close()
		<-c.done
	}
	<-c.delivered
	return nil
}
