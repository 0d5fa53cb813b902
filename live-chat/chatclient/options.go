package chatclient

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// Option configures a Client.
type Option func(*config)

type config struct {
	httpClient *http.Client
	dialer     *websocket.Dialer
	storage    Storage
	buffer     int
}

func defaultConfig() config {
	return config{
		httpClient: http.DefaultClient,
		dialer:     websocket.DefaultDialer,
		buffer:     64,
	}
}

// WithHTTPClient sets the client used for the history fetch.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *config) {
		if c != nil {
			cfg.httpClient = c
		}
	}
}

// WithDialer sets the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(cfg *config) {
		if d != nil {
			cfg.dialer = d
		}
	}
}

// WithStorage sets where the author name is kept. Defaults to a MemoryStorage.
func WithStorage(s Storage) Option {
	return func(cfg *config) {
		cfg.storage = s
	}
}

// WithBuffer sets the capacity of the Messages channel.
func WithBuffer(n int) Option {
	return func(cfg *config) {
		if n >= 0 {
			cfg.buffer = n
		}
	}
}
