package main

import (
	"encoding/json"
	"io"
	"time"

	"github.com/gorilla/websocket"
)

// ChatMessage is the envelope stored in history and fanned out to subscribers.
type ChatMessage struct {
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// inboundMessage is what the widget sends. Any timestamp it carries is ignored.
type inboundMessage struct {
	Author  string `json:"author"`
	Message string `json:"message"`
}

// newChatMessage sanitizes an inbound envelope and stamps it with now.
// It reports false when nothing is left of the message text.
func newChatMessage(in inboundMessage, now time.Time) (ChatMessage, bool) {
	text := sanitizeMessage(in.Message)
	if text == "" {
		return ChatMessage{}, false
	}
	return ChatMessage{
		Author:    sanitizeAuthor(in.Author),
		Message:   text,
		Timestamp: now.UTC(),
	}, true
}

// encodeJSON writes v without HTML escaping so <, > and & reach the widget verbatim.
func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// writeJSON writes a JSON-encoded message to the websocket connection.
// Unlike gorilla's default WriteJSON, this disables HTML escaping.
func writeJSON(conn *websocket.Conn, v any) error {
	w, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if err := encodeJSON(w, v); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
