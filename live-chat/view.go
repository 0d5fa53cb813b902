package main

import (
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

//go:embed static
var staticFS embed.FS

//go:embed templates/index.html
var templateFS embed.FS

var indexTmpl = template.Must(template.ParseFS(templateFS, "templates/index.html"))

var upgrader = websocket.Upgrader{
	CheckOrigin:      func(r *http.Request) bool { return true },
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	HandshakeTimeout: 10 * time.Second,
}

// NewHandler builds the chat HTTP router (widget page, static assets, history, websocket).
func NewHandler(name string, h *hub) http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		// The embedded tree always has a static directory.
		panic(err)
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) { serveIndex(w, r, name) })
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(sub))))
	r.Get("/history", func(w http.ResponseWriter, r *http.Request) { serveHistory(w, r, h) })
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) { handleWS(w, r, h) })
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func serveIndex(w http.ResponseWriter, _ *http.Request, name string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, struct{ Name string }{Name: name}); err != nil {
		log.Debug().Err(err).Msg("[chat] render index")
	}
}

func serveHistory(w http.ResponseWriter, r *http.Request, h *hub) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	historyRequests.Inc()

	msgs := h.history(limit)
	if msgs == nil {
		msgs = []ChatMessage{}
	}
	// The widget may be embedded on another origin.
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
	if err := encodeJSON(w, msgs); err != nil {
		log.Debug().Err(err).Msg("[chat] write history")
	}
}

func handleWS(w http.ResponseWriter, r *http.Request, h *hub) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("[chat] websocket upgrade")
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	s := newSubscriber(conn)
	h.subscribe(s)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		closeCode, closeReason := websocket.CloseNormalClosure, ""
		defer func() {
			h.unsubscribe(s)
			s.close(closeCode, closeReason)
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					log.Debug().Err(err).Str("sub", s.id).Msg("[chat] read")
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(readWait))

			var in inboundMessage
			if err := json.Unmarshal(data, &in); err != nil {
				messagesRejected.WithLabelValues(rejectDecode).Inc()
				var syntaxErr *json.SyntaxError
				if errors.As(err, &syntaxErr) {
					log.Debug().Str("sub", s.id).Int64("offset", syntaxErr.Offset).Msg("[chat] malformed frame")
				} else {
					log.Debug().Err(err).Str("sub", s.id).Msg("[chat] malformed frame")
				}
				closeCode, closeReason = websocket.CloseUnsupportedData, "malformed message"
				return
			}
			m, ok := newChatMessage(in, time.Now())
			if !ok {
				messagesRejected.WithLabelValues(rejectEmpty).Inc()
				continue
			}
			h.publish(m)
		}
	}()
}
