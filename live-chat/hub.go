package main

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	readWait   = 60 * time.Second
	pingPeriod = 20 * time.Second

	// sendQueueSize bounds how far a subscriber may fall behind before it is dropped.
	sendQueueSize = 64
)

// subscriber is one live websocket. Writes to conn are serialized by mu;
// messages reach conn only through queue, drained by the hub's writePump.
type subscriber struct {
	id    string
	conn  *websocket.Conn
	mu    sync.Mutex
	queue chan ChatMessage
	quit  chan struct{}
	once  sync.Once
}

func newSubscriber(conn *websocket.Conn) *subscriber {
	return &subscriber{
		id:    uuid.NewString(),
		conn:  conn,
		queue: make(chan ChatMessage, sendQueueSize),
		quit:  make(chan struct{}),
	}
}

func (s *subscriber) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return writeJSON(s.conn, v)
}

func (s *subscriber) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *subscriber) close(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = s.conn.Close()
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.quit) })
}

// hub keeps chat history and fans new messages out to every subscriber.
type hub struct {
	mu       sync.RWMutex
	messages []ChatMessage
	limit    int
	subs     []*subscriber
	store    *messageStore
	wg       sync.WaitGroup
}

// newHub returns a hub retaining at most limit messages in memory (0 = unbounded).
func newHub(limit int) *hub {
	return &hub{
		limit:    max(limit, 0),
		messages: make([]ChatMessage, 0, 64),
	}
}

// attachStore connects a persistent store to the hub.
func (h *hub) attachStore(s *messageStore) {
	h.mu.Lock()
	h.store = s
	h.mu.Unlock()
}

// bootstrap preloads history into the in-memory buffer.
func (h *hub) bootstrap(msgs []ChatMessage) {
	h.mu.Lock()
	h.messages = append(h.messages, msgs...)
	h.trimLocked()
	h.mu.Unlock()
}

func (h *hub) trimLocked() {
	if h.limit > 0 && len(h.messages) > h.limit {
		h.messages = slices.Clone(h.messages[len(h.messages)-h.limit:])
	}
}

// subscribe registers s and starts its write pump.
func (h *hub) subscribe(s *subscriber) {
	h.mu.Lock()
	h.subs = append(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()
	subscribersGauge.Inc()
	log.Debug().Str("sub", s.id).Int("subscribers", n).Msg("[chat] subscribed")

	h.wg.Add(1)
	go h.writePump(s)
}

// unsubscribe removes s, stops its write pump and reports whether it was
// still subscribed.
func (h *hub) unsubscribe(s *subscriber) bool {
	h.mu.Lock()
	idx := slices.Index(h.subs, s)
	if idx >= 0 {
		h.subs = slices.Delete(h.subs, idx, idx+1)
	}
	n := len(h.subs)
	h.mu.Unlock()
	s.stop()
	if idx < 0 {
		return false
	}
	subscribersGauge.Dec()
	log.Debug().Str("sub", s.id).Int("subscribers", n).Msg("[chat] unsubscribed")
	return true
}

func (h *hub) subscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// writePump writes queued messages and keepalive pings to one subscriber.
// A failed write drops the subscriber.
func (h *hub) writePump(s *subscriber) {
	defer h.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case m := <-s.queue:
			if err := s.send(m); err != nil {
				log.Debug().Err(err).Str("sub", s.id).Msg("[chat] drop subscriber")
				h.drop(s)
				s.close(websocket.CloseGoingAway, "write failed")
				return
			}
		case <-ticker.C:
			if err := s.ping(); err != nil {
				h.drop(s)
				return
			}
		case <-s.quit:
			return
		}
	}
}

func (h *hub) drop(s *subscriber) {
	if h.unsubscribe(s) {
		subscribersDropped.Inc()
	}
}

// publish records m and queues it for every subscriber in subscription
// order. It never waits on a subscriber: one whose queue is full is dropped.
func (h *hub) publish(m ChatMessage) {
	var slow []*subscriber
	h.mu.Lock()
	h.messages = append(h.messages, m)
	h.trimLocked()
	// The sequence is reserved under the lock so the store order matches the
	// in-memory order; the write itself happens outside it.
	store := h.store
	seq := store.Reserve()
	for _, s := range h.subs {
		select {
		case s.queue <- m:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.Unlock()

	messagesPublished.Inc()
	if err := store.Put(seq, m); err != nil {
		log.Warn().Err(err).Msg("[chat] persist message")
	}
	for _, s := range slow {
		log.Debug().Str("sub", s.id).Msg("[chat] drop slow subscriber")
		h.drop(s)
		// The peer is not reading; a close frame would only queue behind the backlog.
		_ = s.conn.Close()
	}
}

// history returns a copy of the retained messages, oldest first.
// A limit <= 0 returns all of them.
func (h *hub) history(limit int) []ChatMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msgs := h.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return slices.Clone(msgs)
}

// closeAll sends a going-away close frame to every subscriber (used during shutdown).
func (h *hub) closeAll() {
	h.mu.RLock()
	subs := slices.Clone(h.subs)
	h.mu.RUnlock()
	for _, s := range subs {
		s.close(websocket.CloseGoingAway, "server shutdown")
	}
}

// wait blocks until all websocket goroutines have finished.
func (h *hub) wait() {
	h.wg.Wait()
}
