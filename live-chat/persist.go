package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/cockroachdb/pebble/v2"
	"github.com/rs/zerolog/log"
)

// messageStore persists chat history in a PebbleDB key-value store.
// Keys are 8-byte big-endian sequence numbers increasing monotonically.
type messageStore struct {
	db   *pebble.DB
	mu   sync.Mutex
	next uint64
}

func openMessageStore(dir string) (*messageStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	s := &messageStore{db: db}
	// Resume the sequence after the last stored key.
	it, err := db.NewIter(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("new iter: %w", err)
	}
	if it.Last() && len(it.Key()) >= 8 {
		s.next = binary.BigEndian.Uint64(it.Key()[:8]) + 1
	}
	if err := it.Close(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("close iter: %w", err)
	}
	return s, nil
}

func (s *messageStore) Append(m ChatMessage) error {
	return s.Put(s.Reserve(), m)
}

// Reserve hands out the next sequence number. Callers that must keep the
// store in a given order reserve under their own lock and Put outside it.
func (s *messageStore) Reserve() uint64 {
	if s == nil || s.db == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.next
	s.next++
	return seq
}

// Put stores m under a sequence number obtained from Reserve.
func (s *messageStore) Put(seq uint64, m ChatMessage) error {
	if s == nil || s.db == nil {
		return nil
	}
	val, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return s.db.Set(key, val, pebble.Sync)
}

// LoadRecent loads the most recent limit messages, oldest first.
// If limit <= 0 every stored message is returned.
func (s *messageStore) LoadRecent(limit int) ([]ChatMessage, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	it, err := s.db.NewIter(nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	out := make([]ChatMessage, 0, 64)
	// Walk backwards from the newest key so a bounded load stops early.
	for it.Last(); it.Valid(); it.Prev() {
		if limit > 0 && len(out) >= limit {
			break
		}
		var m ChatMessage
		if err := json.Unmarshal(it.Value(), &m); err == nil {
			out = append(out, m)
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (s *messageStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// restoreHistory opens the store under dir, if any, preloads up to limit
// messages into h and attaches the store so new messages are persisted.
// A store that fails to open leaves h in memory-only mode and returns nil.
func restoreHistory(h *hub, dir string, limit int) *messageStore {
	if dir == "" {
		return nil
	}
	store, err := openMessageStore(dir)
	if err != nil {
		log.Warn().Err(err).Msg("[chat] open store failed; running in memory only")
		return nil
	}
	msgs, err := store.LoadRecent(limit)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("[chat] load history failed")
	case len(msgs) > 0:
		h.bootstrap(msgs)
		log.Info().Msgf("[chat] loaded %d recent messages from store", len(msgs))
	}
	h.attachStore(store)
	return store
}
