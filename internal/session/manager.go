package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotReady          = errors.New("no document has been processed for this session")
	ErrDocumentReplaced  = errors.New("document was replaced while the question was being answered")
	ErrSessionIDRequired = errors.New("session id is required")
)

// AnswerFunc answers a question against the document it was bound to.
type AnswerFunc func(ctx context.Context, question string) string

type ChatEntry struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

// DocumentContext is an immutable snapshot of one session's state. Every
// change produces a new value that replaces the old one in a single swap.
type DocumentContext struct {
	SessionID     string
	DocumentName  string
	ExtractedText string
	Answer        AnswerFunc
	History       []ChatEntry
	Generation    uint64
	UpdatedAt     time.Time
}

func (d DocumentContext) Ready() bool {
	return d.Answer != nil
}

type slot struct {
	mu      sync.Mutex
	current atomic.Pointer[DocumentContext]
	lastTS  time.Time
	// lastSeen is the unix nano time of the latest read or write. Idle
	// eviction goes by this, not by UpdatedAt.
	lastSeen atomic.Int64
}

func (s *slot) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

// Manager owns every session's DocumentContext. Reads load the current
// snapshot without locking; writers to the same session are serialised by
// the session's own mutex.
type Manager struct {
	mu    sync.RWMutex
	slots map[string]*slot
	now   func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		slots: make(map[string]*slot),
		now:   time.Now,
	}
}

func (m *Manager) slot(id string) *slot {
	now := m.now()
	m.mu.RLock()
	s, ok := m.slots[id]
	m.mu.RUnlock()
	if ok {
		s.touch(now)
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.slots[id]; ok {
		s.touch(now)
		return s
	}
	s = &slot{}
	s.current.Store(&DocumentContext{SessionID: id, UpdatedAt: now})
	s.touch(now)
	m.slots[id] = s
	return s
}

// GetOrCreate returns the session's current context, creating an empty one
// on first use.
func (m *Manager) GetOrCreate(id string) DocumentContext {
	return *m.slot(id).current.Load()
}

// Snapshot returns the current context without creating one. It counts as
// activity for idle eviction.
func (m *Manager) Snapshot(id string) (DocumentContext, bool) {
	m.mu.RLock()
	s, ok := m.slots[id]
	m.mu.RUnlock()
	if !ok {
		return DocumentContext{}, false
	}
	s.touch(m.now())
	return *s.current.Load(), true
}

// ReplaceOnUpload installs a new document and answer function and clears
// the history in one swap. Readers see the old or the new context, never a
// mix.
func (m *Manager) ReplaceOnUpload(id, text string, answer AnswerFunc, documentName string) DocumentContext {
	s := m.slot(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	next := &DocumentContext{
		SessionID:     id,
		DocumentName:  documentName,
		ExtractedText: text,
		Answer:        answer,
		History:       nil,
		Generation:    prev.Generation + 1,
		UpdatedAt:     m.now(),
	}
	s.current.Store(next)
	return *next
}

// AppendChat records a question and answer against the current document.
func (m *Manager) AppendChat(id, question, answer string) (ChatEntry, error) {
	return m.appendChat(id, 0, false, question, answer)
}

// AppendChatIfCurrent behaves like AppendChat but refuses the append when
// the document has been replaced since generation was observed.
func (m *Manager) AppendChatIfCurrent(id string, generation uint64, question, answer string) (ChatEntry, error) {
	return m.appendChat(id, generation, true, question, answer)
}

func (m *Manager) appendChat(id string, generation uint64, checkGeneration bool, question, answer string) (ChatEntry, error) {
	s := m.slot(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	if !prev.Ready() {
		return ChatEntry{}, ErrNotReady
	}
	if checkGeneration && prev.Generation != generation {
		return ChatEntry{}, ErrDocumentReplaced
	}

	ts := m.now()
	if ts.Before(s.lastTS) {
		ts = s.lastTS
	}
	s.lastTS = ts

	entry := ChatEntry{
		ID:        uuid.NewString(),
		Question:  question,
		Answer:    answer,
		Timestamp: ts,
	}
	history := make([]ChatEntry, len(prev.History), len(prev.History)+1)
	copy(history, prev.History)
	history = append(history, entry)

	next := *prev
	next.History = history
	next.UpdatedAt = ts
	s.current.Store(&next)
	return entry, nil
}

// ClearHistory empties the chat history and keeps the document binding.
func (m *Manager) ClearHistory(id string) {
	s := m.slot(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.current.Load()
	next.History = nil
	next.UpdatedAt = m.now()
	s.current.Store(&next)
}

// History returns a copy of the session's chat history.
func (m *Manager) History(id string) []ChatEntry {
	ctx, ok := m.Snapshot(id)
	if !ok {
		return []ChatEntry{}
	}
	out := make([]ChatEntry, len(ctx.History))
	copy(out, ctx.History)
	return out
}

// Evict drops a session and everything bound to it.
func (m *Manager) Evict(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.slots[id]
	delete(m.slots, id)
	return ok
}

// EvictIdle drops sessions not read or written for longer than ttl and
// returns how many were removed.
func (m *Manager) EvictIdle(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := m.now().Add(-ttl).UnixNano()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.slots {
		if s.lastSeen.Load() < cutoff {
			delete(m.slots, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.slots)
}

// RunJanitor evicts idle sessions every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval, ttl time.Duration, onEvict func(n int)) {
	if interval <= 0 || ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.EvictIdle(ttl); n > 0 && onEvict != nil {
				onEvict(n)
			}
		}
	}
}
