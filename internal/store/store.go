package store

import (
	"sort"
	"sync"
	"time"
)

// Message is a single chat message kept in the rolling window.
type Message struct {
	ID        string
	Content   string
	AuthorTag string
	Timestamp time.Time
}

// ThreadMeta describes a forum thread known to the cache. Conversational
// threads under text channels carry no metadata and never appear here.
type ThreadMeta struct {
	ID        string
	Title     string
	ParentID  string
	CreatedBy string
	CreatedAt time.Time
}

// channelLog holds one channel's messages in ascending timestamp order.
// Each log has its own lock so live events and backfill for one channel
// never contend with writes to unrelated channels.
type channelLog struct {
	mu   sync.Mutex
	msgs []Message
	seen map[string]struct{}
}

// Store is the per-guild time-windowed message cache. Messages older than
// the retention window are dropped by PruneExpired; between sweeps the
// window invariant is allowed to lag by up to one sweep interval.
type Store struct {
	window time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	logs    map[string]*channelLog
	threads map[string]ThreadMeta
}

// New creates an empty store with the given retention window.
func New(window time.Duration) *Store {
	return &Store{
		window:  window,
		now:     time.Now,
		logs:    make(map[string]*channelLog),
		threads: make(map[string]ThreadMeta),
	}
}

// log returns the channel's log, creating it if needed.
func (s *Store) log(channelID string) *channelLog {
	s.mu.RLock()
	l, ok := s.logs[channelID]
	s.mu.RUnlock()
	if ok {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.logs[channelID]; ok {
		return l
	}
	l = &channelLog{seen: make(map[string]struct{})}
	s.logs[channelID] = l
	return l
}

// insert places m at its timestamp position. Re-delivery of an already
// stored id replaces the entry in place so duplicates never accumulate.
func (l *channelLog) insert(m Message) {
	if _, ok := l.seen[m.ID]; ok {
		for i := range l.msgs {
			if l.msgs[i].ID == m.ID {
				l.msgs[i] = m
				return
			}
		}
	}

	i := sort.Search(len(l.msgs), func(i int) bool {
		return l.msgs[i].Timestamp.After(m.Timestamp)
	})
	l.msgs = append(l.msgs, Message{})
	copy(l.msgs[i+1:], l.msgs[i:])
	l.msgs[i] = m
	l.seen[m.ID] = struct{}{}
}

// AddMessage upserts a single message into the channel's log.
func (s *Store) AddMessage(channelID string, m Message) {
	l := s.log(channelID)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.insert(m)
}

// AddMessages upserts a backfill batch under one lock acquisition, so
// readers never observe a partially applied batch.
func (s *Store) AddMessages(channelID string, batch []Message) {
	if len(batch) == 0 {
		return
	}
	l := s.log(channelID)
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range batch {
		l.insert(m)
	}
}

// MessagesForChannel returns the channel's messages oldest to newest. An
// unknown channel yields an empty slice, never an error.
func (s *Store) MessagesForChannel(channelID string) []Message {
	s.mu.RLock()
	l, ok := s.logs[channelID]
	s.mu.RUnlock()
	if !ok {
		return []Message{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// AddForumThread inserts or replaces the thread's metadata.
func (s *Store) AddForumThread(meta ThreadMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[meta.ID] = meta
}

// ForumThreads returns a snapshot of all known forum thread metadata.
func (s *Store) ForumThreads() []ThreadMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ThreadMeta, 0, len(s.threads))
	for _, meta := range s.threads {
		out = append(out, meta)
	}
	return out
}

// RemoveThread drops the thread's messages and metadata. Removing an
// unknown id is a no-op.
func (s *Store) RemoveThread(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, threadID)
	delete(s.threads, threadID)
}

// PruneExpired drops every message older than the retention window and
// reports how many were dropped.
func (s *Store) PruneExpired() int {
	cutoff := s.now().Add(-s.window)

	s.mu.RLock()
	logs := make([]*channelLog, 0, len(s.logs))
	for _, l := range s.logs {
		logs = append(logs, l)
	}
	s.mu.RUnlock()

	dropped := 0
	for _, l := range logs {
		l.mu.Lock()
		i := sort.Search(len(l.msgs), func(i int) bool {
			return !l.msgs[i].Timestamp.Before(cutoff)
		})
		if i > 0 {
			for _, m := range l.msgs[:i] {
				delete(l.seen, m.ID)
			}
			l.msgs = append(l.msgs[:0], l.msgs[i:]...)
			dropped += i
		}
		l.mu.Unlock()
	}
	return dropped
}
