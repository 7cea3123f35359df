// Package sessions tracks transient per-chat runtime state: the current
// main agent session and the bounded message queue behind it.
package sessions

import (
	"sync"
	"time"
)

// Session states.
const (
	StateActive    = "active"
	StateSuspended = "suspended"
	StateCompleted = "completed"
)

// QueueBound is the per-chat limit on waiting messages. Beyond it, inbound
// messages are rejected with a user-visible notice.
const QueueBound = 5

// Session is the live record of one running main-lane agent turn.
type Session struct {
	ChatID    string
	CLI       string
	SessionID string // upstream id, set on the started event
	Model     string
	State     string
	StartedAt time.Time

	// Terminate asks the underlying agent process to stop. Set by the
	// controller when the process is spawned.
	Terminate func()

	// PendingTools tracks tool ids that have started but not ended. Used to
	// detect unexpected exits mid-tool.
	PendingTools map[string]string
}

// QueuedMessage is one waiting inbound message.
type QueuedMessage struct {
	Prompt  string
	Context string
	Source  string // "", "cron", "memory-tool"
	JobID   string
}

// Store holds per-chat sessions and queues behind one mutex.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	queues   map[string][]QueuedMessage

	// resume caches session tokens per chat and CLI. A present chat entry
	// overrides the durable store even when empty: /new installs an empty
	// entry so the next turn starts without resuming while the persisted
	// token survives.
	resume map[string]map[string]string
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		queues:   make(map[string][]QueuedMessage),
		resume:   make(map[string]map[string]string),
	}
}

// ResumeToken returns the cached token for (chat, cli). The second return
// reports whether the chat has a cache entry at all; when false the caller
// should fall back to the durable store.
func (s *Store) ResumeToken(chatID, cli string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.resume[chatID]
	if !ok {
		return "", false
	}
	return m[cli], true
}

// SetResumeToken records the latest child-reported session id.
func (s *Store) SetResumeToken(chatID, cli, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.resume[chatID]
	if !ok {
		m = make(map[string]string)
		s.resume[chatID] = m
	}
	m[cli] = sessionID
}

// ClearResume marks the chat fresh: subsequent turns resume nothing until a
// new session id arrives.
func (s *Store) ClearResume(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resume[chatID] = make(map[string]string)
}

// Get returns the chat's current main session, or nil.
func (s *Store) Get(chatID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[chatID]
}

// Put installs the chat's main session. At most one main session per chat:
// the caller must have dropped or terminated any previous one.
func (s *Store) Put(sess *Session) {
	s.mu.Lock()
	s.sessions[sess.ChatID] = sess
	s.mu.Unlock()
}

// Drop removes the chat's main session and returns it, or nil.
func (s *Store) Drop(chatID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[chatID]
	delete(s.sessions, chatID)
	return sess
}

// Busy reports whether the chat has a live main session.
func (s *Store) Busy(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[chatID]
	return ok && sess.State != StateCompleted
}

// Enqueue appends a message to the chat's queue. Returns false when the
// queue is at its bound.
func (s *Store) Enqueue(chatID string, msg QueuedMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[chatID]
	if len(q) >= QueueBound {
		return false
	}
	s.queues[chatID] = append(q, msg)
	return true
}

// Dequeue pops the oldest queued message for the chat.
func (s *Store) Dequeue(chatID string) (QueuedMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[chatID]
	if len(q) == 0 {
		return QueuedMessage{}, false
	}
	msg := q[0]
	s.queues[chatID] = q[1:]
	return msg, true
}

// QueueLen returns the chat's queue depth.
func (s *Store) QueueLen(chatID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[chatID])
}

// ClearQueue drops all queued messages for the chat and returns the count.
func (s *Store) ClearQueue(chatID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queues[chatID])
	delete(s.queues, chatID)
	return n
}

// All returns a snapshot of the live sessions.
func (s *Store) All() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}
