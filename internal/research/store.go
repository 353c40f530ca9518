package research

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nkamali/faro/internal/pipeline"
)

// Store holds live sessions in memory and reaps expired ones. Sessions are
// deliberately not persisted: they are scoped to one line of questioning.
type Store struct {
	embedder pipeline.Embedder
	ttl      time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	stop     chan struct{}
	stopOnce sync.Once
}

func NewStore(embedder pipeline.Embedder, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	s := &Store{
		embedder: embedder,
		ttl:      ttl,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
	go s.reapLoop()
	return s
}

// Create opens a new session and registers it.
func (s *Store) Create(ctx context.Context) (*Session, error) {
	sess, err := NewSession(s.embedder, s.ttl)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()
	return sess, nil
}

// Get returns a live session and extends its lifetime.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Expired(time.Now()) {
		return nil, fmt.Errorf("session %s not found", id)
	}
	sess.Touch(s.ttl)
	return sess, nil
}

// Observe returns a chunk observer that feeds ranked chunks into the session
// a request is attached to. Requests without a session id pass through.
// Ingestion runs on its own goroutine with a bounded deadline so the caller
// never waits on the session's embedder.
func (s *Store) Observe() func(req pipeline.Request, task pipeline.SubTask, top []pipeline.ScoredChunk) {
	return func(req pipeline.Request, _ pipeline.SubTask, top []pipeline.ScoredChunk) {
		if req.SessionID == "" || len(top) == 0 {
			return
		}
		chunks := make([]pipeline.ScoredChunk, len(top))
		copy(chunks, top)
		go func() {
			sess, err := s.Get(req.SessionID)
			if err != nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			_ = sess.AddChunks(ctx, chunks)
		}()
	}
}

// Delete closes and removes a session.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		sess.Close()
	}
}

// Close stops the reaper and releases all sessions.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		sess.Close()
		delete(s.sessions, id)
	}
}

func (s *Store) reapLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.reap(now)
		}
	}
}

func (s *Store) reap(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			sess.Close()
			delete(s.sessions, id)
		}
	}
}
