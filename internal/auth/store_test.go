package auth

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu       sync.Mutex
	users    map[string]User
	sessions map[string]Session
	tokens   map[string]EmailToken

	touchErr      error
	getSessionErr error
	getUserErr    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:    make(map[string]User),
		sessions: make(map[string]Session),
		tokens:   make(map[string]EmailToken),
	}
}

var _ Store = (*memoryStore)(nil)

func (s *memoryStore) CreateUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == user.Email {
			return ErrEmailTaken
		}
	}
	s.users[user.ID] = user
	return nil
}

func (s *memoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *memoryStore) GetUserByID(_ context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.getUserErr != nil {
		return User{}, s.getUserErr
	}

	user, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *memoryStore) MarkEmailVerified(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	if user.EmailVerifiedAt == nil {
		user.EmailVerifiedAt = &at
	}
	user.UpdatedAt = at
	s.users[userID] = user
	return nil
}

func (s *memoryStore) UpdatePasswordHash(_ context.Context, userID, passwordHash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = at
	s.users[userID] = user
	return nil
}

func (s *memoryStore) CreateSession(_ context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = session
	return nil
}

func (s *memoryStore) GetSession(_ context.Context, id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.getSessionErr != nil {
		return Session{}, s.getSessionErr
	}

	session, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return session, nil
}

func (s *memoryStore) TouchSession(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.touchErr != nil {
		return s.touchErr
	}
	session, ok := s.sessions[id]
	if !ok {
		return nil
	}
	session.LastSeenAt = at
	s.sessions[id] = session
	return nil
}

func (s *memoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

func (s *memoryStore) DeleteUserSessions(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, session := range s.sessions {
		if session.UserID == userID {
			delete(s.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *memoryStore) CreateEmailToken(_ context.Context, token EmailToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[token.TokenHash] = token
	return nil
}

func (s *memoryStore) ConsumeEmailToken(_ context.Context, tokenHash string, kind TokenKind) (EmailToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[tokenHash]
	if !ok || token.Kind != kind {
		return EmailToken{}, ErrNotFound
	}
	delete(s.tokens, tokenHash)
	return token, nil
}

func (s *memoryStore) sessionCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, session := range s.sessions {
		if session.UserID == userID {
			count++
		}
	}
	return count
}

func (s *memoryStore) tokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.tokens)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
