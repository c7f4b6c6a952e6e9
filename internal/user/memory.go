package user

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository is the in-process user store used when no database is
// configured and by tests. It mirrors the Postgres repository semantics.
type MemoryRepository struct {
	mu         sync.Mutex
	nextID     int64
	byID       map[int64]*User
	byUsername map[string]int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:       make(map[int64]*User),
		byUsername: make(map[string]int64),
	}
}

func (m *MemoryRepository) GetByID(_ context.Context, id int64) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return *u, nil
}

func (m *MemoryRepository) GetByUsername(_ context.Context, username string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byUsername[username]
	if !ok {
		return User{}, ErrNotFound
	}
	return *m.byID[id], nil
}

func (m *MemoryRepository) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byUsername[u.Username]; exists {
		return ErrUsernameTaken
	}

	m.nextID++
	now := time.Now().UTC()
	u.ID = m.nextID
	if u.Role == "" {
		u.Role = RoleUser
	}
	u.TokenEpoch = 0
	u.CreatedAt = now
	u.UpdatedAt = now

	stored := *u
	m.byID[u.ID] = &stored
	m.byUsername[u.Username] = u.ID
	return nil
}

func (m *MemoryRepository) SetRefreshToken(_ context.Context, id int64, token string) error {
	return m.update(id, func(u *User) { u.RefreshToken = token })
}

func (m *MemoryRepository) SwapRefreshToken(_ context.Context, id int64, expected, next string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return false, ErrNotFound
	}
	if expected == "" || u.RefreshToken != expected {
		return false, nil
	}

	u.RefreshToken = next
	u.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryRepository) BumpTokenEpoch(_ context.Context, id int64) (int, error) {
	var epoch int
	err := m.update(id, func(u *User) {
		u.TokenEpoch++
		u.RefreshToken = ""
		epoch = u.TokenEpoch
	})
	return epoch, err
}

func (m *MemoryRepository) UpdatePassword(_ context.Context, id int64, passwordHash string) error {
	return m.update(id, func(u *User) { u.PasswordHash = passwordHash })
}

func (m *MemoryRepository) UpdateRole(_ context.Context, id int64, role Role) error {
	return m.update(id, func(u *User) { u.Role = role })
}

func (m *MemoryRepository) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.byUsername, u.Username)
	delete(m.byID, id)
	return nil
}

func (m *MemoryRepository) update(id int64, mutate func(*User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	mutate(u)
	u.UpdatedAt = time.Now().UTC()
	return nil
}
