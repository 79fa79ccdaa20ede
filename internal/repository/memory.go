package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Dan9191/ledger-service/internal/models"
)

// MemoryUsers keeps users in process for the memory driver
type MemoryUsers struct {
	mu      sync.RWMutex
	byEmail map[string]*models.User
	byID    map[int64]*models.User
	nextID  int64
}

// NewMemoryUsers creates an empty user store
func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{byEmail: make(map[string]*models.User), byID: make(map[int64]*models.User)}
}

// CreateUser stores user and assigns its id
func (m *MemoryUsers) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[user.Email]; ok {
		return fmt.Errorf("email %s: %w", user.Email, ErrUserExists)
	}
	m.nextID++
	user.ID = m.nextID
	user.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	cp := *user
	m.byEmail[user.Email] = &cp
	m.byID[user.ID] = &cp
	return nil
}

// FindUserByEmail retrieves a user by email
func (m *MemoryUsers) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// FindUserByID retrieves a user by id
func (m *MemoryUsers) FindUserByID(_ context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}
