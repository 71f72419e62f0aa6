// internal/membership/memory.go
package membership

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process identity store.
type MemoryStore struct {
	mu          sync.RWMutex
	borrowers   map[uuid.UUID]Borrower
	credentials map[uuid.UUID]Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		borrowers:   make(map[uuid.UUID]Borrower),
		credentials: make(map[uuid.UUID]Credential),
	}
}

func (s *MemoryStore) Register(_ context.Context, b *Borrower, password string) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.Email = strings.ToLower(strings.TrimSpace(b.Email))
	b.CreatedAt = time.Now().UTC()
	hash, salt, err := newCredential(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.borrowers {
		if existing.Email == b.Email {
			return fmt.Errorf("%w: %s", ErrEmailTaken, b.Email)
		}
	}
	s.borrowers[b.ID] = *b
	s.credentials[b.ID] = Credential{BorrowerID: b.ID, PasswordHash: hash, Salt: salt}
	return nil
}

// Put stores b without a credential.
func (s *MemoryStore) Put(b Borrower) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.borrowers[b.ID] = b
}

func (s *MemoryStore) GetBorrower(_ context.Context, id uuid.UUID) (*Borrower, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.borrowers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBorrowerNotFound, id)
	}
	return &b, nil
}

func (s *MemoryStore) BorrowerExists(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.borrowers[id]
	return ok, nil
}

func (s *MemoryStore) DeleteBorrower(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.borrowers[id]; !ok {
		return fmt.Errorf("%w: %s", ErrBorrowerNotFound, id)
	}
	delete(s.borrowers, id)
	delete(s.credentials, id)
	return nil
}

func (s *MemoryStore) CredentialByEmail(_ context.Context, email string) (*Borrower, *Credential, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, b := range s.borrowers {
		if b.Email != email {
			continue
		}
		cred, ok := s.credentials[id]
		if !ok {
			return nil, nil, ErrInvalidCredentials
		}
		return &b, &cred, nil
	}
	return nil, nil, ErrBorrowerNotFound
}
