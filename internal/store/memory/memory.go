// Package memory is the in-memory PrincipalRepository used in development
// and tests. Secrets are kept in plain memory; the pg adapter is the one
// that encrypts at rest.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/edline/otpgate/internal/domain/repository"
	"github.com/edline/otpgate/internal/domain/types"
)

type record struct {
	principal   types.Principal
	backupCodes map[string]*time.Time // code hash -> used at (nil = unconsumed)
}

// Store implements repository.PrincipalRepository with a mutex-guarded map.
type Store struct {
	mu   sync.Mutex
	data map[string]*record
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{data: make(map[string]*record)}
}

// Put upserts a principal. Used by seeding and tests.
func (s *Store) Put(p types.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	r, ok := s.data[p.ID]
	if !ok {
		r = &record{backupCodes: make(map[string]*time.Time)}
		s.data[p.ID] = r
	}
	r.principal = p
}

func (s *Store) GetByID(ctx context.Context, id string) (*types.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	p := r.principal
	p.Channels = append([]types.CommunicationChannel(nil), r.principal.Channels...)
	return &p, nil
}

func (s *Store) CommitSecret(ctx context.Context, id, secretB32, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[id]
	if !ok {
		return repository.ErrNotFound
	}
	r.principal.OTPSecret = secretB32
	r.principal.OTPChannel = channelID
	r.principal.UpdatedAt = time.Now().UTC()
	r.backupCodes = make(map[string]*time.Time)
	return nil
}

func (s *Store) ClearSecret(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[id]
	if !ok {
		return repository.ErrNotFound
	}
	r.principal.OTPSecret = ""
	r.principal.OTPChannel = ""
	r.principal.UpdatedAt = time.Now().UTC()
	r.backupCodes = make(map[string]*time.Time)
	return nil
}

func (s *Store) ActivateChannel(ctx context.Context, id, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[id]
	if !ok {
		return repository.ErrNotFound
	}
	for i := range r.principal.Channels {
		if r.principal.Channels[i].ID == channelID {
			r.principal.Channels[i].State = types.ChannelActive
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *Store) SetBackupCodes(ctx context.Context, id string, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[id]
	if !ok {
		return repository.ErrNotFound
	}
	r.backupCodes = make(map[string]*time.Time, len(hashes))
	for _, h := range hashes {
		r.backupCodes[h] = nil
	}
	return nil
}

func (s *Store) ConsumeBackupCode(ctx context.Context, id, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[id]
	if !ok {
		return false, nil
	}
	usedAt, exists := r.backupCodes[hash]
	if !exists || usedAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	r.backupCodes[hash] = &now
	return true, nil
}

func (s *Store) DeleteBackupCodes(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.data[id]; ok {
		r.backupCodes = make(map[string]*time.Time)
	}
	return nil
}

// UnusedBackupCodeCount reports how many codes remain. Tests only.
func (s *Store) UnusedBackupCodeCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[id]
	if !ok {
		return 0
	}
	n := 0
	for _, usedAt := range r.backupCodes {
		if usedAt == nil {
			n++
		}
	}
	return n
}

var _ repository.PrincipalRepository = (*Store)(nil)
