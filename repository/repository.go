// Package repository is the session-resumption collaborator (spec §6):
// next_uuid/store/load_and_delete, consulted only by the primary side
// during handshake to reissue or resume sessions. InMemory is a reference
// implementation; production deployments are expected to supply their own
// backed by durable storage.
package repository

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	basesync "github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"
	"github.com/google/uuid"
)

// ErrNotFound is returned by LoadAndDelete when nothing is stored for the
// given principal/id, or the stored entry has expired.
var ErrNotFound = errors.New("repository: not found")

// Repository is the handshake-resumption collaborator.
type Repository interface {
	// NextUUID allocates a fresh session id for a principal with no prior
	// resumable session.
	NextUUID(ctx context.Context) (uuid.UUID, error)
	// Store persists data under (principal, id) until expiresAt.
	Store(ctx context.Context, principal string, id uuid.UUID, data []byte, expiresAt time.Time) error
	// LoadAndDelete atomically retrieves and removes the entry for
	// (principal, id). Returns ErrNotFound if absent or expired.
	LoadAndDelete(ctx context.Context, principal string, id uuid.UUID) ([]byte, error)
}

type entry struct {
	data      []byte
	expiresAt time.Time
}

// InMemory is a process-local Repository. Entries are encrypted at rest
// with a per-process ChaCha20-Poly1305 key, so a core dump or a
// compromised neighboring allocation doesn't trivially leak resumption
// material; this does not protect against a compromise of the process
// itself.
type InMemory struct {
	aead cipher.AEAD

	mu      basesync.Mutex
	entries map[string]entry
}

// NewInMemory constructs an InMemory repository with a freshly generated key.
func NewInMemory() (*InMemory, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("repository: generate key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("repository: init cipher: %w", err)
	}
	return &InMemory{aead: aead, entries: make(map[string]entry)}, nil
}

func (m *InMemory) NextUUID(ctx context.Context) (uuid.UUID, error) {
	return uuid.New(), nil
}

func (m *InMemory) Store(ctx context.Context, principal string, id uuid.UUID, data []byte, expiresAt time.Time) error {
	nonce := make([]byte, m.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("repository: generate nonce: %w", err)
	}
	sealed := m.aead.Seal(nonce, nonce, data, nil)

	m.mu.Lock()
	m.entries[key(principal, id)] = entry{data: sealed, expiresAt: expiresAt}
	m.mu.Unlock()
	return nil
}

func (m *InMemory) LoadAndDelete(ctx context.Context, principal string, id uuid.UUID) ([]byte, error) {
	k := key(principal, id)

	m.mu.Lock()
	e, ok := m.entries[k]
	if ok {
		delete(m.entries, k)
	}
	m.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	if time.Now().After(e.expiresAt) {
		return nil, ErrNotFound
	}

	nonceSize := m.aead.NonceSize()
	if len(e.data) < nonceSize {
		return nil, fmt.Errorf("repository: corrupt entry")
	}
	nonce, ciphertext := e.data[:nonceSize], e.data[nonceSize:]
	plain, err := m.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("repository: decrypt entry: %w", err)
	}
	return plain, nil
}

func key(principal string, id uuid.UUID) string {
	return principal + "|" + id.String()
}

var _ Repository = (*InMemory)(nil)
