package internal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// KVStore is the small persistence surface the session identity needs. The
// real client hands in a file-backed store; tests use the in-memory one.
type KVStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// SessionContext carries the identity a client presents on the channel. It is
// passed explicitly to constructors instead of living in package-level state.
type SessionContext struct {
	UserID   string
	Username string
}

const (
	identityUserIDKey   = "user_id"
	identityUsernameKey = "username"
)

// NewSessionContext builds an identity from the store, minting and persisting
// a fresh user id on first use so reloads keep the same presence handle.
func NewSessionContext(store KVStore, username string) (SessionContext, error) {
	userID, ok := store.Get(identityUserIDKey)
	if !ok || userID == "" {
		userID = uuid.NewString()
		if err := store.Set(identityUserIDKey, userID); err != nil {
			return SessionContext{}, err
		}
	}
	if username == "" {
		username, _ = store.Get(identityUsernameKey)
	} else {
		if err := store.Set(identityUsernameKey, username); err != nil {
			return SessionContext{}, err
		}
	}
	return SessionContext{UserID: userID, Username: username}, nil
}

// MemoryStore is the in-memory KVStore used in tests.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	return value, ok
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// FileStore persists identity keys as a small JSON file, written atomically
// via a rename so a crash cannot leave a truncated file behind.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return "", false
	}
	value, ok := values[key]
	return value, ok
}

func (f *FileStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		values = make(map[string]string)
	}
	values[key] = value
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string)
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, err
	}
	return values, nil
}
