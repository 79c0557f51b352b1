// Package prefs persists which addons are enabled for each addon kind.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Store is a key-value store of string sets.
//
// Set must store a copy of values: callers are free to reuse or mutate the
// slice after Set returns, and Get must likewise return a slice the caller
// owns.
type Store interface {
	Get(key string) ([]string, error)
	Set(key string, values []string) error
}

// Updater is implemented by stores that can perform a read-modify-write
// atomically with respect to other writers.
type Updater interface {
	Update(key string, fn func(values []string) []string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]string)}
}

// Get returns a copy of the set stored under key.
func (s *MemoryStore) Get(key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return normalize(s.data[key]), nil
}

// Set stores a copy of values under key.
func (s *MemoryStore) Set(key string, values []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = normalize(values)
	return nil
}

// Update applies fn to the set under key while holding the store lock.
func (s *MemoryStore) Update(key string, fn func([]string) []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = normalize(fn(normalize(s.data[key])))
	return nil
}

// DefaultLockTimeout bounds how long FileStore waits for the file lock.
const DefaultLockTimeout = 5 * time.Second

// FileStore keeps all sets in one JSON document. Writers serialize on a
// sibling lock file and replace the document by renaming a temp file over it.
type FileStore struct {
	path        string
	lock        *flock.Flock
	lockTimeout time.Duration
	// mu guards the flock handle, which counts as held for every goroutine
	// once any of them locked it.
	mu sync.Mutex
}

// NewFileStore creates a FileStore backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:        path,
		lock:        flock.New(path + ".lock"),
		lockTimeout: DefaultLockTimeout,
	}
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Get returns the set stored under key.
func (s *FileStore) Get(key string) ([]string, error) {
	var values []string
	err := s.withLock(true, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		values = normalize(doc[key])
		return nil
	})
	return values, err
}

// Set replaces the set stored under key.
func (s *FileStore) Set(key string, values []string) error {
	return s.Update(key, func([]string) []string { return values })
}

// Update applies fn to the set under key while holding the file lock.
func (s *FileStore) Update(key string, fn func([]string) []string) error {
	return s.withLock(false, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		next := normalize(fn(normalize(doc[key])))
		if len(next) == 0 {
			delete(doc, key)
		} else {
			doc[key] = next
		}
		return s.write(doc)
	})
}

func (s *FileStore) withLock(shared bool, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()

	var (
		locked bool
		err    error
	)
	if shared {
		locked, err = s.lock.TryRLockContext(ctx, 20*time.Millisecond)
	} else {
		locked, err = s.lock.TryLockContext(ctx, 20*time.Millisecond)
	}
	if err != nil {
		return fmt.Errorf("lock %s: %w", s.path, err)
	}
	if !locked {
		return fmt.Errorf("lock %s: timed out", s.path)
	}
	defer s.lock.Unlock()

	return fn()
}

func (s *FileStore) read() (map[string][]string, error) {
	doc := make(map[string][]string)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read prefs: %w", err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse prefs %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *FileStore) write(doc map[string][]string) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode prefs: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp prefs: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp prefs: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp prefs: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace prefs: %w", err)
	}
	return nil
}

// normalize returns a sorted, de-duplicated copy without empty strings.
func normalize(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
