// Package credential stores the single API key the analysis client needs.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"manga-dissector/src/llm"
	"manga-dissector/src/logutil"
)

// Store gets and sets one string. Get returns "" when nothing is stored.
type Store interface {
	Get() (string, error)
	Set(key string) error
}

// FileStore keeps the key in a file readable only by the owner.
type FileStore struct {
	Path string
	// Fallback is returned when the file is missing or empty.
	Fallback string
}

func (s FileStore) Get() (string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return strings.TrimSpace(s.Fallback), nil
		}
		return "", fmt.Errorf("failed to read credential: %w", err)
	}
	if key := strings.TrimSpace(string(data)); key != "" {
		return key, nil
	}
	return strings.TrimSpace(s.Fallback), nil
}

func (s FileStore) Set(key string) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strings.TrimSpace(key)+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write credential: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to store credential: %w", err)
	}
	log.Printf("credential: stored %s in %s", logutil.RedactKey(key), s.Path)
	return nil
}

// MemoryStore is a Store for tests and the offline CLI.
type MemoryStore struct {
	mu  sync.Mutex
	key string
}

func NewMemoryStore(key string) *MemoryStore { return &MemoryStore{key: key} }

func (s *MemoryStore) Get() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key, nil
}

func (s *MemoryStore) Set(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = key
	return nil
}

var (
	ErrEmpty         = errors.New("Please enter an API key")
	ErrInvalidFormat = errors.New("Invalid API key format")
)

// CheckFormat rejects keys that cannot be OpenAI keys before any request.
func CheckFormat(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmpty
	}
	if !strings.HasPrefix(key, "sk-") {
		return ErrInvalidFormat
	}
	return nil
}

// Validator checks a candidate key remotely.
type Validator interface {
	ValidateKey(ctx context.Context, key string) llm.Validation
}

// Save checks the format, validates the key remotely and stores it only when
// valid. The returned error carries a message fit for the user.
func Save(ctx context.Context, store Store, v Validator, key string) error {
	key = strings.TrimSpace(key)
	if err := CheckFormat(key); err != nil {
		return err
	}
	res := v.ValidateKey(ctx, key)
	if !res.Valid {
		msg := res.Error
		if msg == "" {
			msg = "Invalid API key"
		}
		log.Printf("credential: validation failed for %s: %s", logutil.RedactKey(key), msg)
		return errors.New(msg)
	}
	return store.Set(key)
}
