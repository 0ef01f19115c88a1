package db

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"
)

// FileStorage keeps all keys in one JSON object on disk. Every Set and
// Delete rewrites the whole file through an atomic rename, so a crash
// leaves either the old or the new contents.
type FileStorage struct {
	path   string
	mu     sync.Mutex
	data   map[string]string
	closed bool
}

// NewFileStorage opens the file at path, creating parent directories.
// A missing file is an empty store. An unreadable JSON document is also
// treated as empty; the next write replaces it.
func NewFileStorage(path string) (*FileStorage, error) {
	if path == "" {
		return nil, errors.New("file storage path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	s := &FileStorage{path: path, data: map[string]string{}}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &s.data); err != nil || s.data == nil {
			s.data = map[string]string{}
		}
	}
	return s, nil
}

// Path returns the backing file.
func (s *FileStorage) Path() string { return s.path }

func (s *FileStorage) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrClosed
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *FileStorage) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	prev, had := s.data[key]
	s.data[key] = value
	if err := s.flush(); err != nil {
		if had {
			s.data[key] = prev
		} else {
			delete(s.data, key)
		}
		return err
	}
	return nil
}

func (s *FileStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	prev, had := s.data[key]
	if !had {
		return nil
	}
	delete(s.data, key)
	if err := s.flush(); err != nil {
		s.data[key] = prev
		return err
	}
	return nil
}

func (s *FileStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FileStorage) flush() error {
	buf, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.path, err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}
