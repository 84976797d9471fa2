// Package blobstore holds the raw bytes of consult attachments. Metadata
// (file name, type, uploader) lives with the consult record; this package
// only stores and returns content by key.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	ErrNotFound           = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrInvalidKey         = errors.New("invalid blob key")
)

// MaxFileSize is the largest attachment accepted (25 MB).
const MaxFileSize = 25 * 1024 * 1024

// AllowedContentTypes are the attachment types referring physicians may upload.
var AllowedContentTypes = map[string]bool{
	"application/pdf":    true,
	"image/png":          true,
	"image/jpeg":         true,
	"image/gif":          true,
	"text/plain":         true,
	"text/csv":           true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

// CheckContentType reports whether ct may be stored.
func CheckContentType(ct string) error {
	if !AllowedContentTypes[ct] {
		return fmt.Errorf("%w: %s", ErrInvalidContentType, ct)
	}
	return nil
}

// Info describes stored content.
type Info struct {
	Key  string
	Size int64
	Hash string
}

// Store is implemented by each storage backend.
type Store interface {
	Put(ctx context.Context, key string, content io.Reader) (*Info, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// readLimited reads content up to MaxFileSize and hashes it.
func readLimited(content io.Reader) ([]byte, string, error) {
	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, "", ErrFileTooLarge
	}
	h := sha256.Sum256(data)
	return data, hex.EncodeToString(h[:]), nil
}

// MemoryStore keeps content in memory. For tests and development.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, key string, content io.Reader) (*Info, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	data, hash, err := readLimited(content)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.blobs[key] = data
	s.mu.Unlock()
	return &Info{Key: key, Size: int64(len(data)), Hash: hash}, nil
}

func (s *MemoryStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return ErrNotFound
	}
	delete(s.blobs, key)
	return nil
}
