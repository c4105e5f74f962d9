package api

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
)

// TokenSource supplies the bearer token for backend calls. An empty token
// means no Authorization header is sent.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a fixed token, mostly for tests and one-shot commands.
type StaticToken string

func (t StaticToken) Token() (string, error) { return string(t), nil }

// FileToken reads the token from a file and keeps it until Reload is called.
// A missing file yields an empty token.
type FileToken struct {
	path  string
	mu    sync.RWMutex
	token string
}

func NewFileToken(path string) (*FileToken, error) {
	ft := &FileToken{path: path}
	if err := ft.Reload(); err != nil {
		return nil, err
	}
	return ft, nil
}

func (f *FileToken) Path() string { return f.path }

func (f *FileToken) Token() (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.token, nil
}

// Reload re-reads the token file.
func (f *FileToken) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read token file: %w", err)
	}
	f.mu.Lock()
	f.token = strings.TrimSpace(string(data))
	f.mu.Unlock()
	return nil
}
