package testutils

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/migadu/mailfeed/consts"
)

// FileBasedS3Mock stores objects as files below baseDir, one file per key.
// Key separators ("/") become directories, as they would in a bucket listing.
type FileBasedS3Mock struct {
	mu      sync.RWMutex
	baseDir string
	errors  map[string]error // Map of key -> error to simulate failures
}

// NewFileBasedS3Mock creates the base directory if needed.
func NewFileBasedS3Mock(baseDir string) (*FileBasedS3Mock, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FileBasedS3Mock{
		baseDir: baseDir,
		errors:  make(map[string]error),
	}, nil
}

func (m *FileBasedS3Mock) simulatedError(key string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errors[key]
}

func (m *FileBasedS3Mock) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := m.simulatedError(key); err != nil {
		return err
	}

	filePath := m.keyToFilePath(key)

	// Directory creation races when two keys share a parent.
	m.mu.Lock()
	err := os.MkdirAll(filepath.Dir(filePath), 0755)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to a temp file and rename so readers never see a partial object.
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		return fmt.Errorf("failed to commit object: %w", err)
	}
	return nil
}

func (m *FileBasedS3Mock) Get(ctx context.Context, key string) ([]byte, error) {
	if err := m.simulatedError(key); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(m.keyToFilePath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", consts.ErrObjectNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

func (m *FileBasedS3Mock) DeleteMany(ctx context.Context, keys []string) error {
	var errs []error
	for _, key := range keys {
		if err := m.simulatedError(key); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(m.keyToFilePath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// SetError sets an error to be returned for a specific key
func (m *FileBasedS3Mock) SetError(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[key] = err
}

// ClearError removes the simulated error for a specific key
func (m *FileBasedS3Mock) ClearError(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.errors, key)
}

// GetStoredKeys returns every stored key in sorted order.
func (m *FileBasedS3Mock) GetStoredKeys() []string {
	var keys []string
	_ = filepath.WalkDir(m.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		keys = append(keys, m.filePathToKey(path))
		return nil
	})
	sort.Strings(keys)
	return keys
}

func (m *FileBasedS3Mock) GetStoredData(key string) ([]byte, bool) {
	data, err := os.ReadFile(m.keyToFilePath(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (m *FileBasedS3Mock) ObjectCount() int {
	return len(m.GetStoredKeys())
}

func (m *FileBasedS3Mock) GetBaseDir() string {
	return m.baseDir
}

func (m *FileBasedS3Mock) keyToFilePath(key string) string {
	return filepath.Join(m.baseDir, filepath.FromSlash(key))
}

func (m *FileBasedS3Mock) filePathToKey(path string) string {
	rel, err := filepath.Rel(m.baseDir, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
