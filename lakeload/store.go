package lakeload

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// -----------------------------------------------------------------------------
// Filesystem Store
// -----------------------------------------------------------------------------

// fsStore implements Store using the local filesystem.
type fsStore struct {
	root string
}

// NewFS creates a filesystem-backed Store rooted at the given directory.
// The directory must exist.
func NewFS(root string) (Store, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, os.ErrNotExist
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &fsStore{root: abs}, nil
}

func (f *fsStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := f.safePathForFile(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return file, nil
}

func (f *fsStore) Exists(_ context.Context, key string) (bool, error) {
	fullPath, err := f.safePathForFile(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(fullPath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// List walks the directory containing prefix and returns every file whose
// slash-separated relative key starts with prefix.
func (f *fsStore) List(_ context.Context, prefix string) ([]string, error) {
	normalized, valid := normalizePathForPrefix(prefix)
	if !valid {
		return nil, ErrInvalidPath
	}

	walkRoot := f.root
	if dir := dirOfPrefix(normalized); dir != "" {
		walkRoot = filepath.Join(f.root, filepath.FromSlash(dir))
	}

	var keys []string
	err := filepath.Walk(walkRoot, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, normalized) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (f *fsStore) ReaderAt(_ context.Context, key string) (io.ReaderAt, int64, error) {
	fullPath, err := f.safePathForFile(key)
	if err != nil {
		return nil, 0, err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, 0, err
	}
	return file, info.Size(), nil
}

func (f *fsStore) safePathForFile(key string) (string, error) {
	normalized, valid := normalizePathForFile(key)
	if !valid {
		return "", ErrInvalidPath
	}

	fullPath := filepath.Join(f.root, filepath.FromSlash(normalized))

	rootPrefix := f.root
	if !strings.HasSuffix(rootPrefix, string(filepath.Separator)) {
		rootPrefix += string(filepath.Separator)
	}
	if !strings.HasPrefix(fullPath, rootPrefix) {
		return "", ErrInvalidPath
	}

	return fullPath, nil
}

// dirOfPrefix returns the directory portion of a key prefix: "a/b/c" walks
// "a/b", "a/b/" walks "a/b".
func dirOfPrefix(prefix string) string {
	i := strings.LastIndex(prefix, "/")
	if i < 0 {
		return ""
	}
	return prefix[:i]
}

// -----------------------------------------------------------------------------
// Memory Store
// -----------------------------------------------------------------------------

// MemoryStore is an in-memory Store. Put is provided for building fixtures.
//
// MemoryStore is safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

// Put stores data under key, replacing any existing object.
func (m *MemoryStore) Put(_ context.Context, key string, r io.Reader) error {
	normalized, valid := normalizePathForFile(key)
	if !valid {
		return ErrInvalidPath
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.data[normalized] = data
	m.mu.Unlock()
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, err := m.lookup(key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists implements Store.
func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	normalized, valid := normalizePathForFile(key)
	if !valid {
		return false, ErrInvalidPath
	}

	m.mu.RLock()
	_, exists := m.data[normalized]
	m.mu.RUnlock()

	return exists, nil
}

// List implements Store. Keys are returned in lexical order.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	normalized, valid := normalizePathForPrefix(prefix)
	if !valid {
		return nil, ErrInvalidPath
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key := range m.data {
		if strings.HasPrefix(key, normalized) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// ReaderAt implements Store.
func (m *MemoryStore) ReaderAt(_ context.Context, key string) (io.ReaderAt, int64, error) {
	data, err := m.lookup(key)
	if err != nil {
		return nil, 0, err
	}
	return bytes.NewReader(data), int64(len(data)), nil
}

// lookup returns a private copy of the object at key.
func (m *MemoryStore) lookup(key string) ([]byte, error) {
	normalized, valid := normalizePathForFile(key)
	if !valid {
		return nil, ErrInvalidPath
	}

	m.mu.RLock()
	data, exists := m.data[normalized]
	m.mu.RUnlock()

	if !exists {
		return nil, ErrNotFound
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	return dataCopy, nil
}

func normalizePathForFile(p string) (string, bool) {
	if p == "" {
		return "", false
	}

	cleaned := filepath.ToSlash(filepath.Clean(p))
	cleaned = strings.TrimPrefix(cleaned, "/")

	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || cleaned == "." || cleaned == "" {
		return "", false
	}

	return cleaned, true
}

// normalizePathForPrefix cleans a list prefix while keeping a trailing slash,
// which matters for prefix matching ("t/_delta_log/" must not match
// "t/_delta_log_old/").
func normalizePathForPrefix(p string) (string, bool) {
	if p == "" {
		return "", true
	}

	trailing := strings.HasSuffix(p, "/")
	cleaned := filepath.ToSlash(filepath.Clean(p))
	cleaned = strings.TrimPrefix(cleaned, "/")

	if cleaned == "." || cleaned == "" {
		return "", true
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}
	if trailing {
		cleaned += "/"
	}

	return cleaned, true
}
