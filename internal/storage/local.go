package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LocalStorage keeps objects on the local filesystem. It serves development
// setups where the API exposes the root directory under a static route.
type LocalStorage struct {
	basePath string
	baseURL  string
}

// NewLocalStorage creates the root directory if needed.
func NewLocalStorage(basePath, baseURL string) (*LocalStorage, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("local storage path is empty")
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create local storage directory: %w", err)
	}
	return &LocalStorage{
		basePath: basePath,
		baseURL:  strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
	}, nil
}

// Root returns the directory objects are stored under.
func (l *LocalStorage) Root() string {
	return l.basePath
}

func (l *LocalStorage) path(key string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	if clean == string(filepath.Separator) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(l.basePath, clean), nil
}

func (l *LocalStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	full, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func (l *LocalStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := l.path(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// GetURL returns baseURL/key, or a file:// URL when no base URL is set.
func (l *LocalStorage) GetURL(key string) string {
	if l.baseURL != "" {
		return l.baseURL + "/" + strings.TrimPrefix(key, "/")
	}
	full, _ := l.path(key)
	return "file://" + filepath.ToSlash(full)
}

// SignedURL returns the plain URL with an expiry hint; local objects are not
// access controlled.
func (l *LocalStorage) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	ok, err := l.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotFound
	}
	return fmt.Sprintf("%s?expires=%d", l.GetURL(key), time.Now().Add(ttl).Unix()), nil
}

func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	full, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (l *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	full, err := l.path(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List walks the tree under prefix. The cursor is the last key returned.
func (l *LocalStorage) List(ctx context.Context, prefix, cursor string, limit int) ([]ObjectInfo, string, error) {
	var all []ObjectInfo
	err := filepath.WalkDir(l.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.basePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) || key <= cursor {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		all = append(all, ObjectInfo{Key: key, Size: info.Size(), LastModified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Key < all[j].Key })
	if limit <= 0 || len(all) <= limit {
		return all, "", nil
	}
	page := all[:limit]
	return page, page[len(page)-1].Key, nil
}
