package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(t.TempDir(), "http://localhost:8080/media")
	require.NoError(t, err)

	body := []byte(`{"text":"meow"}`)
	require.NoError(t, store.Upload(ctx, "transcription/idx.json", bytes.NewReader(body), int64(len(body)), "application/json"))

	ok, err := store.Exists(ctx, "transcription/idx.json")
	require.NoError(t, err)
	require.True(t, ok)

	rc, err := store.Download(ctx, "transcription/idx.json")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, body, got)

	url, err := store.SignedURL(ctx, "transcription/idx.json", time.Hour)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "http://localhost:8080/media/transcription/idx.json?expires="))

	require.NoError(t, store.Delete(ctx, "transcription/idx.json"))
	require.NoError(t, store.Delete(ctx, "transcription/idx.json"))

	_, err = store.Download(ctx, "transcription/idx.json")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStorageKeysStayInsideRoot(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewLocalStorage(root, "")
	require.NoError(t, err)

	require.NoError(t, store.Upload(ctx, "../../escape.txt", strings.NewReader("x"), 1, "text/plain"))
	ok, err := store.Exists(ctx, "escape.txt")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLocalStorageListPages(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)

	for _, key := range []string{"video/a/1.mp4", "video/b/2.mp4", "video/c/3.mp4", "thumbnail/x.jpg"} {
		require.NoError(t, store.Upload(ctx, key, strings.NewReader("v"), 1, "video/mp4"))
	}

	page, cursor, err := store.List(ctx, "video/", "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "video/a/1.mp4", page[0].Key)
	require.Equal(t, "video/b/2.mp4", cursor)

	page, cursor, err = store.List(ctx, "video/", cursor, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "video/c/3.mp4", page[0].Key)
	require.Empty(t, cursor)
}

type countingStore struct {
	ObjectStorage
	calls int
}

func (s *countingStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	s.calls++
	return "https://cdn.example/" + key + "?n=" + string(rune('0'+s.calls)), nil
}

func TestURLCacheReusesUntilThreeQuartersOfTTL(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{}
	cache, err := NewURLCache(store, time.Hour, 16)
	require.NoError(t, err)

	now := time.Now()
	cache.now = func() time.Time { return now }

	first, err := cache.SignedURL(ctx, "thumbnail/a.jpg")
	require.NoError(t, err)

	now = now.Add(44 * time.Minute)
	second, err := cache.SignedURL(ctx, "thumbnail/a.jpg")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, store.calls)

	now = now.Add(2 * time.Minute)
	third, err := cache.SignedURL(ctx, "thumbnail/a.jpg")
	require.NoError(t, err)
	require.NotEqual(t, first, third)
	require.Equal(t, 2, store.calls)

	empty, err := cache.SignedURL(ctx, "")
	require.NoError(t, err)
	require.Empty(t, empty)
	require.Equal(t, 2, store.calls)
}
