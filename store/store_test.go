package store

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nijaru/yt-analyze/config"
	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/models"
)

// testStoreContract exercises the behaviour every backend must share.
func testStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	// Nothing cached yet.
	got, err := s.Read(ctx)
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())

	// Deleting nothing is fine.
	require.NoError(t, s.Delete(ctx))

	first := &models.Transcript{
		VideoID:   "dQw4w9WgXcQ",
		Text:      "never gonna give you up",
		Status:    models.StatusAvailable,
		FetchedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.Save(ctx, first))

	got, err = s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.VideoID, got.VideoID)
	assert.Equal(t, first.Text, got.Text)
	assert.Equal(t, first.Status, got.Status)
	assert.True(t, first.FetchedAt.Equal(got.FetchedAt), "fetched_at = %v", got.FetchedAt)

	// Save replaces, no history.
	second := &models.Transcript{
		VideoID:   "9bZkp7q19f0",
		Status:    models.StatusUnavailable,
		FetchedAt: time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.Save(ctx, second))

	got, err = s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "9bZkp7q19f0", got.VideoID)
	assert.Equal(t, "", got.Text)
	assert.True(t, got.IsUnavailable())

	require.NoError(t, s.Delete(ctx))
	got, err = s.Read(ctx)
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	testStoreContract(t, s)
}

func TestFileStoreWithoutSidecar(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, transcriptFile), []byte("hand written"), 0644))

	s, err := NewFileStore(dir)
	require.NoError(t, err)

	got, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hand written", got.Text)
	assert.True(t, got.IsAvailable())
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Save(context.Background(), &models.Transcript{Text: "x", Status: models.StatusAvailable}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{transcriptFile, metaFile}, names)
}

func TestFileStoreCorruptSidecar(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, transcriptFile), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, metaFile), []byte("{"), 0644))

	s, err := NewFileStore(dir)
	require.NoError(t, err)

	_, err = s.Read(context.Background())
	require.Error(t, err)
	assert.Equal(t, 500, errors.CodeOf(err))
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "db", "transcript.db"))
	require.NoError(t, err)
	defer s.Close()

	testStoreContract(t, s)
}

func TestSQLiteStoreSingleRow(t *testing.T) {
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "transcript.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	for _, id := range []string{"aaaaaaaaaaa", "bbbbbbbbbbb", "ccccccccccc"} {
		require.NoError(t, s.Save(ctx, &models.Transcript{VideoID: id, Text: id, Status: models.StatusAvailable, FetchedAt: time.Now()}))
	}

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM current_transcript").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestIsLockError(t *testing.T) {
	assert.False(t, isLockError(io.ErrUnexpectedEOF))
	assert.True(t, isLockError(errors.Internal("op", nil, "database is locked")))
	assert.False(t, isLockError(nil))
}

// fakeSpaces is a minimal path-style S3 endpoint holding objects in memory.
type fakeSpaces struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeSpaces) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestSpacesStore(t *testing.T) {
	fake := &fakeSpaces{objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s, err := NewSpacesStore(context.Background(), SpacesConfig{
		AccessKey: "key",
		SecretKey: "secret",
		Region:    "us-east-1",
		Endpoint:  srv.URL,
		Bucket:    "bucket",
		PathStyle: true,
	})
	require.NoError(t, err)

	testStoreContract(t, s)

	require.NoError(t, s.Save(context.Background(), &models.Transcript{VideoID: "dQw4w9WgXcQ", Text: "t", Status: models.StatusAvailable}))
	fake.mu.Lock()
	_, ok := fake.objects["bucket/transcripts/current.json"]
	fake.mu.Unlock()
	assert.True(t, ok)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("YT_ANALYZE_TEST_REDIS")
	if addr == "" {
		t.Skip("YT_ANALYZE_TEST_REDIS not set")
	}

	s, err := NewRedisStore(context.Background(), RedisConfig{Addr: addr, Key: "yt-analyze:test:transcript"})
	require.NoError(t, err)
	defer s.Close()

	testStoreContract(t, s)
}

func TestRedisStoreUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisStore(ctx, RedisConfig{Addr: "127.0.0.1:1"})
	require.Error(t, err)
	assert.Equal(t, 500, errors.CodeOf(err))
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := New(ctx, config.StoreConfig{Backend: config.StoreFile, Dir: dir}, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)
	s.Close()

	s, err = New(ctx, config.StoreConfig{Backend: config.StoreSQLite, SQLitePath: filepath.Join(dir, "t.db")}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	s.Close()

	_, err = New(ctx, config.StoreConfig{Backend: "mongo"}, nil)
	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, "store.New", appErr.Op)
	assert.Equal(t, 500, appErr.Code)
	assert.Equal(t, `Unknown store backend "mongo"`, appErr.Message)
}
