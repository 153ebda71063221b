package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nijaru/yt-analyze/models"
)

const (
	transcriptFile = "transcript.txt"
	metaFile       = "transcript.meta.json"
)

// FileStore keeps the transcript text in transcript.txt with a small JSON
// sidecar describing it.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

type fileMeta struct {
	VideoID   string        `json:"video_id"`
	Status    models.Status `json:"status"`
	FetchedAt time.Time     `json:"fetched_at"`
}

func NewFileStore(dir string) (*FileStore, error) {
	const op = "FileStore.New"
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, opFailed(op, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) textPath() string { return filepath.Join(s.dir, transcriptFile) }
func (s *FileStore) metaPath() string { return filepath.Join(s.dir, metaFile) }

func (s *FileStore) Save(ctx context.Context, t *models.Transcript) error {
	const op = "FileStore.Save"
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := json.Marshal(fileMeta{VideoID: t.VideoID, Status: t.Status, FetchedAt: t.FetchedAt})
	if err != nil {
		return opFailed(op, err)
	}
	if err := writeFileAtomic(s.textPath(), []byte(t.Text)); err != nil {
		return opFailed(op, err)
	}
	if err := writeFileAtomic(s.metaPath(), meta); err != nil {
		return opFailed(op, err)
	}
	return nil
}

func (s *FileStore) Read(ctx context.Context) (*models.Transcript, error) {
	const op = "FileStore.Read"
	s.mu.Lock()
	defer s.mu.Unlock()

	text, err := os.ReadFile(s.textPath())
	if os.IsNotExist(err) {
		return &models.Transcript{}, nil
	}
	if err != nil {
		return nil, opFailed(op, err)
	}

	t := &models.Transcript{Text: string(text)}

	data, err := os.ReadFile(s.metaPath())
	switch {
	case os.IsNotExist(err):
		// text without a sidecar, written by hand or an older version
		if t.Text != "" {
			t.Status = models.StatusAvailable
		}
	case err != nil:
		return nil, opFailed(op, err)
	default:
		var meta fileMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, opFailed(op, err)
		}
		t.VideoID, t.Status, t.FetchedAt = meta.VideoID, meta.Status, meta.FetchedAt
	}
	return t, nil
}

func (s *FileStore) Delete(ctx context.Context) error {
	const op = "FileStore.Delete"
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range []string{s.metaPath(), s.textPath()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return opFailed(op, err)
		}
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

// writeFileAtomic writes data to a temp file in the same directory and renames
// it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
