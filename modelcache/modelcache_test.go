package modelcache

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Factor: 2}
}

func newTestDownloader(t *testing.T, srv *httptest.Server, opts ...Option) *Downloader {
	t.Helper()
	logger, _ := test.NewNullLogger()
	base := []Option{
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithRetryPolicy(fastRetry()),
		WithLogger(logger),
	}
	return NewDownloader(append(base, opts...)...)
}

func testModel() Model {
	return Model{
		Name:     "qa",
		Repo:     "org/qa-model",
		Revision: "main",
		Dir:      "question-answering",
		Files: []File{
			{Path: "config.json"},
			{Path: "onnx/model.onnx", Dest: "model.onnx", Optional: true},
			{Path: "tokenizer.json", Optional: true},
		},
	}
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	data := `
models:
  - name: sentiment-analysis
    repo: org/sentiment
    dir: sentiment-analysis
    files:
      - path: config.json
      - path: onnx/model.onnx
        dest: model.onnx
        optional: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, m.Models, 1)

	model := m.Models[0]
	assert.Equal(t, DefaultRevision, model.Revision)
	assert.Equal(t, "config.json", model.Files[0].Target())
	assert.Equal(t, "model.onnx", model.Files[1].Target())
	assert.True(t, model.Files[1].Optional)

	found, ok := m.Find("sentiment-analysis")
	assert.True(t, ok)
	assert.Equal(t, "org/sentiment", found.Repo)
	_, ok = m.Find("missing")
	assert.False(t, ok)
}

func TestLoadManifestErrors(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models: [\n"), 0644))
	_, err = LoadManifest(path)
	assert.Error(t, err)
}

func TestManifestValidate(t *testing.T) {
	valid := func() Model {
		return Model{Name: "m", Repo: "org/m", Dir: "m", Files: []File{{Path: "config.json"}}}
	}

	tests := []struct {
		name   string
		models func() []Model
	}{
		{"empty", func() []Model { return nil }},
		{"missing name", func() []Model { m := valid(); m.Name = ""; return []Model{m} }},
		{"missing repo", func() []Model { m := valid(); m.Repo = ""; return []Model{m} }},
		{"escaping dir", func() []Model { m := valid(); m.Dir = "../etc"; return []Model{m} }},
		{"no files", func() []Model { m := valid(); m.Files = nil; return []Model{m} }},
		{"duplicate dir", func() []Model { return []Model{valid(), valid()} }},
		{"escaping dest", func() []Model {
			m := valid()
			m.Files = []File{{Path: "config.json", Dest: "../config.json"}}
			return []Model{m}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Manifest{Models: tt.models()}
			assert.Error(t, m.Validate())
		})
	}
}

func TestDefaultManifest(t *testing.T) {
	m := DefaultManifest()
	require.NoError(t, m.Validate())

	dirs := make([]string, 0, len(m.Models))
	for _, model := range m.Models {
		dirs = append(dirs, model.Dir)
	}
	assert.Equal(t, []string{"summarization", "sentiment-analysis", "keyword-extraction", "question-answering"}, dirs)

	summary, ok := m.Find("summarization")
	require.True(t, ok)
	assert.Equal(t, "facebook/bart-large-cnn", summary.Repo)
}

func TestFileURL(t *testing.T) {
	d := NewDownloader()
	model := testModel()
	assert.Equal(t,
		"https://huggingface.co/org/qa-model/resolve/main/onnx/model.onnx",
		d.FileURL(model, model.Files[1]))
}

func TestFetch(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/org/qa-model/resolve/main/config.json":
			w.Write([]byte(`{"id2label":{"0":"O"}}`))
		case "/org/qa-model/resolve/main/onnx/model.onnx":
			w.Write(bytes.Repeat([]byte{1}, 4096))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	root := t.TempDir()
	var progress bytes.Buffer
	d := newTestDownloader(t, srv, WithToken("hf_secret"), WithProgress(&progress))

	res, err := d.Fetch(context.Background(), &Manifest{Models: []Model{testModel()}}, root)
	require.NoError(t, err)
	assert.Equal(t, Result{Downloaded: 2, Missing: 1}, res)
	assert.Equal(t, "Bearer hf_secret", auth.Load())

	dir := filepath.Join(root, "question-answering")
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "id2label")

	info, err := os.Stat(filepath.Join(dir, "model.onnx"))
	require.NoError(t, err)
	assert.EqualValues(t, 4096, info.Size())

	_, err = os.Stat(filepath.Join(dir, "tokenizer.json"))
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), "."), "temp file left behind: %s", e.Name())
	}
}

func TestFetchSkipsCachedFiles(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("fresh"))
	}))
	defer srv.Close()

	model := Model{Name: "m", Repo: "org/m", Revision: "main", Dir: "m", Files: []File{{Path: "config.json"}}}
	dir := filepath.Join(t.TempDir(), "m")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("cached"), 0644))

	res, err := newTestDownloader(t, srv).FetchModel(context.Background(), model, dir)
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 1}, res)
	assert.EqualValues(t, 0, atomic.LoadInt32(&hits))

	res, err = newTestDownloader(t, srv, WithForce(true)).FetchModel(context.Background(), model, dir)
	require.NoError(t, err)
	assert.Equal(t, Result{Downloaded: 1}, res)

	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	model := Model{Name: "m", Repo: "org/m", Revision: "main", Dir: "m", Files: []File{{Path: "config.json"}}}
	res, err := newTestDownloader(t, srv).FetchModel(context.Background(), model, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Downloaded)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestFetchFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantHits int32
	}{
		{"required file missing", http.StatusNotFound, 1},
		{"unauthorized", http.StatusUnauthorized, 1},
		{"server error", http.StatusInternalServerError, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			model := Model{Name: "m", Repo: "org/m", Revision: "main", Dir: "m", Files: []File{{Path: "config.json"}}}
			_, err := newTestDownloader(t, srv).FetchModel(context.Background(), model, t.TempDir())

			assert.Error(t, err)
			assert.Equal(t, tt.wantHits, atomic.LoadInt32(&hits))
		})
	}
}

func TestFetchCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestDownloader(t, srv).Fetch(ctx, &Manifest{Models: []Model{testModel()}}, t.TempDir())
	assert.Error(t, err)
}

func TestBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	for attempt := 1; attempt <= 6; attempt++ {
		b := p.backoff(attempt)
		assert.GreaterOrEqual(t, b, p.InitialBackoff)
		assert.Less(t, b, p.MaxBackoff+p.MaxBackoff/2)
	}
}

func TestRepoManifestMatchesDefault(t *testing.T) {
	m, err := LoadManifest(filepath.Join("..", "models.yaml"))
	require.NoError(t, err)

	def := DefaultManifest()
	require.Len(t, m.Models, len(def.Models))
	for i, model := range m.Models {
		assert.Equal(t, def.Models[i].Name, model.Name)
		assert.Equal(t, def.Models[i].Repo, model.Repo)
		assert.Equal(t, def.Models[i].Dir, model.Dir)
		assert.Equal(t, def.Models[i].Files, model.Files)
	}
}
