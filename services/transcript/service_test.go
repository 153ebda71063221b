package transcript

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/models"
	"github.com/nijaru/yt-analyze/scripts"
	"github.com/nijaru/yt-analyze/session"
	"github.com/nijaru/yt-analyze/store"
)

type fakeFetcher struct {
	text  string
	err   error
	calls []string
	langs []string
	block bool
}

func (f *fakeFetcher) FetchTranscript(ctx context.Context, videoID string, languages []string) (scripts.TranscriptResult, error) {
	f.calls = append(f.calls, videoID)
	f.langs = languages
	if f.block {
		<-ctx.Done()
		return scripts.TranscriptResult{}, ctx.Err()
	}
	if f.err != nil {
		return scripts.TranscriptResult{}, f.err
	}
	return scripts.TranscriptResult{VideoID: videoID, Text: f.text}, nil
}

func newTestService(t *testing.T, f *fakeFetcher) (Service, store.Store) {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	log, _ := test.NewNullLogger()
	svc := NewService(session.New(st), f, Config{Languages: []string{"en"}, FetchTimeout: time.Second}, log)
	return svc, st
}

func TestLoad(t *testing.T) {
	f := &fakeFetcher{text: "  hello world  "}
	svc, st := newTestService(t, f)

	tr, err := svc.Load(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "dQw4w9WgXcQ", tr.VideoID)
	assert.Equal(t, "hello world", tr.Text)
	assert.True(t, tr.IsAvailable())
	assert.Equal(t, []string{"dQw4w9WgXcQ"}, f.calls)
	assert.Equal(t, []string{"en"}, f.langs)

	saved, err := st.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello world", saved.Text)

	cur, err := svc.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello world", cur.Text)
}

func TestLoadInvalidURL(t *testing.T) {
	f := &fakeFetcher{text: "unused"}
	svc, st := newTestService(t, f)

	require.NoError(t, st.Save(context.Background(), &models.Transcript{Text: "keep", Status: models.StatusAvailable}))

	_, err := svc.Load(context.Background(), "https://example.com/nothing")
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidInput(err))
	assert.Empty(t, f.calls)

	// An invalid URL leaves the cached transcript alone.
	saved, err := st.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "keep", saved.Text)
}

func TestLoadUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		fetcher *fakeFetcher
	}{
		{"fetch error", &fakeFetcher{err: errors.New("no captions")}},
		{"empty text", &fakeFetcher{text: "   "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st := newTestService(t, tt.fetcher)

			tr, err := svc.Load(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
			require.NoError(t, err)
			assert.True(t, tr.IsUnavailable())
			assert.Equal(t, models.UnavailableText, tr.DisplayText())

			saved, err := st.Read(context.Background())
			require.NoError(t, err)
			assert.True(t, saved.IsUnavailable())
			assert.Equal(t, "", saved.Text)
		})
	}
}

func TestLoadCancelled(t *testing.T) {
	f := &fakeFetcher{block: true}
	svc, _ := newTestService(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := svc.Load(ctx, "https://youtu.be/dQw4w9WgXcQ")
	require.Error(t, err)
	assert.Equal(t, 500, apperrors.CodeOf(err))
}
