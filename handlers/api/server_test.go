package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nijaru/yt-analyze/config"
	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/inference"
	"github.com/nijaru/yt-analyze/models"
	"github.com/nijaru/yt-analyze/validation"
)

type fakeTranscripts struct {
	current *models.Transcript
	loads   []string
}

func (f *fakeTranscripts) Load(_ context.Context, rawURL string) (*models.Transcript, error) {
	videoID, err := validation.ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}
	f.loads = append(f.loads, videoID)
	if videoID == "zzzzzzzzzzz" {
		f.current = &models.Transcript{VideoID: videoID, Text: models.UnavailableText, Status: models.StatusUnavailable}
	} else {
		f.current = &models.Transcript{VideoID: videoID, Text: "hello world", Status: models.StatusAvailable}
	}
	return f.current, nil
}

func (f *fakeTranscripts) Current(context.Context) (*models.Transcript, error) {
	return f.current, nil
}

type fakeAnalysis struct {
	err       error
	answer    string
	questions []string
}

func (f *fakeAnalysis) Summarize(context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "a short summary", nil
}

func (f *fakeAnalysis) Sentiment(context.Context) (inference.Sentiment, error) {
	if f.err != nil {
		return inference.Sentiment{}, f.err
	}
	return inference.Sentiment{Label: "POSITIVE", Score: 0.98}, nil
}

func (f *fakeAnalysis) Keywords(context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "Paris France", nil
}

func (f *fakeAnalysis) Answer(_ context.Context, question string) (string, error) {
	f.questions = append(f.questions, question)
	if f.err != nil {
		return "", f.err
	}
	if _, err := validation.ValidateQuestion(question); err != nil {
		return "", err
	}
	return f.answer, nil
}

func newTestServer(t *testing.T, ts *fakeTranscripts, as *fakeAnalysis) *Server {
	t.Helper()
	logger, _ := test.NewNullLogger()

	cfg := config.Default()
	cfg.StaticDir = t.TempDir()
	cfg.Middleware = config.MiddlewareConfig{EnableRecover: true, EnableRequestID: true}

	return NewServer(cfg, WithLogger(logger), WithServices(ts, as))
}

func do(t *testing.T, s *Server, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func formRequest(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestHandleTranscript(t *testing.T) {
	t.Run("form encoded", func(t *testing.T) {
		ts := &fakeTranscripts{}
		s := newTestServer(t, ts, &fakeAnalysis{})

		rec, body := do(t, s, formRequest("/transcript", url.Values{"url": {"https://www.youtube.com/watch?v=dQw4w9WgXcQ"}}))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "hello world", body["transcript"])
		assert.Equal(t, "dQw4w9WgXcQ", body["video_id"])
		assert.Equal(t, true, body["available"])
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})

	t.Run("json", func(t *testing.T) {
		ts := &fakeTranscripts{}
		s := newTestServer(t, ts, &fakeAnalysis{})

		req := httptest.NewRequest(http.MethodPost, "/transcript",
			strings.NewReader(`{"url": "https://youtu.be/dQw4w9WgXcQ"}`))
		req.Header.Set("Content-Type", "application/json")
		rec, body := do(t, s, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "dQw4w9WgXcQ", body["video_id"])
	})

	t.Run("multipart", func(t *testing.T) {
		ts := &fakeTranscripts{}
		s := newTestServer(t, ts, &fakeAnalysis{})

		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("url", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"))
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/transcript", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec, _ := do(t, s, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"dQw4w9WgXcQ"}, ts.loads)
	})

	t.Run("unavailable transcript", func(t *testing.T) {
		s := newTestServer(t, &fakeTranscripts{}, &fakeAnalysis{})

		rec, body := do(t, s, formRequest("/transcript", url.Values{"url": {"https://youtu.be/zzzzzzzzzzz"}}))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, models.UnavailableText, body["transcript"])
		assert.Equal(t, false, body["available"])
	})

	invalid := []struct {
		name   string
		values url.Values
	}{
		{"missing url", url.Values{}},
		{"empty url", url.Values{"url": {""}}},
		{"no video id", url.Values{"url": {"https://example.com/short"}}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			ts := &fakeTranscripts{}
			s := newTestServer(t, ts, &fakeAnalysis{})

			rec, body := do(t, s, formRequest("/transcript", tt.values))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "Invalid YouTube URL", body["error"])
			assert.Empty(t, ts.loads)
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		s := newTestServer(t, &fakeTranscripts{}, &fakeAnalysis{})

		req := httptest.NewRequest(http.MethodPost, "/transcript", strings.NewReader(`{"url":`))
		req.Header.Set("Content-Type", "application/json")
		rec, _ := do(t, s, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAnalysisRoutes(t *testing.T) {
	s := newTestServer(t, &fakeTranscripts{}, &fakeAnalysis{})

	rec, body := do(t, s, httptest.NewRequest(http.MethodPost, "/summarize", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a short summary", body["summary"])

	rec, body = do(t, s, httptest.NewRequest(http.MethodPost, "/sentiment", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	sentiment, ok := body["sentiment"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "POSITIVE", sentiment["label"])
	assert.InDelta(t, 0.98, sentiment["score"], 1e-9)

	rec, body = do(t, s, httptest.NewRequest(http.MethodPost, "/keywords", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Paris France", body["keywords"])
}

func TestAnalysisErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{
			name:    "unavailable transcript",
			err:     errors.InvalidInput("analysis.Summarize", nil, models.UnavailableText),
			code:    http.StatusBadRequest,
			message: models.UnavailableText,
		},
		{
			name:    "no transcript loaded",
			err:     errors.Internal("analysis.Summarize", nil, "No transcript loaded"),
			code:    http.StatusInternalServerError,
			message: "No transcript loaded",
		},
		{
			name:    "model failure",
			err:     errors.Internal("analysis.Summarize", assert.AnError, "Failed to summarize transcript"),
			code:    http.StatusInternalServerError,
			message: "Failed to summarize transcript",
		},
		{
			name:    "untyped error",
			err:     assert.AnError,
			code:    http.StatusInternalServerError,
			message: "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeTranscripts{}, &fakeAnalysis{err: tt.err})

			rec, body := do(t, s, httptest.NewRequest(http.MethodPost, "/summarize", nil))

			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.message, body["error"])
		})
	}
}

func TestHandleAnswer(t *testing.T) {
	t.Run("answer", func(t *testing.T) {
		as := &fakeAnalysis{answer: "Paris"}
		s := newTestServer(t, &fakeTranscripts{}, as)

		rec, body := do(t, s, formRequest("/answer", url.Values{"question": {"Where?"}}))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Paris", body["answer"])
		assert.Equal(t, []string{"Where?"}, as.questions)
	})

	t.Run("json", func(t *testing.T) {
		as := &fakeAnalysis{answer: "Paris"}
		s := newTestServer(t, &fakeTranscripts{}, as)

		req := httptest.NewRequest(http.MethodPost, "/answer", strings.NewReader(`{"question": "Where?"}`))
		req.Header.Set("Content-Type", "application/json")
		rec, body := do(t, s, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Paris", body["answer"])
		assert.Equal(t, []string{"Where?"}, as.questions)
	})

	t.Run("json question must be a string", func(t *testing.T) {
		s := newTestServer(t, &fakeTranscripts{}, &fakeAnalysis{})

		req := httptest.NewRequest(http.MethodPost, "/answer", strings.NewReader(`{"question": 42}`))
		req.Header.Set("Content-Type", "application/json")
		rec, body := do(t, s, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Field question must be a string", body["error"])
	})

	t.Run("no answer found", func(t *testing.T) {
		s := newTestServer(t, &fakeTranscripts{}, &fakeAnalysis{answer: "No answer found"})

		rec, body := do(t, s, formRequest("/answer", url.Values{"question": {"Where?"}}))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "No answer found", body["answer"])
	})

	t.Run("missing question", func(t *testing.T) {
		s := newTestServer(t, &fakeTranscripts{}, &fakeAnalysis{})

		rec, body := do(t, s, formRequest("/answer", url.Values{}))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Missing question", body["error"])
	})
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, &fakeTranscripts{}, &fakeAnalysis{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/summarize", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeTranscripts{}, &fakeAnalysis{})

	rec, body := do(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.0.0", body["version"])
	assert.NotContains(t, body, "goroutines")
}

func TestIndexAndStatic(t *testing.T) {
	s := newTestServer(t, &fakeTranscripts{}, &fakeAnalysis{})
	dir := s.config.StaticDir
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>yt-analyze</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "yt-analyze")

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/app.js", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "console.log")

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
