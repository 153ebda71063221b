package transcript

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/models"
	"github.com/nijaru/yt-analyze/scripts"
	"github.com/nijaru/yt-analyze/session"
	"github.com/nijaru/yt-analyze/validation"
)

// Fetcher retrieves caption text for a video from the transcript service.
type Fetcher interface {
	FetchTranscript(ctx context.Context, videoID string, languages []string) (scripts.TranscriptResult, error)
}

type Service interface {
	// Load validates rawURL, replaces the cached transcript with a fresh
	// fetch and returns it. A failed fetch yields an unavailable transcript.
	Load(ctx context.Context, rawURL string) (*models.Transcript, error)
	Current(ctx context.Context) (*models.Transcript, error)
}

type Config struct {
	Languages    []string
	FetchTimeout time.Duration
}

type service struct {
	session *session.Session
	fetcher Fetcher
	config  Config
	logger  *logrus.Logger
	now     func() time.Time
}

func NewService(sess *session.Session, fetcher Fetcher, cfg Config, logger *logrus.Logger) Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &service{
		session: sess,
		fetcher: fetcher,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *service) Load(ctx context.Context, rawURL string) (*models.Transcript, error) {
	const op = "TranscriptService.Load"

	videoID, err := validation.ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}

	logger := s.logger.WithContext(ctx).WithField("video_id", videoID)
	logger.Info("Loading transcript")

	t, err := s.session.Replace(ctx, func(ctx context.Context) (*models.Transcript, error) {
		return s.fetch(ctx, videoID, logger)
	})
	if err != nil {
		return nil, errors.Wrap(op, err, "Failed to fetch transcript")
	}

	logger.WithFields(logrus.Fields{
		"status": t.Status,
		"length": len(t.Text),
	}).Info("Transcript cached")

	return t, nil
}

func (s *service) fetch(ctx context.Context, videoID string, logger *logrus.Entry) (*models.Transcript, error) {
	fetchCtx := ctx
	if s.config.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.config.FetchTimeout)
		defer cancel()
	}

	t := &models.Transcript{
		VideoID:   videoID,
		Status:    models.StatusUnavailable,
		FetchedAt: s.now().UTC(),
	}

	result, err := s.fetcher.FetchTranscript(fetchCtx, videoID, s.config.Languages)
	if err != nil {
		// The caller went away; do not record the video as unavailable.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.WithError(err).Warn("Transcript not available")
		return t, nil
	}

	if text := strings.TrimSpace(result.Text); text != "" {
		t.Text = text
		t.Status = models.StatusAvailable
	} else {
		logger.Warn("Transcript service returned empty text")
	}
	return t, nil
}

func (s *service) Current(ctx context.Context) (*models.Transcript, error) {
	return s.session.Current(ctx)
}
