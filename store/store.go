// Package store caches the single current transcript. Every backend holds at
// most one transcript; Save replaces it and Delete clears it.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nijaru/yt-analyze/config"
	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/models"
)

type Store interface {
	// Save persists t as the only cached transcript.
	Save(ctx context.Context, t *models.Transcript) error
	// Read returns the cached transcript, or an empty one if nothing is cached.
	Read(ctx context.Context) (*models.Transcript, error)
	// Delete removes the cached transcript. Deleting nothing is not an error.
	Delete(ctx context.Context) error
	Close() error
}

const failedMessage = "Transcript store operation failed"

func opFailed(op string, err error) error {
	return errors.Internal(op, err, failedMessage)
}

// New opens the backend selected by cfg.Backend.
func New(ctx context.Context, cfg config.StoreConfig, logger *logrus.Logger) (Store, error) {
	const op = "store.New"

	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithField("backend", cfg.Backend).Info("Opening transcript store")

	switch cfg.Backend {
	case config.StoreFile, "":
		return NewFileStore(cfg.Dir)
	case config.StoreSQLite:
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	case config.StoreRedis:
		return NewRedisStore(ctx, RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.RedisKey,
		})
	case config.StoreSpaces:
		return NewSpacesStore(ctx, SpacesConfig{
			AccessKey: cfg.Spaces.AccessKey,
			SecretKey: cfg.Spaces.SecretKey,
			Region:    cfg.Spaces.Region,
			Endpoint:  cfg.Spaces.Endpoint,
			Bucket:    cfg.Spaces.Bucket,
			Key:       cfg.Spaces.Key,
			PathStyle: cfg.Spaces.PathStyle,
		})
	default:
		return nil, errors.Internal(op, nil, fmt.Sprintf("Unknown store backend %q", cfg.Backend))
	}
}

// encodeRecord is the JSON form used by the redis and spaces backends.
func encodeRecord(t *models.Transcript) ([]byte, error) {
	return json.Marshal(t)
}

func decodeRecord(data []byte) (*models.Transcript, error) {
	t := &models.Transcript{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, err
	}
	return t, nil
}
