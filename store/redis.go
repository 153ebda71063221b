package store

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/nijaru/yt-analyze/models"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisStore keeps the transcript as one JSON value under a single key.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	const op = "RedisStore.New"

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, opFailed(op, err)
	}

	key := cfg.Key
	if key == "" {
		key = "yt-analyze:transcript"
	}
	return &RedisStore{client: client, key: key}, nil
}

func (s *RedisStore) Save(ctx context.Context, t *models.Transcript) error {
	const op = "RedisStore.Save"

	data, err := encodeRecord(t)
	if err != nil {
		return opFailed(op, err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return opFailed(op, err)
	}
	return nil
}

func (s *RedisStore) Read(ctx context.Context) (*models.Transcript, error) {
	const op = "RedisStore.Read"

	data, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return &models.Transcript{}, nil
	}
	if err != nil {
		return nil, opFailed(op, err)
	}

	t, err := decodeRecord(data)
	if err != nil {
		return nil, opFailed(op, err)
	}
	return t, nil
}

func (s *RedisStore) Delete(ctx context.Context) error {
	const op = "RedisStore.Delete"
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return opFailed(op, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
