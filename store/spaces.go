package store

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nijaru/yt-analyze/models"
)

type SpacesConfig struct {
	AccessKey string
	SecretKey string
	Region    string
	Endpoint  string
	Bucket    string
	Key       string
	PathStyle bool
}

// SpacesStore keeps the transcript as one JSON object in an S3-compatible
// bucket such as DigitalOcean Spaces.
type SpacesStore struct {
	client *s3.Client
	bucket string
	key    string
}

func NewSpacesStore(ctx context.Context, cfg SpacesConfig) (*SpacesStore, error) {
	const op = "SpacesStore.New"

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL: cfg.Endpoint,
			}, nil
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, opFailed(op, err)
	}

	key := cfg.Key
	if key == "" {
		key = "transcripts/current.json"
	}

	return &SpacesStore{
		client: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.PathStyle
		}),
		bucket: cfg.Bucket,
		key:    key,
	}, nil
}

func (s *SpacesStore) Save(ctx context.Context, t *models.Transcript) error {
	const op = "SpacesStore.Save"

	data, err := encodeRecord(t)
	if err != nil {
		return opFailed(op, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return opFailed(op, err)
	}
	return nil
}

func (s *SpacesStore) Read(ctx context.Context) (*models.Transcript, error) {
	const op = "SpacesStore.Read"

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if stderrors.As(err, &noKey) {
			return &models.Transcript{}, nil
		}
		return nil, opFailed(op, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, opFailed(op, err)
	}

	t, err := decodeRecord(data)
	if err != nil {
		return nil, opFailed(op, err)
	}
	return t, nil
}

func (s *SpacesStore) Delete(ctx context.Context) error {
	const op = "SpacesStore.Delete"

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return opFailed(op, err)
	}
	return nil
}

func (s *SpacesStore) Close() error { return nil }
