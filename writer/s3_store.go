package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	appconfig "marketpulse/config"
	"marketpulse/logger"
	"marketpulse/models"
)

// objectAPI is the subset of the S3 client the store needs.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store mirrors the cache artifact as a single object.
type S3Store struct {
	client objectAPI
	bucket string
	key    string
	log    *logger.Log
}

// NewS3Store loads AWS configuration for cfg. Static keys take precedence
// over the default credential chain.
func NewS3Store(ctx context.Context, cfg appconfig.S3Config, key string) (*S3Store, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	store := newS3Store(client, cfg.Bucket, key)
	store.log.WithComponent("s3_store").WithFields(logger.Fields{
		"bucket": cfg.Bucket,
		"key":    key,
		"region": cfg.Region,
	}).Debug("s3 store initialized")
	return store, nil
}

func newS3Store(client objectAPI, bucket, key string) *S3Store {
	return &S3Store{client: client, bucket: bucket, key: key, log: logger.GetLogger()}
}

func (s *S3Store) Name() string { return "s3://" + s.bucket + "/" + s.key }

func (s *S3Store) Load(ctx context.Context) ([]models.NormalizedRecord, time.Time, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var missing *s3types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, time.Time{}, ErrCacheMiss
		}
		return nil, time.Time{}, fmt.Errorf("get %s: %w", s.Name(), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read %s: %w", s.Name(), err)
	}
	records, err := DecodeParquet(data)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("decode %s: %w", s.Name(), err)
	}
	return records, aws.ToTime(out.LastModified), nil
}

func (s *S3Store) Save(ctx context.Context, records []models.NormalizedRecord) error {
	data, err := EncodeParquet(records)
	if err != nil {
		return err
	}

	log := s.log.WithComponent("s3_store").WithFields(logger.Fields{
		"operation": "upload_to_s3",
		"data_size": len(data),
	})

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type": "parquet",
			"records":      fmt.Sprint(len(records)),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", s.bucket, err)
	}
	log.Debug("cache uploaded to s3")
	return nil
}
