package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/Benevox/rapidpro/internal/exporter"
)

// DefaultURLExpiry is how long presigned download links stay valid
const DefaultURLExpiry = 24 * time.Hour

// S3Config configures an S3Store
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// Prefix is prepended to every object key
	Prefix    string
	URLExpiry time.Duration
	// ForcePathStyle is needed by most S3 compatible services
	ForcePathStyle bool
	HTTPClient     *http.Client
}

// S3Store keeps assets in an S3 bucket and hands out presigned URLs
type S3Store struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
	expiry   time.Duration
	logger   *slog.Logger
}

// NewS3Store creates an S3 session from cfg. Credentials fall back to the
// default AWS chain when no static keys are given.
func NewS3Store(cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	awsCfg := &aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(cfg.ForcePathStyle),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.HTTPClient != nil {
		awsCfg.HTTPClient = cfg.HTTPClient
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}

	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = DefaultURLExpiry
	}

	return &S3Store{
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		expiry:   expiry,
		logger: logger.With(
			slog.String("component", "s3_asset_store"),
			slog.String("bucket", cfg.Bucket)),
	}, nil
}

func (s *S3Store) objectKey(key Key) string {
	if s.prefix == "" {
		return key.Path()
	}
	return s.prefix + "/" + key.Path()
}

// Save uploads r with the s3manager uploader, which switches to multipart
// uploads for large exports.
func (s *S3Store) Save(ctx context.Context, key Key, r io.Reader) error {
	if err := key.Validate(); err != nil {
		return err
	}
	objectKey := s.objectKey(key)

	result, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:             aws.String(s.bucket),
		Key:                aws.String(objectKey),
		Body:               r,
		ContentType:        aws.String(exporter.ContentType(key.Extension)),
		ContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", key.Filename())),
	})
	if err != nil {
		return fmt.Errorf("failed to upload asset %s: %w", objectKey, err)
	}

	s.logger.InfoContext(ctx, "asset uploaded",
		slog.String("asset", objectKey),
		slog.String("location", result.Location))
	return nil
}

// Open implements Store
func (s *S3Store) Open(ctx context.Context, key Key) (io.ReadCloser, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return nil, s.wrapErr("open", key, err)
	}
	return out.Body, nil
}

// URL checks the object exists and presigns a GET for it
func (s *S3Store) URL(ctx context.Context, key Key) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	objectKey := s.objectKey(key)

	if _, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	}); err != nil {
		return "", s.wrapErr("stat", key, err)
	}

	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	link, err := req.Presign(s.expiry)
	if err != nil {
		return "", fmt.Errorf("failed to presign asset %s: %w", objectKey, err)
	}
	return link, nil
}

// Delete implements Store
func (s *S3Store) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if errors.Is(s.wrapErr("delete", key, err), ErrAssetNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete asset %s: %w", s.objectKey(key), err)
	}
	return nil
}

func (s *S3Store) wrapErr(op string, key Key, err error) error {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return fmt.Errorf("%w: %s", ErrAssetNotFound, s.objectKey(key))
		}
	}
	return fmt.Errorf("failed to %s asset %s: %w", op, s.objectKey(key), err)
}
