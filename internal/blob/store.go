package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/wolfman30/prescription-ai-platform/pkg/logging"
)

// ErrNotFound indicates the object key does not exist.
var ErrNotFound = errors.New("blob: object not found")

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Presigner issues time-limited GET URLs.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Object identifies a stored upload.
type Object struct {
	Key string
	URL string
}

// Store keeps prescription images in an S3 bucket.
type Store struct {
	bucket    string
	region    string
	baseURL   string
	s3Client  S3API
	presigner Presigner
	logger    *logging.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithPresigner enables PresignURL; *s3.PresignClient satisfies Presigner.
func WithPresigner(p Presigner) Option {
	return func(s *Store) { s.presigner = p }
}

// WithPublicBaseURL overrides the URL prefix used for object URLs, e.g. a
// CDN or a LocalStack endpoint.
func WithPublicBaseURL(base string) Option {
	return func(s *Store) { s.baseURL = strings.TrimRight(base, "/") }
}

// NewStore creates a Store for bucket.
func NewStore(s3Client S3API, bucket, region string, logger *logging.Logger, opts ...Option) *Store {
	if s3Client == nil {
		panic("blob: s3 client cannot be nil")
	}
	if strings.TrimSpace(bucket) == "" {
		panic("blob: bucket cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Store{bucket: bucket, region: region, s3Client: s3Client, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	if s.baseURL == "" {
		s.baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}
	return s
}

// Put uploads data under a fresh key scoped to the user.
func (s *Store) Put(ctx context.Context, userID, filename, contentType string, data []byte) (Object, error) {
	key := objectKey(userID, filename, time.Now().UTC())
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"user-id":           userID,
			"original-filename": url.QueryEscape(filename),
		},
	})
	if err != nil {
		return Object{}, fmt.Errorf("blob: s3 put %s: %w", key, err)
	}
	s.logger.Info("stored prescription image", "s3_key", key, "bytes", len(data), "user_id", userID)
	return Object{Key: key, URL: s.baseURL + "/" + key}, nil
}

// Get downloads an object and returns its bytes and content type.
func (s *Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("blob: s3 get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("blob: read %s: %w", key, err)
	}
	return data, aws.ToString(out.ContentType), nil
}

// Delete removes an object. S3 deletes are idempotent, so a missing key is
// not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("blob: s3 delete %s: %w", key, err)
	}
	return nil
}

// PresignURL returns a time-limited GET URL for key.
func (s *Store) PresignURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if s.presigner == nil {
		return "", errors.New("blob: presigning not configured")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("blob: presign %s: %w", key, err)
	}
	return req.URL, nil
}

func objectKey(userID, filename string, now time.Time) string {
	ext := strings.ToLower(path.Ext(filename))
	if len(ext) > 8 {
		ext = ""
	}
	return fmt.Sprintf("prescriptions/%s/%04d/%02d/%s%s",
		url.PathEscape(userID), now.Year(), now.Month(), uuid.NewString(), ext)
}
