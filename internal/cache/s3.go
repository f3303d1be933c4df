package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Store provides S3-backed caching of module sources, for fleets that
// share one warm cache across hosts (CI runners, build farms).
type S3Store struct {
	client        *s3.Client
	bucket        string
	prefix        string
	lifecycleDays int
}

// NewS3Store creates a new S3 cache store.
// Credentials, region, and endpoint are resolved via the standard AWS SDK
// default credential chain (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY,
// AWS_REGION, AWS_ENDPOINT_URL, instance profiles, etc.).
func NewS3Store(ctx context.Context, bucket, prefix string, forcePathStyle bool, lifecycleDays int) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = forcePathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	// Normalize prefix: ensure it ends with "/" if non-empty, so keys
	// become "prefix/https/..." rather than "prefixhttps/...".
	if prefix != "" {
		prefix = strings.TrimSuffix(prefix, "/") + "/"
	}

	return &S3Store{
		client:        client,
		bucket:        bucket,
		prefix:        prefix,
		lifecycleDays: lifecycleDays,
	}, nil
}

// Init creates the S3 bucket if it doesn't already exist and, when
// lifecycleDays is positive, applies a lifecycle policy to expire cached
// sources.
func (s *S3Store) Init(ctx context.Context) error {
	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		var baoby *types.BucketAlreadyOwnedByYou
		var bae *types.BucketAlreadyExists
		if errors.As(err, &baoby) || errors.As(err, &bae) {
			slog.Debug("bucket already exists", "bucket", s.bucket)
		} else {
			return fmt.Errorf("creating bucket: %w", err)
		}
	} else {
		slog.Debug("bucket created", "bucket", s.bucket)
	}

	if s.lifecycleDays > 0 {
		_, err := s.client.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
			Bucket: aws.String(s.bucket),
			LifecycleConfiguration: &types.BucketLifecycleConfiguration{
				Rules: []types.LifecycleRule{
					{
						ID:     aws.String("source-cache-expiry"),
						Status: types.ExpirationStatusEnabled,
						Filter: &types.LifecycleRuleFilter{Prefix: aws.String(s.prefix)},
						Expiration: &types.LifecycleExpiration{
							Days: aws.Int32(int32(s.lifecycleDays)),
						},
					},
				},
			},
		})
		if err != nil {
			return fmt.Errorf("setting bucket lifecycle policy: %w", err)
		}
		slog.Info("bucket lifecycle policy applied", "bucket", s.bucket, "expiry_days", s.lifecycleDays)
	}

	return nil
}

// fullKey prepends the configured prefix to a storage key.
func (s *S3Store) fullKey(u *url.URL) string {
	return s.prefix + entryKey(u)
}

// metaKey returns the S3 key for the header sidecar object.
func (s *S3Store) metaKey(u *url.URL) string {
	return s.fullKey(u) + ".meta.json"
}

// Filename reports a stable pseudo-path for the cached content object,
// used only to populate source records.
func (s *S3Store) Filename(u *url.URL) string {
	return path.Join(s.bucket, s.fullKey(u))
}

// Get retrieves a cached entry. It reads the sidecar first, then opens the
// content object; the body is streamed from S3 as the caller reads.
func (s *S3Store) Get(ctx context.Context, u *url.URL) (io.ReadCloser, Headers, error) {
	metaOut, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.metaKey(u)),
	})
	if err != nil {
		return nil, nil, classifyGetError(u, err)
	}
	defer metaOut.Body.Close()

	data, err := io.ReadAll(metaOut.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading meta sidecar: %w", err)
	}

	headers, err := UnmarshalHeaders(data)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing meta sidecar: %w", err)
	}

	dataOut, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(u)),
	})
	if err != nil {
		return nil, nil, classifyGetError(u, err)
	}

	return dataOut.Body, headers, nil
}

// Set writes the content object and its header sidecar. Entries are
// overwritten unconditionally: the contract is last-write-wins per URL.
func (s *S3Store) Set(ctx context.Context, u *url.URL, headers Headers, body []byte) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.fullKey(u)),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if ct, ok := headers["content-type"]; ok {
		input.ContentType = aws.String(ct)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("putting content to S3: %w", err)
	}

	meta, err := MarshalHeaders(headers)
	if err != nil {
		return fmt.Errorf("marshalling headers: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.metaKey(u)),
		Body:        bytes.NewReader(meta),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting meta sidecar to S3: %w", err)
	}

	return nil
}

// classifyGetError translates S3 "no such key" errors into ErrNotCached so
// callers can distinguish a cold cache from a broken one.
func classifyGetError(u *url.URL, err error) error {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return fmt.Errorf("%q: %w", u, ErrNotCached)
	}
	var ae smithy.APIError
	if errors.As(err, &ae) && (ae.ErrorCode() == "NoSuchKey" || ae.ErrorCode() == "NotFound") {
		return fmt.Errorf("%q: %w", u, ErrNotCached)
	}
	return err
}
