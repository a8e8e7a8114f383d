// Package s3 uploads finished containers to AWS S3 or an S3-compatible
// object store.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	sperrors "github.com/schlafly/bayestar/pkg/errors"
)

// ContentType is set on every uploaded container.
const ContentType = "application/zip"

// Config holds S3 client configuration.
type Config struct {
	// Region is the AWS region (e.g., "us-east-1")
	Region string

	// Bucket and Prefix locate uploaded containers: s3://Bucket/Prefix/<file>.
	Bucket string
	Prefix string

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack)
	UsePathStyle bool

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	UploadTimeout time.Duration

	// PartSize is the multipart threshold and part size in bytes.
	PartSize int64
}

// DefaultConfig returns defaults for uploading to bucket under prefix.
func DefaultConfig(bucket, prefix string) Config {
	return Config{
		Bucket:        bucket,
		Prefix:        strings.Trim(prefix, "/"),
		UploadTimeout: 10 * time.Minute,
		PartSize:      16 * 1024 * 1024,
	}
}

// ParseURL splits an s3://bucket/prefix URL.
func ParseURL(u string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(u, "s3://")
	if !ok {
		return "", "", sperrors.InvalidFlag("upload", u, "must be an s3://bucket/prefix URL")
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", sperrors.InvalidFlag("upload", u, "missing bucket name")
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// api is the part of *s3.Client used for uploads.
type api interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Client uploads files to one bucket and prefix.
type Client struct {
	cfg    Config
	client api
}

// NewClient creates a client from the default AWS credential chain unless
// explicit credentials are configured.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, sperrors.Wrap(err, sperrors.CodeUploadFailed, "failed to load AWS config")
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return newClient(cfg, s3.NewFromConfig(awsCfg, s3Opts...)), nil
}

func newClient(cfg Config, client api) *Client {
	if cfg.PartSize <= 0 {
		cfg.PartSize = DefaultConfig("", "").PartSize
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = DefaultConfig("", "").UploadTimeout
	}
	return &Client{cfg: cfg, client: client}
}

// Bucket returns the destination bucket.
func (c *Client) Bucket() string {
	return c.cfg.Bucket
}

// Key returns the object key a local file is uploaded to.
func (c *Client) Key(localPath string) string {
	return path.Join(c.cfg.Prefix, filepath.Base(localPath))
}

// URL returns the s3:// URL of key.
func (c *Client) URL(key string) string {
	return "s3://" + c.cfg.Bucket + "/" + key
}

// Upload copies the file at localPath to the bucket. Files up to PartSize
// are sent with a single PUT, larger ones as a multipart upload. Its
// signature matches container.CloseHook.
func (c *Client) Upload(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return sperrors.Wrap(err, sperrors.CodeUploadFailed, "open container for upload").WithContext("path", localPath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return sperrors.Wrap(err, sperrors.CodeUploadFailed, "stat container").WithContext("path", localPath)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()

	key := c.Key(localPath)
	if info.Size() <= c.cfg.PartSize {
		_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(c.cfg.Bucket),
			Key:           aws.String(key),
			Body:          f,
			ContentLength: aws.Int64(info.Size()),
			ContentType:   aws.String(ContentType),
		})
	} else {
		err = c.multipart(ctx, key, f)
	}
	if err != nil {
		return sperrors.Wrap(err, sperrors.CodeUploadFailed, "upload container").
			WithContext("path", localPath).
			WithContext("url", c.URL(key))
	}
	return nil
}

func (c *Client) multipart(ctx context.Context, key string, r io.Reader) error {
	created, err := c.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(c.cfg.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(ContentType),
	})
	if err != nil {
		return fmt.Errorf("failed to create multipart upload: %w", err)
	}
	uploadID := created.UploadId

	abort := func(cause error) error {
		// Best effort; the upload error is what matters.
		_, _ = c.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(c.cfg.Bucket),
			Key:      aws.String(key),
			UploadId: uploadID,
		})
		return cause
	}

	var parts []types.CompletedPart
	buf := make([]byte, c.cfg.PartSize)
	for partNum := int32(1); ; partNum++ {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			out, err := c.client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:     aws.String(c.cfg.Bucket),
				Key:        aws.String(key),
				UploadId:   uploadID,
				PartNumber: aws.Int32(partNum),
				Body:       bytes.NewReader(buf[:n]),
			})
			if err != nil {
				return abort(fmt.Errorf("failed to upload part %d: %w", partNum, err))
			}
			parts = append(parts, types.CompletedPart{
				ETag:       out.ETag,
				PartNumber: aws.Int32(partNum),
			})
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return abort(readErr)
		}
	}

	_, err = c.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(c.cfg.Bucket),
		Key:             aws.String(key),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return abort(fmt.Errorf("failed to complete multipart upload: %w", err))
	}
	return nil
}

// ObjectInfo describes an uploaded object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Stat returns the object stored under key.
func (c *Client) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	out, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", c.URL(key), err)
	}
	return &ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ETag:         aws.ToString(out.ETag),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}
