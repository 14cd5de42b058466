package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"authwatch/internal/config"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader copies report artifacts to S3. Retries are driven here, so the SDK
// client is built with its own retries disabled.
type Uploader struct {
	cfg    config.S3Config
	client objectPutter
}

func NewUploader(ctx context.Context, cfg config.S3Config) (*Uploader, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, withoutSDKRetries)
	return &Uploader{cfg: cfg, client: client}, nil
}

// withoutSDKRetries makes every PutObject a single attempt. RetryMaxAttempts
// must stay 0 here, which means "keep the retryer as configured".
func withoutSDKRetries(o *s3.Options) {
	o.Retryer = aws.NopRetryer{}
	o.RetryMaxAttempts = 0
}

// Key returns the object key for a local artifact.
func (u *Uploader) Key(runID, file string) string {
	return path.Join(u.cfg.Prefix, runID, filepath.Base(file))
}

// UploadFile uploads file under key, retrying with exponential backoff capped at 2s.
func (u *Uploader) UploadFile(ctx context.Context, key, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	retries := u.cfg.Retries
	if retries <= 0 {
		retries = 1
	}
	var lastErr error
	backoff := 200 * time.Millisecond
	for attempt := 1; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		if lastErr = u.putObject(ctx, key, f, info.Size()); lastErr == nil {
			return nil
		}
		if attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff = min(backoff*2, 2*time.Second)
		}
	}
	return fmt.Errorf("upload %s: %w", key, lastErr)
}

func (u *Uploader) putObject(ctx context.Context, key string, body io.Reader, size int64) error {
	timeout := u.cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx2, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := u.client.PutObject(ctx2, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	return err
}
