package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-harvester/internal/config"
	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/observability"
)

// objectPutter is the part of *s3.S3 the exporter uses.
type objectPutter interface {
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

// S3Exporter uploads finished edition files, gzip-compressed, to
// {prefix}/{name}.gz.
type S3Exporter struct {
	client objectPutter
	bucket string
	prefix string
	logger zerolog.Logger
}

// NewS3Exporter creates an exporter using the default AWS credential chain.
func NewS3Exporter(cfg config.S3Config, logger zerolog.Logger) (*S3Exporter, error) {
	if cfg.Bucket == "" {
		return nil, domain.NewValidationError("s3.bucket", "bucket is required")
	}
	awsCfg := &aws.Config{}
	if cfg.Region != "" {
		awsCfg.Region = aws.String(cfg.Region)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return newS3Exporter(s3.New(sess), cfg, logger), nil
}

func newS3Exporter(client objectPutter, cfg config.S3Config, logger zerolog.Logger) *S3Exporter {
	return &S3Exporter{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger.With().Str("component", "s3_exporter").Logger(),
	}
}

// Key returns the object key for a file name.
func (e *S3Exporter) Key(name string) string {
	if e.prefix == "" {
		return name + ".gz"
	}
	return path.Join(e.prefix, name+".gz")
}

// Export implements Exporter.
func (e *S3Exporter) Export(ctx context.Context, name string, data []byte) error {
	compressed, err := gzipBytes(data)
	if err != nil {
		return err
	}

	key := e.Key(name)
	meta := map[string]*string{
		"original-size": aws.String(fmt.Sprintf("%d", len(data))),
		"export-time":   aws.String(time.Now().UTC().Format(time.RFC3339)),
	}
	if runID := observability.RunIDFromContext(ctx); runID != "" {
		meta["run-id"] = aws.String(runID)
	}

	_, err = e.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(e.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(compressed),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
		Metadata:        meta,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to s3: %w", key, err)
	}

	e.logger.Info().
		Str("bucket", e.bucket).
		Str("key", key).
		Int("original_size", len(data)).
		Int("compressed_size", len(compressed)).
		Msg("edition exported")
	return nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write to gzip writer: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}
