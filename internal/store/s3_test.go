package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-harvester/internal/config"
	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/observability"
)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObjectWithContext(_ aws.Context, input *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, input)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestNewS3Exporter(t *testing.T) {
	_, err := NewS3Exporter(config.S3Config{}, zerolog.Nop())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestS3Exporter_Key(t *testing.T) {
	assert.Equal(t, "icse_2024.json.gz", newS3Exporter(nil, config.S3Config{Bucket: "b"}, zerolog.Nop()).Key("icse_2024.json"))
	assert.Equal(t, "harvest/a/icse_2024.json.gz",
		newS3Exporter(nil, config.S3Config{Bucket: "b", Prefix: "harvest/a/"}, zerolog.Nop()).Key("icse_2024.json"))
}

func TestS3Exporter_Export(t *testing.T) {
	ctx := observability.WithRunID(context.Background(), "run-9")
	data := []byte(`{"metadata":{"venue_name":"icse"},"papers":[]}`)

	t.Run("uploads gzip-compressed data", func(t *testing.T) {
		fp := &fakePutter{}
		exp := newS3Exporter(fp, config.S3Config{Bucket: "papers", Prefix: "out"}, zerolog.Nop())

		require.NoError(t, exp.Export(ctx, "icse_2024.json", data))
		require.Len(t, fp.inputs, 1)

		in := fp.inputs[0]
		assert.Equal(t, "papers", aws.StringValue(in.Bucket))
		assert.Equal(t, "out/icse_2024.json.gz", aws.StringValue(in.Key))
		assert.Equal(t, "gzip", aws.StringValue(in.ContentEncoding))
		assert.Equal(t, "application/json", aws.StringValue(in.ContentType))
		assert.Equal(t, "run-9", aws.StringValue(in.Metadata["run-id"]))

		zr, err := gzip.NewReader(bytes.NewReader(fp.bodies[0]))
		require.NoError(t, err)
		plain, err := io.ReadAll(zr)
		require.NoError(t, err)
		assert.Equal(t, data, plain)
	})

	t.Run("upload error", func(t *testing.T) {
		fp := &fakePutter{err: errors.New("access denied")}
		exp := newS3Exporter(fp, config.S3Config{Bucket: "papers"}, zerolog.Nop())
		err := exp.Export(ctx, "icse_2024.json", data)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "icse_2024.json.gz")
	})
}
