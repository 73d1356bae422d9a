// Package s3mirror optionally archives a finished run's directory to S3, so
// a workstation whose runs directory is scratch space keeps a durable copy of
// images and logs.
package s3mirror

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// Mirror uploads run artifacts to one bucket/prefix.
type Mirror struct {
	client *s3.Client
	bucket string
	prefix string
}

// New creates a mirror using the default AWS credential chain. region may be
// empty to defer to the environment.
func New(ctx context.Context, bucket, prefix, region string) (*Mirror, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &Mirror{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// MirrorRun walks the run directory and uploads every regular file under
// <prefix>/<run name>/. Uploads are best effort per file; the first failure
// aborts the walk so a partial archive is reported rather than silently kept.
func (m *Mirror) MirrorRun(ctx context.Context, runDir, runName string) error {
	var uploaded int
	err := filepath.WalkDir(runDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(runDir, path)
		if err != nil {
			return err
		}
		if err := m.uploadFile(ctx, path, m.key(runName, rel)); err != nil {
			return err
		}
		uploaded++
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror run %s: %w", runName, err)
	}

	log.Info().
		Str("run", runName).
		Str("bucket", m.bucket).
		Int("files", uploaded).
		Msg("Run mirrored to S3")
	return nil
}

func (m *Mirror) key(runName, rel string) string {
	key := runName + "/" + filepath.ToSlash(rel)
	if m.prefix != "" {
		key = m.prefix + "/" + key
	}
	return key
}

func (m *Mirror) uploadFile(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}

	log.Debug().
		Str("key", key).
		Msg("Uploaded run artifact to S3")
	return nil
}
