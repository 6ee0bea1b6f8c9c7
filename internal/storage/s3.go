// Package storage hosts generated images in an S3-compatible bucket and
// supports the retention sweep run by the cleanup job.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/rahu7v3rma/soreal-sub001/internal/config"
)

// ErrNotConfigured is returned by New when bucket settings are missing.
var ErrNotConfigured = errors.New("storage: bucket not configured")

// deleteBatch is the S3 DeleteObjects limit.
const deleteBatch = 1000

// Object is a stored image.
type Object struct {
	Key string
	URL string
}

// api is the subset of *s3.Client used here.
type api interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	s3.ListObjectsV2APIClient
}

// S3 stores objects under a date-partitioned prefix.
type S3 struct {
	client        api
	bucket        string
	prefix        string
	publicBaseURL string
	now           func() time.Time
}

// New builds an S3 store from configuration.
func New(cfg config.StorageConfig) (*S3, error) {
	if cfg.Bucket == "" || cfg.PublicBaseURL == "" {
		return nil, ErrNotConfigured
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("storage: s3 credentials are required")
	}
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return newWithClient(s3.New(opts), cfg), nil
}

func newWithClient(c api, cfg config.StorageConfig) *S3 {
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "generations"
	}
	return &S3{
		client:        c,
		bucket:        cfg.Bucket,
		prefix:        prefix,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		now:           time.Now,
	}
}

// Upload stores data as a public-read object owned by userID.
func (s *S3) Upload(ctx context.Context, userID string, data []byte, contentType string) (*Object, error) {
	if len(data) == 0 {
		return nil, errors.New("storage: no data to upload")
	}
	if contentType == "" {
		contentType = "image/png"
	}
	key := s.generateKey(userID, contentType)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return nil, fmt.Errorf("upload to s3: %w", err)
	}
	return &Object{Key: key, URL: s.publicBaseURL + "/" + key}, nil
}

// ListOlderThan returns keys under the prefix last modified before cutoff.
func (s *S3) ListOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + "/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return keys, fmt.Errorf("list s3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || obj.LastModified == nil {
				continue
			}
			if obj.LastModified.Before(cutoff) {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return keys, nil
}

// Delete removes keys in batches. It returns the keys actually deleted;
// per-key failures are collected into the returned error.
func (s *S3) Delete(ctx context.Context, keys []string) ([]string, error) {
	var (
		deleted []string
		errs    []error
	)
	for start := 0; start < len(keys); start += deleteBatch {
		end := min(start+deleteBatch, len(keys))
		batch := keys[start:end]

		ids := make([]types.ObjectIdentifier, 0, len(batch))
		for _, k := range batch {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("delete batch at %d: %w", start, err))
			continue
		}
		failed := make(map[string]bool, len(out.Errors))
		for _, e := range out.Errors {
			k := aws.ToString(e.Key)
			failed[k] = true
			errs = append(errs, fmt.Errorf("delete %s: %s", k, aws.ToString(e.Message)))
		}
		for _, k := range batch {
			if !failed[k] {
				deleted = append(deleted, k)
			}
		}
	}
	return deleted, errors.Join(errs...)
}

func (s *S3) generateKey(userID, contentType string) string {
	now := s.now().UTC()
	owner := strings.Trim(userID, "/")
	if owner == "" {
		owner = "anonymous"
	}
	return path.Join(s.prefix, fmt.Sprintf("%04d/%02d/%02d", now.Year(), now.Month(), now.Day()),
		owner, uuid.NewString()+extensionFromContentType(contentType))
}

func extensionFromContentType(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	switch ct {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
