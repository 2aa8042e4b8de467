package entries

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/gophjournal/internal/common"
	"github.com/dmitrijs2005/gophjournal/internal/config"
)

// ObjectAPI is the part of *s3.Client the repository uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// NewS3Client builds a path-style client for the configured endpoint, which
// works against both AWS and MinIO.
func NewS3Client(ctx context.Context, c *config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(c.S3Region)}
	if c.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.S3AccessKey, c.S3SecretKey, "")))
	}

	cfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if c.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.S3BaseEndpoint)
		}
		o.UsePathStyle = true
	}), nil
}

// S3Repository stores each entry as a JSON object under
// tags/<tagID>/<entryID>.json, plus a small ids/<entryID> pointer object
// holding the tag id so entries can be found by id alone.
type S3Repository struct {
	api    ObjectAPI
	bucket string
}

func NewS3Repository(api ObjectAPI, bucket string) *S3Repository {
	return &S3Repository{api: api, bucket: bucket}
}

func entryKey(tagID, id string) string {
	return path.Join("tags", tagID, id+".json")
}

func pointerKey(id string) string {
	return path.Join("ids", id)
}

func (r *S3Repository) Save(ctx context.Context, e *Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	if err := r.put(ctx, entryKey(e.TagID, e.ID), body, "application/json"); err != nil {
		return err
	}
	return r.put(ctx, pointerKey(e.ID), []byte(e.TagID), "text/plain")
}

func (r *S3Repository) Get(ctx context.Context, id string) (*Entry, error) {
	tagID, err := r.get(ctx, pointerKey(id))
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", id, err)
	}

	body, err := r.get(ctx, entryKey(string(tagID), id))
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", id, err)
	}

	var e Entry
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("unmarshal entry %s: %w", id, err)
	}
	return &e, nil
}

func (r *S3Repository) ListByTag(ctx context.Context, tagID string) ([]*Entry, error) {
	prefix := path.Join("tags", tagID) + "/"
	p := s3.NewListObjectsV2Paginator(r.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(prefix),
	})

	var out []*Entry
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list entries: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".json") {
				continue
			}
			body, err := r.get(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", key, err)
			}
			var e Entry
			if err := json.Unmarshal(body, &e); err != nil {
				return nil, fmt.Errorf("unmarshal %s: %w", key, err)
			}
			out = append(out, &e)
		}
	}
	sortEntries(out)
	return out, nil
}

func (r *S3Repository) Delete(ctx context.Context, id string) error {
	tagID, err := r.get(ctx, pointerKey(id))
	if err != nil {
		return fmt.Errorf("entry %s: %w", id, err)
	}

	for _, key := range []string{entryKey(string(tagID), id), pointerKey(id)} {
		if _, err := r.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(r.bucket),
			Key:    aws.String(key),
		}); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}

func (r *S3Repository) put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := r.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (r *S3Repository) get(ctx context.Context, key string) ([]byte, error) {
	out, err := r.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
