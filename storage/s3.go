// Package storage handles the imagery object store: deterministic keys
// plus upload and download paths over S3.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/SulemanHamdani/satellite-pipeline-with-aws/core"
)

// S3API is the subset of the S3 client used by the object store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// OpError wraps an S3 failure with the operation that failed, so the
// processor can classify put vs. get failures distinctly.
type OpError struct {
	Op     string // "put" or "get"
	Bucket string
	Key    string
	Err    error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("s3 %s s3://%s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// ObjectStore uploads and downloads tile imagery.
type ObjectStore struct {
	api    S3API
	logger core.Logger
}

// NewObjectStore creates an ObjectStore over the given client.
func NewObjectStore(api S3API, logger core.Logger) *ObjectStore {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &ObjectStore{api: api, logger: logger}
}

// Upload writes imagery to the bucket under the given key.
func (o *ObjectStore) Upload(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	o.logger.Info("Uploading imagery", map[string]interface{}{
		"operation": "s3_put",
		"bucket":    bucket,
		"key":       key,
		"bytes":     len(body),
	})

	_, err := o.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return &OpError{Op: "put", Bucket: bucket, Key: key, Err: err}
	}
	return nil
}

// Download reads imagery back from the bucket. Used on retry when a
// checkpoint exists, avoiding a second upstream provider call.
func (o *ObjectStore) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	o.logger.Info("Downloading imagery", map[string]interface{}{
		"operation": "s3_get",
		"bucket":    bucket,
		"key":       key,
	})

	out, err := o.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, &OpError{Op: "get", Bucket: bucket, Key: key, Err: err}
	}
	defer func() {
		_ = out.Body.Close()
	}()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &OpError{Op: "get", Bucket: bucket, Key: key, Err: err}
	}
	return body, nil
}
