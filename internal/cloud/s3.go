package cloud

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gyeh/medicare-lookup/internal/output"
)

// S3Client wraps the object operations used for name chunks, task results and
// archived reports. It is bound to a single bucket.
type S3Client struct {
	client *s3.Client
	bucket string
}

// NewS3Client creates an S3 client for the given bucket.
func NewS3Client(ctx context.Context, bucket, region string) (*S3Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &S3Client{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
	}, nil
}

func (c *S3Client) Bucket() string { return c.bucket }

// UploadBytes puts data at key.
func (c *S3Client) UploadBytes(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("putting s3://%s/%s: %w", c.bucket, key, err)
	}
	return nil
}

// DownloadBytes reads the whole object at key.
func (c *S3Client) DownloadBytes(ctx context.Context, key string) ([]byte, error) {
	resp, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("getting s3://%s/%s: %w", c.bucket, key, err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// DownloadSearchOutput reads a bulk result document written by a task.
func (c *S3Client) DownloadSearchOutput(ctx context.Context, key string) (output.SearchOutput, error) {
	resp, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return output.SearchOutput{}, fmt.Errorf("getting s3://%s/%s: %w", c.bucket, key, err)
	}
	defer resp.Body.Close()

	return output.ReadResults(resp.Body)
}

func (c *S3Client) DeleteObject(ctx context.Context, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	return err
}
