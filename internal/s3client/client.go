package s3client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/reusetrack/reusetrack-go/internal/credentials"
)

// ErrObjectNotFound is returned by GetObject for a missing key
var ErrObjectNotFound = errors.New("object not found")

// ObjectClient is the subset of S3 the provenance store uses
type ObjectClient interface {
	ListObjects(ctx context.Context, prefix string) ([]string, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte) error
	DeleteObject(ctx context.Context, key string) error
}

// Client represents an S3 client
type Client struct {
	bucket   string
	region   string
	endpoint string
	creds    *credentials.Credentials
	s3Client *s3.Client
	initErr  error
}

var _ ObjectClient = (*Client)(nil)

// NewClient creates a new S3 client
func NewClient(bucket, region string, creds *credentials.Credentials) *Client {
	return NewClientWithEndpoint(bucket, region, "", creds)
}

// NewClientWithEndpoint creates a new S3 client with custom endpoint
func NewClientWithEndpoint(bucket, region, endpoint string, creds *credentials.Credentials) *Client {
	client := &Client{
		bucket:   bucket,
		region:   region,
		endpoint: endpoint,
		creds:    creds,
	}

	if creds == nil || !creds.IsValid() {
		client.initErr = errors.New("missing access key or secret")
		return client
	}

	cfgOptions := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(
			creds.AccessKeyID,
			creds.SecretAccessKey,
			creds.SessionToken,
		)),
	}

	cfg, err := config.LoadDefaultConfig(context.Background(), cfgOptions...)
	if err != nil {
		client.initErr = err
		return client
	}

	s3Options := []func(*s3.Options){}
	if endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true // Required for LocalStack
		})
	}
	client.s3Client = s3.NewFromConfig(cfg, s3Options...)
	return client
}

// ready reports why the client cannot issue requests, if it cannot
func (c *Client) ready() error {
	if c.s3Client == nil {
		return fmt.Errorf("S3 client not initialized: %w", c.initErr)
	}
	return nil
}

// ListObjects lists every key with the given prefix, following pagination
func (c *Client) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	paginator := s3.NewListObjectsV2Paginator(c.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}

	return keys, nil
}

// GetObject retrieves an object from S3
func (c *Client) GetObject(ctx context.Context, key string) ([]byte, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	return data, nil
}

// PutObject uploads an object to S3
func (c *Client) PutObject(ctx context.Context, key string, data []byte) error {
	if err := c.ready(); err != nil {
		return err
	}

	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}

	return nil
}

// DeleteObject deletes an object from S3
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	if err := c.ready(); err != nil {
		return err
	}

	_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}

// CreateBucket creates the client's bucket
func (c *Client) CreateBucket(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}

	_, err := c.s3Client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	return nil
}
