// Package objstore resolves input files that live in a Cloudflare R2
// bucket instead of on local disk. Inputs are addressed as
// r2://bucket/key and fetched through the S3 API against the account's
// R2 endpoint.
package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const uriScheme = "r2://"

// ParseURI splits an r2://bucket/key reference. ok is false for local
// paths.
func ParseURI(s string) (bucket, key string, ok bool) {
	if !strings.HasPrefix(s, uriScheme) {
		return "", "", false
	}
	rest := strings.TrimPrefix(s, uriScheme)
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// Client downloads objects from R2.
type Client struct {
	s3 *s3.Client
}

// NewClient builds an R2-backed S3 client from R2_ACCOUNT_ID,
// R2_ACCESS_KEY and R2_SECRET_KEY.
func NewClient(ctx context.Context) (*Client, error) {
	accountID := os.Getenv("R2_ACCOUNT_ID")
	accessKey := os.Getenv("R2_ACCESS_KEY")
	secretKey := os.Getenv("R2_SECRET_KEY")
	if accountID == "" || accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("r2 inputs need R2_ACCOUNT_ID, R2_ACCESS_KEY and R2_SECRET_KEY in the environment")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID))
	})
	return &Client{s3: client}, nil
}

// Download fetches one object into memory.
func (c *Client) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, out.Body); err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadInput reads path from local disk, or from R2 when it is an
// r2:// reference.
func ReadInput(ctx context.Context, path string) ([]byte, error) {
	bucket, key, remote := ParseURI(path)
	if !remote {
		return os.ReadFile(path)
	}
	client, err := NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return client.Download(ctx, bucket, key)
}
