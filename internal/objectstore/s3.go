package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3 stores objects in an S3-compatible bucket and hands back presigned GET
// URLs, grounded on aws-sdk-go-v2's manager uploader and s3.PresignClient.
type S3 struct {
	bucket   string
	client   *s3.Client
	uploader *manager.Uploader
	presign  *s3.PresignClient
	ttl      time.Duration
}

// NewS3 builds an S3 store for bucket in region. When accessKeyID is empty
// it loads credentials from the default AWS credential chain (instance
// role, env vars, shared config); when set, it authenticates with the
// supplied static key pair instead — the path used for S3-compatible
// endpoints (MinIO, on-prem object stores) that don't participate in the
// default chain. endpointURL overrides the resolved endpoint when set.
func NewS3(ctx context.Context, bucket, region, endpointURL, accessKeyID, secretAccessKey string, presignTTL time.Duration) (*S3, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	optFns = append(optFns, awsconfig.WithRegion(region))
	if accessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpointURL != "" {
			o.BaseEndpoint = aws.String(endpointURL)
			o.UsePathStyle = true
		}
	})
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	return &S3{
		bucket:   bucket,
		client:   client,
		uploader: manager.NewUploader(client),
		presign:  s3.NewPresignClient(client),
		ttl:      presignTTL,
	}, nil
}

func (s *S3) PutObject(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("objectstore: s3 put: %w", err)
	}
	return s.PresignGet(ctx, key)
}

func (s *S3) PresignGet(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("objectstore: s3 presign: %w", err)
	}
	return req.URL, nil
}
