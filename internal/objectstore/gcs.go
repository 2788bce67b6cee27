package objectstore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
)

// GCS stores objects in a Google Cloud Storage bucket using a signed URL
// for reads, signed with a service account whose key file path is given to
// NewGCS via the GOOGLE_APPLICATION_CREDENTIALS convention (left to the
// client library's default credential resolution).
type GCS struct {
	client *storage.Client
	bucket string
	ttl    time.Duration

	// signBy is set from the service account email used to sign URLs;
	// required by the v4 signing scheme when not running with an
	// impersonated credential.
	signBy string
}

// NewGCS builds a GCS store for bucket, using the ambient application
// default credentials.
func NewGCS(ctx context.Context, bucket, signBy string, presignTTL time.Duration) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("objectstore: gcs client: %w", err)
	}
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	return &GCS{client: client, bucket: bucket, ttl: presignTTL, signBy: signBy}, nil
}

func (g *GCS) PutObject(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	obj := g.client.Bucket(g.bucket).Object(key)
	w := obj.NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("objectstore: gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("objectstore: gcs close: %w", err)
	}
	return g.PresignGet(ctx, key)
}

func (g *GCS) PresignGet(ctx context.Context, key string) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(g.ttl),
	}
	if g.signBy != "" {
		opts.GoogleAccessID = g.signBy
	}
	url, err := g.client.Bucket(g.bucket).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("objectstore: gcs presign: %w", err)
	}
	return url, nil
}
