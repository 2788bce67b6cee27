package objectstore

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"
)

// AzureBlob stores objects in an Azure Blob Storage container, presigning
// reads with a SAS URL.
type AzureBlob struct {
	client    *azblob.Client
	container string
	ttl       time.Duration
}

// NewAzureBlob builds an AzureBlob store from a storage account connection
// string.
func NewAzureBlob(connectionString, container string, presignTTL time.Duration) (*AzureBlob, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("objectstore: azblob client: %w", err)
	}
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	return &AzureBlob{client: client, container: container, ttl: presignTTL}, nil
}

func (a *AzureBlob) PutObject(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	opts := &azblob.UploadBufferOptions{}
	if contentType != "" {
		opts.HTTPHeaders = &service.BlobHTTPHeaders{BlobContentType: &contentType}
	}
	if _, err := a.client.UploadBuffer(ctx, a.container, key, data, opts); err != nil {
		return "", fmt.Errorf("objectstore: azblob put: %w", err)
	}
	return a.PresignGet(ctx, key)
}

func (a *AzureBlob) PresignGet(_ context.Context, key string) (string, error) {
	perms := sas.BlobPermissions{Read: true}
	url, err := a.client.ServiceClient().NewContainerClient(a.container).NewBlobClient(key).
		GetSASURL(perms, time.Now().Add(a.ttl), nil)
	if err != nil {
		return "", fmt.Errorf("objectstore: azblob presign: %w", err)
	}
	return url, nil
}
