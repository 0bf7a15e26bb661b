package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/crateloop/azstore/internal"
	"github.com/crateloop/azstore/storage/backend"
	"github.com/crateloop/azstore/storage/common"
)

var _ backend.Backend = (*Backend)(nil)

const (
	// DefaultBlobMaxRetryRequests is the default number of retries for
	// blob operations.
	DefaultBlobMaxRetryRequests = 4

	// DefaultBlobStorageURL is the public blob endpoint suffix.
	DefaultBlobStorageURL = "blob.core.windows.net"

	defaultTimeout = 30 * time.Second
)

// Backend implements backend.Backend for Azure Blob Storage.
type Backend struct {
	logger        log.Logger
	client        *azblob.Client
	containerName string
}

// New creates an Azure Blob Storage backend. It resolves the seed credential
// configuration against the environment, selects an authentication mechanism
// and ensures the container exists.
func New(l log.Logger, c Config) (*Backend, error) {
	if c.MaxRetryRequests == 0 {
		c.MaxRetryRequests = DefaultBlobMaxRetryRequests
	}

	if c.BlobStorageURL == "" {
		c.BlobStorageURL = DefaultBlobStorageURL
	}

	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}

	if c.ContainerName == "" {
		return nil, errors.New("azure container name is required")
	}

	cred := c.Credential.Resolve()

	if cred.AccountName == nil {
		return nil, errors.New("azure account name is required")
	}

	var serviceURL string
	if c.Azurite {
		serviceURL = fmt.Sprintf("http://%s/%s", c.BlobStorageURL, *cred.AccountName)
	} else {
		serviceURL = fmt.Sprintf("https://%s.%s", *cred.AccountName, c.BlobStorageURL)
	}

	level.Debug(l).Log("msg", "constructing blob service client", "url", serviceURL)

	opts := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{MaxRetries: int32(c.MaxRetryRequests)},
		},
	}

	client, err := newClient(l, serviceURL, cred, opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	if err := ensureContainer(ctx, client, c.ContainerName); err != nil {
		return nil, err
	}

	return &Backend{
		logger:        l,
		client:        client,
		containerName: c.ContainerName,
	}, nil
}

// ensureContainer creates the container if it does not exist yet. Creation is
// idempotent; when it fails for any other reason the container is probed with
// a single list call before the error is surfaced, since transient creation
// errors on an existing container are common with emulators.
func ensureContainer(ctx context.Context, client *azblob.Client, name string) error {
	_, err := client.CreateContainer(ctx, name, nil)
	if err == nil {
		return nil
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.ErrorCode == "ContainerAlreadyExists" {
		return nil
	}

	maxResults := int32(1)
	pager := client.NewListBlobsFlatPager(name, &azblob.ListBlobsFlatOptions{MaxResults: &maxResults})
	if _, checkErr := pager.NextPage(ctx); checkErr != nil {
		return fmt.Errorf("azure, failed to create or access container, createErr: %w, checkErr: %v", err, checkErr)
	}

	return nil
}

// Get writes downloaded content to the given writer.
func (b *Backend) Get(ctx context.Context, p string, w io.Writer) error {
	errCh := make(chan error)

	go func() {
		defer close(errCh)

		resp, err := b.client.DownloadStream(ctx, b.containerName, p, nil)
		if err != nil {
			errCh <- fmt.Errorf("get the object, %w", err)
			return
		}

		rc := resp.Body
		defer internal.CloseWithErrLogf(b.logger, rc, "response body, close defer")

		_, err = io.Copy(w, rc)
		if err != nil {
			errCh <- fmt.Errorf("copy the object, %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Put uploads contents of the given reader.
func (b *Backend) Put(ctx context.Context, p string, r io.Reader) error {
	level.Debug(b.logger).Log("msg", "uploading blob", "name", p, "container", b.containerName)

	_, err := b.client.UploadStream(ctx, b.containerName, p, r, nil)
	if err != nil {
		return fmt.Errorf("put the object, %w", err)
	}

	return nil
}

// Exists checks if the object already exists.
func (b *Backend) Exists(ctx context.Context, p string) (bool, error) {
	_, err := b.client.DownloadStream(ctx, b.containerName, p, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return false, nil
		}

		return false, fmt.Errorf("check if object exists, %w", err)
	}

	return true, nil
}

// List contents of the given directory by given key from remote storage.
func (b *Backend) List(ctx context.Context, p string) ([]common.FileEntry, error) {
	prefix := p
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var entries []common.FileEntry

	pager := b.client.NewListBlobsFlatPager(b.containerName, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list blobs, %w", err)
		}

		for _, blobInfo := range resp.Segment.BlobItems {
			if blobInfo.Properties.ContentLength == nil || blobInfo.Properties.LastModified == nil {
				continue
			}

			entries = append(entries, common.FileEntry{
				Path:         *blobInfo.Name,
				Size:         *blobInfo.Properties.ContentLength,
				LastModified: *blobInfo.Properties.LastModified,
			})
		}
	}

	level.Debug(b.logger).Log("msg", "listed blobs", "prefix", p, "count", len(entries))

	return entries, nil
}
