package azure

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// newClient selects an authentication mechanism from a resolved credential
// configuration and creates a blob service client for it. Mechanisms are
// tried in a fixed priority order: shared key, SAS, workload identity,
// managed identity. Construction performs no network I/O; token acquisition
// happens lazily on the first request the client makes.
func newClient(l log.Logger, serviceURL string, c CredentialConfig, opts *azblob.ClientOptions) (*azblob.Client, error) {
	switch {
	// Priority 0 - shared key.
	case c.AccountName != nil && c.AccountKey != nil:
		level.Info(l).Log("msg", "using shared key authentication", "accountName", *c.AccountName)

		key, err := azblob.NewSharedKeyCredential(*c.AccountName, *c.AccountKey)
		if err != nil {
			return nil, fmt.Errorf("azure, invalid shared key credentials, %w", err)
		}

		client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, key, opts)
		if err != nil {
			return nil, fmt.Errorf("azure, failed to create client with shared key, %w", err)
		}

		return client, nil

	// Priority 1 - shared access signature.
	case c.SASToken != nil:
		level.Info(l).Log("msg", "using shared access signature authentication")

		sasURL := serviceURL + "?" + strings.TrimPrefix(*c.SASToken, "?")

		client, err := azblob.NewClientWithNoCredential(sasURL, opts)
		if err != nil {
			return nil, fmt.Errorf("azure, failed to create client with sas token, %w", err)
		}

		return client, nil

	// Priority 2 - workload identity. The federated token is used directly
	// as the client assertion; an empty token (for example a masked token
	// file read) is still selected here and fails authentication on first
	// use rather than at construction.
	case c.FederatedToken != nil && c.TenantID != nil && c.ClientID != nil:
		level.Info(l).Log("msg", "using workload identity authentication",
			"tenantID", *c.TenantID, "clientID", *c.ClientID, "authorityHost", deref(c.AuthorityHost))

		token := *c.FederatedToken
		getAssertion := func(ctx context.Context) (string, error) {
			return token, nil
		}

		copts := &azidentity.ClientAssertionCredentialOptions{}
		if c.AuthorityHost != nil {
			copts.Cloud = cloud.Configuration{ActiveDirectoryAuthorityHost: *c.AuthorityHost}
		}

		cred, err := azidentity.NewClientAssertionCredential(*c.TenantID, *c.ClientID, getAssertion, copts)
		if err != nil {
			return nil, fmt.Errorf("azure, failed to create workload identity credential, %w", err)
		}

		client, err := azblob.NewClient(serviceURL, cred, opts)
		if err != nil {
			return nil, fmt.Errorf("azure, failed to create client with workload identity, %w", err)
		}

		return client, nil

	// Priority 3 - managed identity. The first populated id wins; setting
	// more than one is a caller mistake this code does not reject.
	case c.ClientID != nil || c.ObjectID != nil || c.MSIResourceID != nil:
		mopts := &azidentity.ManagedIdentityCredentialOptions{}

		switch {
		case c.ClientID != nil:
			level.Info(l).Log("msg", "using managed identity authentication", "clientID", *c.ClientID)
			mopts.ID = azidentity.ClientID(*c.ClientID)
		case c.ObjectID != nil:
			level.Info(l).Log("msg", "using managed identity authentication", "objectID", *c.ObjectID)
			mopts.ID = azidentity.ObjectID(*c.ObjectID)
		case c.MSIResourceID != nil:
			level.Info(l).Log("msg", "using managed identity authentication", "resourceID", *c.MSIResourceID)
			mopts.ID = azidentity.ResourceID(*c.MSIResourceID)
		}

		cred, err := azidentity.NewManagedIdentityCredential(mopts)
		if err != nil {
			return nil, fmt.Errorf("azure, failed to create managed identity credential, %w", err)
		}

		client, err := azblob.NewClient(serviceURL, cred, opts)
		if err != nil {
			return nil, fmt.Errorf("azure, failed to create client with managed identity, %w", err)
		}

		return client, nil

	default:
		return nil, errors.New("azure authentication requires an account key, a sas token, " +
			"a federated token with tenant and client ids, or a managed identity id")
	}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}

	return *p
}
