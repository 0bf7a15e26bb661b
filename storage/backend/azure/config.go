package azure

import (
	"os"
	"time"
)

// Environment keys consumed by CredentialConfig.Resolve. The exact names are
// part of the contract with deployment tooling.
const (
	// EnvFederatedToken holds a federated token value directly. It takes
	// precedence over EnvFederatedTokenFile.
	EnvFederatedToken = "AZURE_FEDERATED_TOKEN"
	// EnvFederatedTokenFile points to a file whose contents are the
	// federated token.
	EnvFederatedTokenFile = "AZURE_FEDERATED_TOKEN_FILE"
	// EnvTenantID holds the AAD tenant identifier.
	EnvTenantID = "AZURE_TENANT_ID_ENV_KEY"
	// EnvAuthorityHost holds the authority host URL for token requests.
	EnvAuthorityHost = "AZURE_AUTHORITY_HOST_ENV_KEY"
)

// AzurePublicCloud is the authority host used when neither the seed nor the
// environment provides one.
const AzurePublicCloud = "https://login.microsoftonline.com"

// Config is a structure to store Azure backend configuration.
type Config struct {
	ContainerName    string
	BlobStorageURL   string
	Azurite          bool
	MaxRetryRequests int
	Timeout          time.Duration

	// Credential is the seed credential configuration. New passes it
	// through CredentialConfig.Resolve before selecting an authentication
	// mechanism.
	Credential CredentialConfig
}

// CredentialConfig carries the credential material for Azure Storage
// services. Every field is optional; nil means unset. A zero CredentialConfig
// is a valid seed.
//
// AccountName through Endpoint are only ever supplied by the caller.
// FederatedToken, TenantID and AuthorityHost are additionally sourced from
// the environment by Resolve.
type CredentialConfig struct {
	// AccountName is the storage account name.
	AccountName *string
	// AccountKey is the storage account shared key.
	AccountKey *string
	// SASToken is a shared access signature query string.
	SASToken *string

	// ObjectID selects a user-assigned managed identity by object id.
	// ClientID and MSIResourceID should be left unset when it is used.
	ObjectID *string
	// ClientID selects a user-assigned managed identity by application
	// (client) id, and doubles as the client id for workload identity.
	ClientID *string
	// MSIResourceID selects a user-assigned managed identity by its ARM
	// resource id.
	MSIResourceID *string
	// MSISecret is the header value used when retrieving managed identity
	// tokens from a protected endpoint.
	MSISecret *string
	// Endpoint overrides the managed identity token endpoint.
	Endpoint *string

	// FederatedToken is an externally issued token exchanged for an Azure
	// access token. Resolve loads it from EnvFederatedTokenFile, then from
	// EnvFederatedToken.
	FederatedToken *string
	// TenantID is the AAD tenant. Resolve loads it from EnvTenantID.
	TenantID *string
	// AuthorityHost is the identity provider base URL. Resolve loads it
	// from EnvAuthorityHost and defaults it to AzurePublicCloud, so it is
	// always set after resolution.
	AuthorityHost *string
}

// LookupEnvFunc reports the value of an environment key, os.LookupEnv style.
type LookupEnvFunc func(key string) (string, bool)

// ReadFileFunc reads a whole file, os.ReadFile style.
type ReadFileFunc func(name string) ([]byte, error)

type resolveOptions struct {
	lookupEnv LookupEnvFunc
	readFile  ReadFileFunc
}

// ResolveOption overrides behavior of Resolve.
type ResolveOption interface {
	apply(*resolveOptions)
}

type resolveOptionFunc func(*resolveOptions)

func (f resolveOptionFunc) apply(o *resolveOptions) {
	f(o)
}

// WithLookupEnv sets the environment lookup used by Resolve. Tests use it to
// substitute a fixed mapping for the process environment.
func WithLookupEnv(f LookupEnvFunc) ResolveOption {
	return resolveOptionFunc(func(o *resolveOptions) {
		o.lookupEnv = f
	})
}

// WithReadFile sets the file reader used for the federated token file.
func WithReadFile(f ReadFileFunc) ResolveOption {
	return resolveOptionFunc(func(o *resolveOptions) {
		o.readFile = f
	})
}

// Resolve merges the receiver with values discovered from the environment and
// returns the finalized configuration. It never fails and does not mutate the
// receiver. Resolving an already-resolved configuration under the same
// environment yields an identical result.
//
// Precedence is fixed per field: the eight caller-only fields are returned
// untouched; FederatedToken is loaded from the token file and then
// unconditionally overwritten by the direct environment value when present;
// TenantID and AuthorityHost are overwritten whenever their environment keys
// are set, and AuthorityHost falls back to AzurePublicCloud otherwise.
func (c CredentialConfig) Resolve(opts ...ResolveOption) CredentialConfig {
	options := resolveOptions{
		lookupEnv: os.LookupEnv,
		readFile:  os.ReadFile,
	}
	for _, o := range opts {
		o.apply(&options)
	}

	// FederatedToken can be loaded from both EnvFederatedTokenFile and
	// EnvFederatedToken. The direct value wins, so its check runs last.
	if path, ok := options.lookupEnv(EnvFederatedTokenFile); ok {
		token := readTokenFile(options.readFile, path)
		c.FederatedToken = &token
	}

	if v, ok := options.lookupEnv(EnvFederatedToken); ok {
		token := v
		c.FederatedToken = &token
	}

	if v, ok := options.lookupEnv(EnvTenantID); ok {
		tenant := v
		c.TenantID = &tenant
	}

	if v, ok := options.lookupEnv(EnvAuthorityHost); ok {
		host := v
		c.AuthorityHost = &host
	} else {
		host := AzurePublicCloud
		c.AuthorityHost = &host
	}

	return c
}

// readTokenFile loads the federated token from the given path, masking any
// read failure as an empty token. A missing or unreadable file therefore
// produces a client that fails authentication later instead of a startup
// error. The masking is kept for compatibility with existing deployments;
// callers wanting a hard failure should read the file themselves and seed
// FederatedToken directly.
func readTokenFile(read ReadFileFunc, path string) string {
	b, err := read(path)
	if err != nil {
		return ""
	}

	return string(b)
}
