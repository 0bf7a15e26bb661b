package azure

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/crateloop/azstore/test"
)

func strp(s string) *string {
	return &s
}

// lookupFrom returns a LookupEnvFunc backed by a fixed map, so tests never
// touch the process environment.
func lookupFrom(m map[string]string) LookupEnvFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeTokenFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "token")
	test.Ok(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestResolveLeavesCallerOnlyFieldsUntouched(t *testing.T) {
	t.Parallel()

	seed := CredentialConfig{
		AccountName:   strp("devstoreaccount1"),
		AccountKey:    strp("key-material"),
		SASToken:      strp("sv=2023&sig=abc"),
		ObjectID:      strp("object-1"),
		ClientID:      strp("client-1"),
		MSIResourceID: strp("/subscriptions/s/resourceGroups/rg/id"),
		MSISecret:     strp("header-secret"),
		Endpoint:      strp("http://169.254.169.254/metadata/identity/oauth2/token"),
	}

	// Even with every environment key set, the caller-only fields must come
	// back byte-identical.
	env := map[string]string{
		EnvFederatedToken:     "tok-direct",
		EnvFederatedTokenFile: "/does/not/matter",
		EnvTenantID:           "tenant-123",
		EnvAuthorityHost:      "https://login.example.com",
	}

	resolved := seed.Resolve(WithLookupEnv(lookupFrom(env)))

	test.Equals(t, *seed.AccountName, *resolved.AccountName)
	test.Equals(t, *seed.AccountKey, *resolved.AccountKey)
	test.Equals(t, *seed.SASToken, *resolved.SASToken)
	test.Equals(t, *seed.ObjectID, *resolved.ObjectID)
	test.Equals(t, *seed.ClientID, *resolved.ClientID)
	test.Equals(t, *seed.MSIResourceID, *resolved.MSIResourceID)
	test.Equals(t, *seed.MSISecret, *resolved.MSISecret)
	test.Equals(t, *seed.Endpoint, *resolved.Endpoint)
}

func TestResolveFederatedToken(t *testing.T) {
	t.Parallel()

	tokenFile := writeTokenFile(t, "tok-from-file")

	testCases := []struct {
		name     string
		seed     CredentialConfig
		env      map[string]string
		expected *string
	}{
		{
			name:     "NoSourceLeavesSeedAbsent",
			env:      map[string]string{},
			expected: nil,
		},
		{
			name:     "FileOnly",
			env:      map[string]string{EnvFederatedTokenFile: tokenFile},
			expected: strp("tok-from-file"),
		},
		{
			name: "DirectValueWinsOverFile",
			env: map[string]string{
				EnvFederatedTokenFile: tokenFile,
				EnvFederatedToken:     "tok-direct",
			},
			expected: strp("tok-direct"),
		},
		{
			name:     "DirectValueWithoutFile",
			env:      map[string]string{EnvFederatedToken: "tok-direct"},
			expected: strp("tok-direct"),
		},
		{
			name:     "MissingFileCoercedToEmptyToken",
			env:      map[string]string{EnvFederatedTokenFile: filepath.Join(t.TempDir(), "missing")},
			expected: strp(""),
		},
		{
			name:     "DirectValueOverwritesSeed",
			seed:     CredentialConfig{FederatedToken: strp("tok-seeded")},
			env:      map[string]string{EnvFederatedToken: "tok-direct"},
			expected: strp("tok-direct"),
		},
		{
			name:     "FileOverwritesSeed",
			seed:     CredentialConfig{FederatedToken: strp("tok-seeded")},
			env:      map[string]string{EnvFederatedTokenFile: tokenFile},
			expected: strp("tok-from-file"),
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			resolved := tc.seed.Resolve(WithLookupEnv(lookupFrom(tc.env)))

			if diff := cmp.Diff(tc.expected, resolved.FederatedToken); diff != "" {
				t.Errorf("unexpected federated token (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveFederatedTokenReadFailureIsMasked(t *testing.T) {
	t.Parallel()

	env := map[string]string{EnvFederatedTokenFile: "/etc/kubernetes/token"}

	failingRead := func(name string) ([]byte, error) {
		return nil, errors.New("permission denied")
	}

	resolved := CredentialConfig{}.Resolve(
		WithLookupEnv(lookupFrom(env)),
		WithReadFile(failingRead),
	)

	// The failure is swallowed; the token ends up set but empty, which is
	// distinguishable from absent.
	test.Assert(t, resolved.FederatedToken != nil, "federated token should be set")
	test.Equals(t, "", *resolved.FederatedToken)
}

func TestResolveTenantID(t *testing.T) {
	t.Parallel()

	t.Run("EnvironmentOverridesSeed", func(t *testing.T) {
		t.Parallel()

		seed := CredentialConfig{TenantID: strp("preexisting")}
		env := map[string]string{EnvTenantID: "tenant-123"}

		resolved := seed.Resolve(WithLookupEnv(lookupFrom(env)))

		test.Equals(t, "tenant-123", *resolved.TenantID)
	})

	t.Run("SeedSurvivesWhenUnsetInEnvironment", func(t *testing.T) {
		t.Parallel()

		seed := CredentialConfig{TenantID: strp("preexisting")}

		resolved := seed.Resolve(WithLookupEnv(lookupFrom(nil)))

		test.Equals(t, "preexisting", *resolved.TenantID)
	})
}

func TestResolveAuthorityHost(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		seed     CredentialConfig
		env      map[string]string
		expected string
	}{
		{
			name:     "DefaultsToPublicCloud",
			env:      map[string]string{},
			expected: AzurePublicCloud,
		},
		{
			name:     "EnvironmentValueWins",
			env:      map[string]string{EnvAuthorityHost: "https://login.example.com"},
			expected: "https://login.example.com",
		},
		{
			name:     "EnvironmentValueWinsOverSeed",
			seed:     CredentialConfig{AuthorityHost: strp("https://login.chinacloudapi.cn")},
			env:      map[string]string{EnvAuthorityHost: "https://login.example.com"},
			expected: "https://login.example.com",
		},
		{
			// The environment-or-default policy owns this field; a seeded
			// value does not survive an unset environment.
			name:     "DefaultReplacesSeedWhenUnset",
			seed:     CredentialConfig{AuthorityHost: strp("https://login.chinacloudapi.cn")},
			env:      map[string]string{},
			expected: AzurePublicCloud,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			resolved := tc.seed.Resolve(WithLookupEnv(lookupFrom(tc.env)))

			test.Assert(t, resolved.AuthorityHost != nil, "authority host is guaranteed after resolution")
			test.Equals(t, tc.expected, *resolved.AuthorityHost)
		})
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	t.Parallel()

	tokenFile := writeTokenFile(t, "tok-from-file")

	env := map[string]string{
		EnvFederatedTokenFile: tokenFile,
		EnvTenantID:           "tenant-123",
	}

	seed := CredentialConfig{
		AccountName: strp("devstoreaccount1"),
		ClientID:    strp("client-1"),
	}

	once := seed.Resolve(WithLookupEnv(lookupFrom(env)))
	twice := once.Resolve(WithLookupEnv(lookupFrom(env)))

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("resolving twice changed the result (-once +twice):\n%s", diff)
	}
}

func TestResolveDoesNotMutateSeed(t *testing.T) {
	t.Parallel()

	seed := CredentialConfig{
		AccountName: strp("devstoreaccount1"),
		TenantID:    strp("preexisting"),
	}
	original := seed

	env := map[string]string{
		EnvFederatedToken: "tok-direct",
		EnvTenantID:       "tenant-123",
		EnvAuthorityHost:  "https://login.example.com",
	}

	seed.Resolve(WithLookupEnv(lookupFrom(env)))

	if diff := cmp.Diff(original, seed); diff != "" {
		t.Errorf("seed mutated by Resolve (-want +got):\n%s", diff)
	}
}

func TestResolveZeroSeed(t *testing.T) {
	t.Parallel()

	resolved := CredentialConfig{}.Resolve(WithLookupEnv(lookupFrom(nil)))

	test.Assert(t, resolved.FederatedToken == nil, "federated token should stay absent")
	test.Assert(t, resolved.TenantID == nil, "tenant id should stay absent")
	test.Equals(t, AzurePublicCloud, *resolved.AuthorityHost)
}
