package scanprep

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parascan/repocore/pkg/cleantemp"
	"github.com/parascan/repocore/pkg/context"
	"github.com/parascan/repocore/pkg/credcipher"
	"github.com/parascan/repocore/pkg/credstore"
	"github.com/parascan/repocore/pkg/gitrepo"
	"github.com/parascan/repocore/pkg/giturl"
	"github.com/parascan/repocore/pkg/snippet"
)

const testMasterKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// memStore is an in-memory credstore.Store for tests.
type memStore struct {
	rows map[string]*credstore.RepositoryCredential
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]*credstore.RepositoryCredential)}
}

func (m *memStore) key(orgID uuid.UUID, repoURL string) string {
	return orgID.String() + "|" + giturl.Normalize(repoURL)
}

func (m *memStore) Save(_ context.Context, cred *credstore.RepositoryCredential) error {
	cred.RepositoryURL = giturl.Normalize(cred.RepositoryURL)
	cred.ValidationStatus = credstore.StatusUntested
	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}
	clone := *cred
	m.rows[m.key(cred.OrgID, cred.RepositoryURL)] = &clone
	return nil
}

func (m *memStore) Get(_ context.Context, orgID uuid.UUID, repoURL string) (*credstore.RepositoryCredential, error) {
	cred, ok := m.rows[m.key(orgID, repoURL)]
	if !ok {
		return nil, credstore.ErrNotFound
	}
	clone := *cred
	return &clone, nil
}

func (m *memStore) UpdateValidation(_ context.Context, id uuid.UUID, valid bool) error {
	for _, cred := range m.rows {
		if cred.ID == id {
			if valid {
				cred.ValidationStatus = credstore.StatusValid
			} else {
				cred.ValidationStatus = credstore.StatusInvalid
			}
			return nil
		}
	}
	return credstore.ErrNotFound
}

func (m *memStore) Delete(_ context.Context, orgID uuid.UUID, repoURL string) error {
	key := m.key(orgID, repoURL)
	if _, ok := m.rows[key]; !ok {
		return credstore.ErrNotFound
	}
	delete(m.rows, key)
	return nil
}

func newTestService(t *testing.T, store credstore.Store) *Service {
	t.Helper()
	keychain, err := credcipher.NewKeychain(testMasterKey)
	require.NoError(t, err)
	return New(keychain, store, t.TempDir(), 2)
}

func TestSaveCredentialEncryptsBeforeStore(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)
	ctx := context.Background()
	orgID := uuid.New()

	cred, err := svc.SaveCredential(ctx, orgID, "https://github.com/acme/api.git", gitrepo.CredentialKindPAT, "ghp_supersecret", "tester")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/api", cred.RepositoryURL)
	assert.NotContains(t, cred.EncryptedSecret, "ghp_supersecret")

	// The stored blob round-trips through the keychain with the org as tenant.
	keychain, err := credcipher.NewKeychain(testMasterKey)
	require.NoError(t, err)
	plaintext, err := keychain.Decrypt(cred.EncryptedSecret, orgID.String())
	require.NoError(t, err)
	assert.Equal(t, "ghp_supersecret", plaintext)
}

func TestSaveCredentialRejectsEmptySecret(t *testing.T) {
	svc := newTestService(t, newMemStore())

	_, err := svc.SaveCredential(context.Background(), uuid.New(), "https://github.com/acme/api", gitrepo.CredentialKindPAT, "   ", "tester")
	assert.Error(t, err)
}

func TestPrepareWithoutCredentialOrStore(t *testing.T) {
	svc := newTestService(t, nil)

	ws, outcome := svc.Prepare(context.Background(), Request{
		RepoURL: "https://github.com/acme/api",
	})
	assert.Nil(t, ws)
	assert.False(t, outcome.Success)
	assert.Equal(t, gitrepo.CloneAuthentication, outcome.ErrorType)
}

func TestPrepareMissingStoredCredential(t *testing.T) {
	svc := newTestService(t, newMemStore())

	ws, outcome := svc.Prepare(context.Background(), Request{
		OrgID:   uuid.New(),
		RepoURL: "https://github.com/acme/api",
	})
	assert.Nil(t, ws)
	assert.Equal(t, gitrepo.CloneAuthentication, outcome.ErrorType)
	assert.Contains(t, outcome.Error, "no stored credential")
}

// brokenStore simulates an unreachable database.
type brokenStore struct{ memStore }

func (b *brokenStore) Get(_ context.Context, _ uuid.UUID, _ string) (*credstore.RepositoryCredential, error) {
	return nil, assert.AnError
}

func TestValidateStoreLookupFailureIsNotAuth(t *testing.T) {
	svc := newTestService(t, &brokenStore{})

	outcome := svc.Validate(context.Background(), Request{
		OrgID:   uuid.New(),
		RepoURL: "https://github.com/acme/api",
	})
	assert.False(t, outcome.Valid)
	assert.Equal(t, gitrepo.ValidationUnknown, outcome.ErrorType)
}

func TestValidateMissingStoredCredentialIsAuth(t *testing.T) {
	svc := newTestService(t, newMemStore())

	outcome := svc.Validate(context.Background(), Request{
		OrgID:   uuid.New(),
		RepoURL: "https://github.com/acme/api",
	})
	assert.False(t, outcome.Valid)
	assert.Equal(t, gitrepo.ValidationAuthFailed, outcome.ErrorType)
}

func TestPrepareStoreLookupFailureIsUnknown(t *testing.T) {
	svc := newTestService(t, &brokenStore{})

	ws, outcome := svc.Prepare(context.Background(), Request{
		OrgID:   uuid.New(),
		RepoURL: "https://github.com/acme/api",
	})
	assert.Nil(t, ws)
	assert.Equal(t, gitrepo.CloneUnknown, outcome.ErrorType)
}

func TestPrepareSchemeMismatchLeavesNothingBehind(t *testing.T) {
	cloneRoot := t.TempDir()
	keychain, err := credcipher.NewKeychain(testMasterKey)
	require.NoError(t, err)
	svc := New(keychain, nil, cloneRoot, 2)

	ws, outcome := svc.Prepare(context.Background(), Request{
		RepoURL:    "git@github.com:acme/api.git",
		Kind:       gitrepo.CredentialKindPAT,
		Credential: "ghp_token",
	})
	assert.Nil(t, ws)
	assert.Equal(t, gitrepo.CloneInvalidURL, outcome.ErrorType)

	// The pre-created clone directory must have been cleaned up.
	entries, err := os.ReadDir(cloneRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPrepareReleasesSlotOnFailure(t *testing.T) {
	keychain, err := credcipher.NewKeychain(testMasterKey)
	require.NoError(t, err)
	svc := New(keychain, nil, t.TempDir(), 1)

	// With a single slot, repeated failures must not deadlock.
	for i := 0; i < 3; i++ {
		ws, outcome := svc.Prepare(context.Background(), Request{
			RepoURL:    "git@github.com:acme/api.git",
			Kind:       gitrepo.CredentialKindPAT,
			Credential: "ghp_token",
		})
		assert.Nil(t, ws)
		assert.False(t, outcome.Success)
	}
}

func TestScheduledReleaseFreesSlotAndDisk(t *testing.T) {
	ctx := context.Background()
	keychain, err := credcipher.NewKeychain(testMasterKey)
	require.NoError(t, err)
	svc := New(keychain, nil, "", 1)
	require.NoError(t, svc.slots.Acquire(ctx, 1))

	dir, err := cleantemp.MkdirTempIn("")
	require.NoError(t, err)
	ws := &Workspace{Path: dir, svc: svc}
	ws.scheduleRelease(ctx, 10*time.Millisecond)

	// The abandoned workspace must hand back its slot, not just its disk.
	assert.Eventually(t, func() bool {
		if !svc.slots.TryAcquire(1) {
			return false
		}
		svc.slots.Release(1)
		return true
	}, 2*time.Second, 10*time.Millisecond)
	assert.NoDirExists(t, dir)

	// A later explicit Release is still a harmless no-op.
	assert.True(t, ws.Release(ctx).Success)
}

func TestWorkspaceSnippetAndRelease(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	require.NoError(t, svc.slots.Acquire(ctx, 1))

	dir, err := cleantemp.MkdirTempIn("")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.py"),
		[]byte("import os\n\ntoken = os.environ[\"TOKEN\"]\nprint(token)\n"), 0o644))

	ws := &Workspace{
		Path:       dir,
		RepoURL:    "https://github.com/acme/api",
		CommitHash: "abc123",
		Branch:     "main",
		svc:        svc,
	}

	loc, err := ws.Snippet(ctx, "app.py", 3, snippet.Options{})
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, "https://github.com/acme/api", loc.RepositoryURL)
	assert.Equal(t, "abc123", loc.CommitHash)
	assert.Contains(t, loc.Snippet, "TOKEN")

	result := ws.Release(ctx)
	assert.True(t, result.Success)
	assert.NoDirExists(t, ws.Path)

	// Release is idempotent and the slot is usable again.
	assert.True(t, ws.Release(ctx).Success)
	require.NoError(t, svc.slots.Acquire(ctx, 1))
	svc.slots.Release(1)
}
