// Package scanprep assembles the pieces a scan needs before any analysis
// runs: resolve the repository credential, check access, clone a shallow
// working tree into a managed temp directory, and guarantee the tree is
// released afterwards.
package scanprep

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/parascan/repocore/pkg/cleantemp"
	"github.com/parascan/repocore/pkg/context"
	"github.com/parascan/repocore/pkg/credcipher"
	"github.com/parascan/repocore/pkg/credstore"
	"github.com/parascan/repocore/pkg/gitrepo"
	"github.com/parascan/repocore/pkg/giturl"
	"github.com/parascan/repocore/pkg/snippet"
)

var (
	errNoStore         = errors.New("no credential store configured")
	errEmptyCredential = errors.New("credential must not be empty")
)

// Service prepares repository working trees for scans. Concurrent clones
// are bounded by a weighted semaphore so a burst of scan starts cannot
// exhaust disk or network.
type Service struct {
	keychain  *credcipher.Keychain
	store     credstore.Store // nil when running without a database
	cloneRoot string
	slots     *semaphore.Weighted
}

// New builds a Service. store may be nil; requests must then carry inline
// credentials. maxWorkers values below one fall back to a single slot.
func New(keychain *credcipher.Keychain, store credstore.Store, cloneRoot string, maxWorkers int64) *Service {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Service{
		keychain:  keychain,
		store:     store,
		cloneRoot: cloneRoot,
		slots:     semaphore.NewWeighted(maxWorkers),
	}
}

// Request identifies the repository to prepare and how to authenticate.
// Credential is optional plaintext supplied inline by the caller; when
// empty, the stored credential for (OrgID, RepoURL) is resolved and
// decrypted instead.
type Request struct {
	OrgID      uuid.UUID
	RepoURL    string
	Branch     string
	CommitHash string
	Kind       gitrepo.CredentialKind
	Credential string
	Depth      int
}

// Workspace is a prepared working tree. Callers must Release it when the
// scan finishes; a scheduled release fires anyway if they never do, so an
// abandoned workspace gives back both its disk and its clone slot.
type Workspace struct {
	Path       string
	RepoURL    string
	CommitHash string
	Branch     string

	svc           *Service
	stopScheduled func()

	mu       sync.Mutex
	released bool
}

// resolveFailure captures why a credential could not be produced for a
// request, categorized once per taxonomy so the validation and clone paths
// each report it in their own terms.
type resolveFailure struct {
	validation gitrepo.ValidationCategory
	clone      gitrepo.CloneCategory
	message    string
}

// Validate resolves the request's credential and runs the bounded access
// and size check. When the credential came from the store, the row's
// validation status is updated with the result.
func (s *Service) Validate(ctx context.Context, req Request) gitrepo.ValidationOutcome {
	plaintext, kind, stored, fail := s.resolveCredential(ctx, req)
	if fail != nil {
		return gitrepo.ValidationOutcome{
			Valid:     false,
			ErrorType: fail.validation,
			Error:     fail.message,
		}
	}

	result := gitrepo.ValidateSize(ctx, req.RepoURL, kind, plaintext)
	if stored != nil && s.store != nil {
		if err := s.store.UpdateValidation(ctx, stored.ID, result.Valid); err != nil {
			ctx.Logger().Error(err, "failed to record validation result",
				"credential_id", stored.ID)
		}
	}
	return result
}

// Prepare clones the requested repository into a fresh temp directory and
// returns the workspace. On any failure the outcome carries the category
// and a redacted message, no workspace is returned, and nothing is left on
// disk. A best-effort deletion is scheduled as a safety net for callers
// that never call Release.
func (s *Service) Prepare(ctx context.Context, req Request) (*Workspace, gitrepo.CloneOutcome) {
	if err := s.slots.Acquire(ctx, 1); err != nil {
		return nil, gitrepo.CloneOutcome{
			Success:   false,
			ErrorType: gitrepo.CloneTimeout,
			Error:     "cancelled while waiting for a clone slot",
		}
	}
	ws, outcome := s.prepare(ctx, req)
	if ws == nil {
		s.slots.Release(1)
	}
	return ws, outcome
}

func (s *Service) prepare(ctx context.Context, req Request) (*Workspace, gitrepo.CloneOutcome) {
	plaintext, kind, _, fail := s.resolveCredential(ctx, req)
	if fail != nil {
		return nil, gitrepo.CloneOutcome{
			Success:   false,
			ErrorType: fail.clone,
			Error:     fail.message,
		}
	}

	targetDir, err := cleantemp.MkdirTempIn(s.cloneRoot)
	if err != nil {
		return nil, gitrepo.CloneOutcome{
			Success:   false,
			ErrorType: gitrepo.CloneUnknown,
			Error:     "creating clone directory: " + gitrepo.RedactSecrets(err.Error()),
		}
	}

	opts := gitrepo.CloneOptions{
		Depth:  req.Depth,
		Branch: req.Branch,
	}
	var outcome gitrepo.CloneOutcome
	switch kind {
	case gitrepo.CredentialKindSSH:
		outcome = gitrepo.CloneWithKey(ctx, req.RepoURL, plaintext, targetDir, opts)
	default:
		outcome = gitrepo.CloneWithToken(ctx, req.RepoURL, plaintext, targetDir, opts)
	}
	if !outcome.Success {
		// CloneWith* already removed the partial tree; the empty dir may
		// remain when the precondition failed before any git invocation.
		cleantemp.Cleanup(ctx, targetDir)
		return nil, outcome
	}

	ws := &Workspace{
		Path:       outcome.Path,
		RepoURL:    giturl.Normalize(req.RepoURL),
		CommitHash: outcome.CommitHash,
		Branch:     outcome.Branch,
		svc:        s,
	}
	ws.scheduleRelease(ctx, cleantemp.DefaultCleanupDelay)
	return ws, outcome
}

// scheduleRelease arranges a best-effort Release after delay. Unlike a bare
// scheduled deletion, this also frees the clone slot, so a caller that never
// calls Release cannot shrink the pool permanently.
func (w *Workspace) scheduleRelease(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		delay = cleantemp.DefaultCleanupDelay
	}
	timer := time.AfterFunc(delay, func() {
		if result := w.Release(ctx); !result.Success {
			ctx.Logger().Info("scheduled release did not delete workspace",
				"path", w.Path, "reason", result.Reason)
		}
	})
	w.stopScheduled = func() { timer.Stop() }
}

// resolveCredential returns the plaintext secret for a request, either
// inline or decrypted from the store. The fourth return value is non-nil
// when resolution failed: a missing credential is an authentication
// failure, while store or decryption breakage is not the remote rejecting
// us and stays in the unknown category.
func (s *Service) resolveCredential(ctx context.Context, req Request) (string, gitrepo.CredentialKind, *credstore.RepositoryCredential, *resolveFailure) {
	if req.Credential != "" {
		return req.Credential, req.Kind, nil, nil
	}
	if s.store == nil {
		return "", "", nil, &resolveFailure{
			validation: gitrepo.ValidationAuthFailed,
			clone:      gitrepo.CloneAuthentication,
			message:    "no credential supplied and no credential store configured",
		}
	}

	stored, err := s.store.Get(ctx, req.OrgID, req.RepoURL)
	if err == credstore.ErrNotFound {
		return "", "", nil, &resolveFailure{
			validation: gitrepo.ValidationAuthFailed,
			clone:      gitrepo.CloneAuthentication,
			message:    "no stored credential for " + giturl.Sanitize(req.RepoURL),
		}
	}
	if err != nil {
		return "", "", nil, &resolveFailure{
			validation: gitrepo.ValidationUnknown,
			clone:      gitrepo.CloneUnknown,
			message:    "looking up stored credential: " + gitrepo.RedactSecrets(err.Error()),
		}
	}

	plaintext, err := s.keychain.Decrypt(stored.EncryptedSecret, stored.OrgID.String())
	if err != nil {
		return "", "", nil, &resolveFailure{
			validation: gitrepo.ValidationUnknown,
			clone:      gitrepo.CloneUnknown,
			message:    "decrypting stored credential: " + gitrepo.RedactSecrets(err.Error()),
		}
	}
	return plaintext, stored.Kind, stored, nil
}

// Snippet extracts a code window from the workspace, stamped with the
// workspace's repository URL, commit, and branch.
func (w *Workspace) Snippet(ctx context.Context, relPath string, line int, opts snippet.Options) (*snippet.CodeLocation, error) {
	return snippet.Extract(ctx, w.Path, relPath, line, w.RepoURL, w.CommitHash, w.Branch, opts)
}

// Release deletes the working tree and frees the clone slot. It is safe to
// call more than once, including concurrently with the scheduled release.
func (w *Workspace) Release(ctx context.Context) cleantemp.CleanupResult {
	w.mu.Lock()
	if w.released {
		w.mu.Unlock()
		return cleantemp.CleanupResult{Success: true}
	}
	w.released = true
	w.mu.Unlock()

	if w.stopScheduled != nil {
		w.stopScheduled()
	}
	result := cleantemp.Cleanup(ctx, w.Path)
	w.svc.slots.Release(1)
	return result
}

// SaveCredential encrypts and stores an inline credential for later scans.
// The plaintext never reaches the store or the logs.
func (s *Service) SaveCredential(ctx context.Context, orgID uuid.UUID, repoURL string, kind gitrepo.CredentialKind, plaintext, createdBy string) (*credstore.RepositoryCredential, error) {
	if s.store == nil {
		return nil, errNoStore
	}
	if strings.TrimSpace(plaintext) == "" {
		return nil, errEmptyCredential
	}
	blob, err := s.keychain.Encrypt(plaintext, orgID.String())
	if err != nil {
		return nil, err
	}
	cred := &credstore.RepositoryCredential{
		OrgID:           orgID,
		RepositoryURL:   repoURL,
		Kind:            kind,
		EncryptedSecret: blob,
		CreatedBy:       createdBy,
	}
	if err := s.store.Save(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}
