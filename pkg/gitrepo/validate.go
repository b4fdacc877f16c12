package gitrepo

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v67/github"
	"golang.org/x/oauth2"

	"github.com/parascan/repocore/pkg/context"
	"github.com/parascan/repocore/pkg/giturl"
	"github.com/parascan/repocore/pkg/log"
)

// ValidateTimeout bounds a single remote access check.
const ValidateTimeout = 10 * time.Second

// MaxRepoSizeBytes is the ceiling beyond which ValidateSize rejects a
// repository (5 GiB).
const MaxRepoSizeBytes int64 = 5 << 30

// approxBytesPerBranch is the per-branch constant behind the coarse size
// estimate. It is intentionally approximate; when the repository is on
// github.com and a token is available, the platform API supplies a real
// number instead.
const approxBytesPerBranch int64 = 200 << 20

// defaultBranchCandidates are checked in order when inferring a default
// branch from the remote ref list.
var defaultBranchCandidates = []string{"main", "master", "develop"}

// ValidationOutcome reports the result of a non-destructive access check. It
// is ephemeral: the caller persists at most the validity bit and timestamp
// onto the owning credential.
type ValidationOutcome struct {
	Valid         bool               `json:"valid"`
	ErrorType     ValidationCategory `json:"errorType,omitempty"`
	Error         string             `json:"error,omitempty"`
	Branches      []string           `json:"branches,omitempty"`
	DefaultBranch string             `json:"defaultBranch,omitempty"`
	ElapsedMS     int64              `json:"elapsedMs"`
}

// Validate checks that the supplied credential can list refs on the remote.
// No working-tree data is transferred. The call is bounded by
// ValidateTimeout and never hangs: a stuck transport surfaces as
// VALIDATION_TIMEOUT.
func Validate(parent context.Context, repoURL string, kind CredentialKind, credential string) ValidationOutcome {
	start := time.Now()

	if credential == "" {
		return ValidationOutcome{
			Valid:     false,
			ErrorType: ValidationUnknown,
			Error:     "no credential supplied",
			ElapsedMS: time.Since(start).Milliseconds(),
		}
	}
	// Keep the raw secret out of every log sink for the duration of the call.
	log.RedactGlobally(credential)

	ctx, cancel := context.WithTimeout(parent, ValidateTimeout)
	defer cancel()

	var output string
	var err error
	switch kind {
	case CredentialKindPAT:
		output, err = lsRemoteWithToken(ctx, repoURL, credential)
	case CredentialKindSSH:
		output, err = lsRemoteWithKey(ctx, repoURL, credential)
	default:
		return ValidationOutcome{
			Valid:     false,
			ErrorType: ValidationUnknown,
			Error:     fmt.Sprintf("unsupported credential kind %q", kind),
			ElapsedMS: time.Since(start).Milliseconds(),
		}
	}

	elapsed := time.Since(start)
	if err != nil {
		raw := output + " " + err.Error()
		return ValidationOutcome{
			Valid:     false,
			ErrorType: ClassifyValidation(raw, elapsed, ValidateTimeout),
			Error:     RedactSecrets(strings.TrimSpace(raw)),
			ElapsedMS: elapsed.Milliseconds(),
		}
	}

	branches := parseBranchRefs(output)
	outcome := ValidationOutcome{
		Valid:     true,
		Branches:  branches,
		ElapsedMS: elapsed.Milliseconds(),
	}
	outcome.DefaultBranch = inferDefaultBranch(branches)

	ctx.Logger().V(1).Info("repository access validated",
		"repo", giturl.Sanitize(repoURL),
		"branches", len(branches),
		"default_branch", outcome.DefaultBranch,
	)
	return outcome
}

// ValidateSize wraps Validate and additionally rejects repositories whose
// estimated size exceeds MaxRepoSizeBytes. The estimate prefers the GitHub
// API when the repository lives on github.com and the credential is a token;
// otherwise it falls back to a branch-count heuristic that is not a real
// size oracle.
func ValidateSize(parent context.Context, repoURL string, kind CredentialKind, credential string) ValidationOutcome {
	outcome := Validate(parent, repoURL, kind, credential)
	if !outcome.Valid {
		return outcome
	}

	estimate, source := estimateRepoSize(parent, repoURL, kind, credential, len(outcome.Branches))
	if estimate > MaxRepoSizeBytes {
		return ValidationOutcome{
			Valid:     false,
			ErrorType: ValidationRepoTooLarge,
			Error: fmt.Sprintf("repository size estimate %d MiB exceeds the %d GiB limit",
				estimate>>20, MaxRepoSizeBytes>>30),
			Branches:      outcome.Branches,
			DefaultBranch: outcome.DefaultBranch,
			ElapsedMS:     outcome.ElapsedMS,
		}
	}

	parent.Logger().V(2).Info("repository size estimate within limit",
		"repo", giturl.Sanitize(repoURL),
		"estimate_bytes", estimate,
		"source", source,
	)
	return outcome
}

func lsRemoteWithToken(ctx context.Context, repoURL, token string) (string, error) {
	if !strings.HasPrefix(repoURL, "https://") {
		return "", fmt.Errorf("token validation requires an https:// repository URL")
	}
	remote, err := tokenURL(repoURL, token)
	if err != nil {
		return "", err
	}
	return runGit(ctx, nil, "ls-remote", "--heads", remote.String())
}

func lsRemoteWithKey(ctx context.Context, repoURL, privateKey string) (string, error) {
	if !strings.HasPrefix(repoURL, "git@") && !strings.HasPrefix(repoURL, "ssh://") {
		return "", fmt.Errorf("ssh validation requires a git@ style repository URL")
	}
	var output string
	err := withEphemeralKeyFile(ctx, privateKey, func(keyPath string) error {
		var runErr error
		output, runErr = runGit(ctx, []string{"GIT_SSH_COMMAND=" + sshCommand(keyPath)},
			"ls-remote", "--heads", repoURL)
		return runErr
	})
	return output, err
}

// parseBranchRefs extracts branch names from ls-remote --heads output, one
// "<hash>\trefs/heads/<name>" pair per line.
func parseBranchRefs(output string) []string {
	var branches []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), "\t")
		if len(parts) != 2 {
			continue
		}
		ref := strings.TrimPrefix(parts[1], "refs/heads/")
		if ref != "" && ref != parts[1] {
			branches = append(branches, ref)
		}
	}
	return branches
}

// inferDefaultBranch picks the first candidate present in the branch list,
// falling back to the first branch returned by the remote.
func inferDefaultBranch(branches []string) string {
	if len(branches) == 0 {
		return ""
	}
	for _, candidate := range defaultBranchCandidates {
		for _, branch := range branches {
			if branch == candidate {
				return candidate
			}
		}
	}
	return branches[0]
}

// estimateRepoSize returns an estimated repository size in bytes and the
// source of the estimate ("github_api" or "heuristic").
func estimateRepoSize(ctx context.Context, repoURL string, kind CredentialKind, credential string, branchCount int) (int64, string) {
	if kind == CredentialKindPAT {
		if size, ok := githubRepoSize(ctx, repoURL, credential); ok {
			return size, "github_api"
		}
	}
	return int64(branchCount) * approxBytesPerBranch, "heuristic"
}

// githubRepoSize queries the GitHub API for the repository's reported size.
// Returns false when the repository is not on github.com or the lookup
// fails; the caller falls back to the heuristic.
func githubRepoSize(ctx context.Context, repoURL, token string) (int64, bool) {
	u, err := giturl.Parse(repoURL)
	if err != nil || u.Host != "github.com" {
		return 0, false
	}
	owner, name, found := strings.Cut(strings.Trim(u.Path, "/"), "/")
	if !found {
		return 0, false
	}
	name = strings.TrimSuffix(name, ".git")

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))

	repo, _, err := client.Repositories.Get(ctx, owner, name)
	if err != nil {
		ctx.Logger().V(2).Info("github size lookup failed, falling back to heuristic",
			"repo", giturl.Sanitize(repoURL), "error", RedactSecrets(err.Error()))
		return 0, false
	}
	// The API reports size in KiB.
	return int64(repo.GetSize()) << 10, true
}
