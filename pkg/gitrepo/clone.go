package gitrepo

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"

	"github.com/parascan/repocore/pkg/context"
	"github.com/parascan/repocore/pkg/giturl"
	"github.com/parascan/repocore/pkg/log"
)

// DefaultCloneTimeout bounds a clone unless the caller overrides it.
const DefaultCloneTimeout = 5 * time.Minute

// CloneOptions tune a clone. The zero value means shallow depth 1, the
// remote's default branch, and DefaultCloneTimeout.
type CloneOptions struct {
	Depth   int
	Branch  string
	Timeout time.Duration
}

func (o CloneOptions) depth() int {
	if o.Depth <= 0 {
		return 1
	}
	return o.Depth
}

func (o CloneOptions) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultCloneTimeout
	}
	return o.Timeout
}

// CloneOutcome reports the result of a clone. It is consumed immediately by
// the scan pipeline and never persisted.
type CloneOutcome struct {
	Success    bool          `json:"success"`
	Path       string        `json:"path,omitempty"`
	CommitHash string        `json:"commitHash,omitempty"`
	Branch     string        `json:"branch,omitempty"`
	ErrorType  CloneCategory `json:"errorType,omitempty"`
	Error      string        `json:"error,omitempty"`
	ElapsedMS  int64         `json:"elapsedMs"`
}

// CloneWithToken shallow-clones an https repository into targetDir using a
// personal access token. A non-https URL is rejected before any I/O and
// targetDir is not created.
func CloneWithToken(parent context.Context, repoURL, token, targetDir string, opts CloneOptions) CloneOutcome {
	start := time.Now()

	if !strings.HasPrefix(repoURL, "https://") {
		return CloneOutcome{
			Success:   false,
			ErrorType: CloneInvalidURL,
			Error:     "token clone requires an https:// repository URL",
			ElapsedMS: time.Since(start).Milliseconds(),
		}
	}
	if token == "" {
		return CloneOutcome{
			Success:   false,
			ErrorType: CloneInvalidURL,
			Error:     "no token supplied",
			ElapsedMS: time.Since(start).Milliseconds(),
		}
	}
	log.RedactGlobally(token)

	remote, err := tokenURL(repoURL, token)
	if err != nil {
		return CloneOutcome{
			Success:   false,
			ErrorType: CloneInvalidURL,
			Error:     RedactSecrets(err.Error()),
			ElapsedMS: time.Since(start).Milliseconds(),
		}
	}

	return executeClone(parent, cloneParams{
		displayURL: giturl.Sanitize(repoURL),
		cloneURL:   remote.String(),
		targetDir:  targetDir,
		opts:       opts,
		start:      start,
	})
}

// CloneWithKey shallow-clones a repository into targetDir over SSH using a
// private key. A URL that is not git@ style is rejected before any I/O. The
// ephemeral key file is removed on every exit path.
func CloneWithKey(parent context.Context, repoURL, privateKey, targetDir string, opts CloneOptions) CloneOutcome {
	start := time.Now()

	if !strings.HasPrefix(repoURL, "git@") {
		return CloneOutcome{
			Success:   false,
			ErrorType: CloneInvalidURL,
			Error:     "key clone requires a git@ style repository URL",
			ElapsedMS: time.Since(start).Milliseconds(),
		}
	}
	if privateKey == "" {
		return CloneOutcome{
			Success:   false,
			ErrorType: CloneInvalidURL,
			Error:     "no private key supplied",
			ElapsedMS: time.Since(start).Milliseconds(),
		}
	}
	log.RedactGlobally(privateKey)

	var outcome CloneOutcome
	err := withEphemeralKeyFile(parent, privateKey, func(keyPath string) error {
		outcome = executeClone(parent, cloneParams{
			displayURL: repoURL,
			cloneURL:   repoURL,
			targetDir:  targetDir,
			env:        []string{"GIT_SSH_COMMAND=" + sshCommand(keyPath)},
			opts:       opts,
			start:      start,
		})
		return nil
	})
	if err != nil {
		return CloneOutcome{
			Success:   false,
			ErrorType: CloneUnknown,
			Error:     RedactSecrets(err.Error()),
			ElapsedMS: time.Since(start).Milliseconds(),
		}
	}
	return outcome
}

type cloneParams struct {
	displayURL string
	cloneURL   string
	targetDir  string
	env        []string
	opts       CloneOptions
	start      time.Time
}

// executeClone runs the git clone and resolves the resulting tree. On any
// failure the partially written target directory is removed before
// returning.
func executeClone(parent context.Context, params cloneParams) CloneOutcome {
	if params.start.IsZero() {
		params.start = time.Now()
	}
	bound := params.opts.timeout()
	ctx, cancel := context.WithTimeout(parent, bound)
	defer cancel()

	args := []string{"clone", "--depth", strconv.Itoa(params.opts.depth())}
	if params.opts.Branch != "" {
		args = append(args, "--branch", params.opts.Branch, "--single-branch")
	}
	args = append(args, params.cloneURL, params.targetDir)

	logger := ctx.Logger().WithValues(
		"subcommand", "git clone",
		"repo", params.displayURL,
		"path", params.targetDir,
	)

	output, err := runGit(ctx, params.env, args...)
	elapsed := time.Since(params.start)
	if err != nil {
		// Do not leave partial clones behind; orphaned directories in the
		// temp tree add up fast under concurrent scans.
		if rmErr := os.RemoveAll(params.targetDir); rmErr != nil {
			logger.Error(rmErr, "error removing partial clone")
		}
		raw := strings.TrimSpace(output + " " + err.Error())
		outcome := CloneOutcome{
			Success:   false,
			ErrorType: ClassifyClone(raw, elapsed, bound),
			Error:     RedactSecrets(raw),
			ElapsedMS: elapsed.Milliseconds(),
		}
		logger.V(1).Info("git clone failed", "error_type", outcome.ErrorType, "error", outcome.Error)
		return outcome
	}

	commit, branch, err := resolveHead(params.targetDir)
	if err != nil {
		if rmErr := os.RemoveAll(params.targetDir); rmErr != nil {
			logger.Error(rmErr, "error removing unreadable clone")
		}
		return CloneOutcome{
			Success:   false,
			ErrorType: CloneUnknown,
			Error:     RedactSecrets(fmt.Sprintf("could not open cloned repo: %s", err)),
			ElapsedMS: time.Since(params.start).Milliseconds(),
		}
	}
	if branch == "" {
		branch = params.opts.Branch
	}

	logger.V(1).Info("successfully cloned repo", "commit", commit, "branch", branch)
	return CloneOutcome{
		Success:    true,
		Path:       params.targetDir,
		CommitHash: commit,
		Branch:     branch,
		ElapsedMS:  time.Since(params.start).Milliseconds(),
	}
}

// resolveHead opens the freshly cloned tree and reports the checked-out
// commit hash and branch name.
func resolveHead(path string) (commit, branch string, err error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return "", "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", "", err
	}
	commit = head.Hash().String()
	if head.Name().IsBranch() {
		branch = head.Name().Short()
	}
	return commit, branch, nil
}
