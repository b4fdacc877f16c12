// Package gitrepo performs remote repository access checks and authenticated
// clones for the scan pipeline. All operations are bounded by explicit
// timeouts, classify their failures into closed categories, and redact
// credential material from every message that leaves the package.
package gitrepo

import (
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/parascan/repocore/pkg/context"
	"github.com/parascan/repocore/pkg/giturl"
)

// CredentialKind distinguishes how a stored repository credential
// authenticates.
type CredentialKind string

const (
	CredentialKindPAT CredentialKind = "PAT"
	CredentialKindSSH CredentialKind = "SSH"
)

// tokenUsername is the username paired with a PAT in an HTTPS clone URL.
// GitHub, GitLab, and Bitbucket all accept this convention.
const tokenUsername = "x-access-token"

// tokenURL parses an https repository URL and sets its userinfo to the
// supplied token. Any credentials already baked into the URL are replaced,
// so a stale token stored inside the URL can never shadow the rotated one.
func tokenURL(repoURL, token string) (*url.URL, error) {
	remote, err := giturl.Parse(repoURL)
	if err != nil {
		return nil, err
	}
	remote.User = url.UserPassword(tokenUsername, token)
	return remote, nil
}

// Extract the version string using a regex to find the version numbers.
var versionRE = regexp.MustCompile(`\d+\.\d+\.\d+`)

// CmdCheck checks if git is installed and meets the 2.20.0<=x<3.0.0 version
// requirement. Entrypoints run it once at startup so a missing or ancient
// git fails fast instead of surfacing per request.
func CmdCheck() error {
	out, err := exec.Command("git", "--version").Output()
	if err != nil {
		return fmt.Errorf("'git' command not found in $PATH. Make sure git is installed and included in $PATH")
	}
	return checkGitVersion(string(out))
}

func checkGitVersion(versionOutput string) error {
	versionStr := versionRE.FindString(versionOutput)
	versionParts := strings.Split(versionStr, ".")
	if len(versionParts) < 2 {
		return fmt.Errorf("unable to parse git version from %q", strings.TrimSpace(versionOutput))
	}

	major, _ := strconv.Atoi(versionParts[0])
	minor, _ := strconv.Atoi(versionParts[1])
	if major == 2 && minor >= 20 {
		return nil
	}
	return fmt.Errorf("git version is %s, but must be greater than or equal to 2.20.0, and less than 3.0.0", versionStr)
}

// runGit executes a git subcommand with prompts disabled and returns its
// combined output. The caller bounds execution through ctx.
func runGit(ctx context.Context, env []string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.Env = append(cmd.Env, env...)
	output, err := cmd.CombinedOutput()
	return string(output), err
}
