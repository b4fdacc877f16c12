package gitrepo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parascan/repocore/pkg/context"
)

func TestCloneWithTokenRejectsNonHTTPS(t *testing.T) {
	targetDir := filepath.Join(t.TempDir(), "scan-repos", "clone-target")

	outcome := CloneWithToken(context.Background(), "git@github.com:org/repo.git", "ghp_token", targetDir, CloneOptions{})

	assert.False(t, outcome.Success)
	assert.Equal(t, CloneInvalidURL, outcome.ErrorType)
	_, err := os.Stat(targetDir)
	assert.True(t, os.IsNotExist(err), "target dir must not be created for invalid input")
}

func TestCloneWithTokenRejectsEmptyToken(t *testing.T) {
	targetDir := filepath.Join(t.TempDir(), "scan-repos", "clone-target")

	outcome := CloneWithToken(context.Background(), "https://github.com/org/repo.git", "", targetDir, CloneOptions{})

	assert.False(t, outcome.Success)
	assert.Equal(t, CloneInvalidURL, outcome.ErrorType)
}

func TestCloneWithKeyRejectsHTTPS(t *testing.T) {
	targetDir := filepath.Join(t.TempDir(), "scan-repos", "clone-target")

	outcome := CloneWithKey(context.Background(), "https://github.com/org/repo.git", "some-key", targetDir, CloneOptions{})

	assert.False(t, outcome.Success)
	assert.Equal(t, CloneInvalidURL, outcome.ErrorType)
	_, err := os.Stat(targetDir)
	assert.True(t, os.IsNotExist(err))
}

func TestCloneFailureRemovesPartialTarget(t *testing.T) {
	if err := CmdCheck(); err != nil {
		t.Skipf("git unavailable: %v", err)
	}

	targetDir := filepath.Join(t.TempDir(), "scan-repos", "clone-target")
	outcome := CloneWithToken(context.Background(), "https://127.0.0.1:1/org/repo.git", "ghp_sometesttoken000000", targetDir, CloneOptions{})

	require.False(t, outcome.Success)
	assert.Contains(t,
		[]CloneCategory{CloneNetwork, CloneTimeout},
		outcome.ErrorType,
	)
	_, err := os.Stat(targetDir)
	assert.True(t, os.IsNotExist(err), "partial clone must be removed on failure")
	assert.NotContains(t, outcome.Error, "ghp_sometesttoken000000")
}

func TestCloneLocalRepoResolvesHead(t *testing.T) {
	if err := CmdCheck(); err != nil {
		t.Skipf("git unavailable: %v", err)
	}

	// Build a tiny source repository to clone from, then clone it through
	// the https-only entry point's internals via executeClone directly.
	srcDir := filepath.Join(t.TempDir(), "src-repo")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	ctx := context.Background()
	for _, args := range [][]string{
		{"init", srcDir},
		{"-C", srcDir, "symbolic-ref", "HEAD", "refs/heads/main"},
		{"-C", srcDir, "config", "user.email", "test@example.com"},
		{"-C", srcDir, "config", "user.name", "test"},
	} {
		_, err := runGit(ctx, nil, args...)
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "README.md"), []byte("hello\n"), 0o644))
	for _, args := range [][]string{
		{"-C", srcDir, "add", "."},
		{"-C", srcDir, "commit", "-m", "initial"},
	} {
		_, err := runGit(ctx, nil, args...)
		require.NoError(t, err)
	}

	targetDir := filepath.Join(t.TempDir(), "scan-repos", "clone-target")
	outcome := executeClone(ctx, cloneParams{
		displayURL: srcDir,
		cloneURL:   srcDir,
		targetDir:  targetDir,
		opts:       CloneOptions{},
	})

	require.True(t, outcome.Success, "clone failed: %s", outcome.Error)
	assert.Equal(t, targetDir, outcome.Path)
	assert.Len(t, outcome.CommitHash, 40)
	assert.Equal(t, "main", outcome.Branch)
	_, err := os.Stat(filepath.Join(targetDir, "README.md"))
	assert.NoError(t, err)
}

func TestEnsureTrailingNewline(t *testing.T) {
	assert.Equal(t, "key\n", ensureTrailingNewline("key"))
	assert.Equal(t, "key\n", ensureTrailingNewline("key\n"))
	assert.Equal(t, "", ensureTrailingNewline(""))
}
