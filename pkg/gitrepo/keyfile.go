package gitrepo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-errors/errors"
	"github.com/google/uuid"

	"github.com/parascan/repocore/pkg/context"
)

// withEphemeralKeyFile writes an SSH private key to a uniquely named,
// owner-only temporary file, runs fn with its path, and removes the file on
// every exit path, including a panic in fn. The key file must never outlive
// the call.
func withEphemeralKeyFile(ctx context.Context, privateKey string, fn func(keyPath string) error) error {
	keyPath := filepath.Join(os.TempDir(), fmt.Sprintf("repo-key-%d-%s", os.Getpid(), uuid.NewString()))

	if err := os.WriteFile(keyPath, []byte(ensureTrailingNewline(privateKey)), 0o600); err != nil {
		return errors.WrapPrefix(err, "error writing ephemeral key file", 0)
	}
	defer func() {
		if err := os.Remove(keyPath); err != nil && !os.IsNotExist(err) {
			ctx.Logger().Error(err, "error removing ephemeral key file", "path", keyPath)
		}
	}()

	return fn(keyPath)
}

// ensureTrailingNewline appends a newline if missing. OpenSSH rejects key
// files that do not end with one.
func ensureTrailingNewline(key string) string {
	if len(key) == 0 || key[len(key)-1] == '\n' {
		return key
	}
	return key + "\n"
}

// sshCommand builds the GIT_SSH_COMMAND for an ephemeral key file. Host-key
// checking is disabled; these are unattended clones of customer-supplied
// hosts and there is no prior known_hosts state to verify against.
func sshCommand(keyPath string) string {
	return fmt.Sprintf(
		"ssh -i %s -o IdentitiesOnly=yes -o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null -o ConnectTimeout=10 -o BatchMode=yes",
		keyPath,
	)
}
