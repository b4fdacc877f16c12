// Package cleantemp owns the lifecycle of cloned working trees: creating
// uniquely named temp directories, deleting them safely, and sweeping up
// leftovers from aborted scans.
package cleantemp

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	logContext "github.com/parascan/repocore/pkg/context"
)

const dirPrefix = "scan-repos"

// DefaultCleanupDelay is how long ScheduleCleanup waits before its
// best-effort deletion.
const DefaultCleanupDelay = 5 * time.Minute

// safePathMarkers are the substrings at least one of which must appear in a
// path before Cleanup will delete it. This guards against a caller bug
// handing us an arbitrary filesystem location.
var safePathMarkers = []string{
	"/tmp/",
	"/temp/",
	"scan-repos",
	"cloned-repos",
}

// MkdirTemp returns a freshly created temporary directory path formatted as:
// scan-repos-<pid>-<randint>
func MkdirTemp() (string, error) {
	return MkdirTempIn("")
}

// MkdirTempIn is MkdirTemp under a caller-chosen parent directory. An empty
// root falls back to the system temp dir.
func MkdirTempIn(root string) (string, error) {
	if root == "" {
		root = os.TempDir()
	}
	pid := os.Getpid()
	tmpdir := fmt.Sprintf("%s-%d-", dirPrefix, pid)
	dir, err := os.MkdirTemp(root, tmpdir)
	if err != nil {
		return "", err
	}
	return dir, nil
}

// CleanupResult reports whether a deletion ran and why it did not.
type CleanupResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// Cleanup removes a cloned working tree. It refuses, without error, to
// delete any path lacking a safe-path marker, and treats an already-absent
// path as success so callers can retry freely.
func Cleanup(ctx logContext.Context, path string) CleanupResult {
	if path == "" {
		return CleanupResult{Success: false, Reason: "empty path"}
	}
	if !HasSafeMarker(path) {
		ctx.Logger().Info("refusing to delete path without safe marker", "path", path)
		return CleanupResult{Success: false, Reason: "path lacks a recognized temporary-directory marker"}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return CleanupResult{Success: true}
	}

	if err := os.RemoveAll(path); err != nil {
		ctx.Logger().Error(err, "error deleting temp directory", "path", path)
		return CleanupResult{Success: false, Reason: err.Error()}
	}
	ctx.Logger().V(1).Info("deleted directory", "directory", path)
	return CleanupResult{Success: true}
}

// HasSafeMarker reports whether a path carries one of the markers Cleanup
// requires.
func HasSafeMarker(path string) bool {
	for _, marker := range safePathMarkers {
		if strings.Contains(path, marker) {
			return true
		}
	}
	return false
}

// ScheduleCleanup arranges best-effort deletion of path after delay (a
// non-positive delay means DefaultCleanupDelay). It is a safety net for
// interrupted scans, not the primary cleanup path: failures are logged and
// never escalated. The returned stop function cancels the timer, for
// callers that completed their synchronous cleanup early.
func ScheduleCleanup(ctx logContext.Context, path string, delay time.Duration) (stop func()) {
	if delay <= 0 {
		delay = DefaultCleanupDelay
	}
	timer := time.AfterFunc(delay, func() {
		result := Cleanup(ctx, path)
		if !result.Success {
			ctx.Logger().Info("scheduled cleanup did not delete path", "path", path, "reason", result.Reason)
		}
	})
	return func() { timer.Stop() }
}

// Only compile during startup.
var scanDirRE = regexp.MustCompile(`^scan-repos-\d+-\d+$`)

// CleanTempDir removes orphaned scan-repos directories whose owning process
// is no longer running.
func CleanTempDir(ctx logContext.Context) error {
	executablePath, err := os.Executable()
	if err != nil {
		executablePath = dirPrefix
	}
	execName := filepath.Base(executablePath)

	// Find other live PIDs for this executable; their directories are in use.
	var pids []string
	procs, err := ps.Processes()
	if err != nil {
		return fmt.Errorf("error getting process PIDs: %w", err)
	}
	for _, proc := range procs {
		if proc.Executable() == execName {
			pids = append(pids, strconv.Itoa(proc.Pid()))
		}
	}

	tempDir := os.TempDir()
	dirs, err := os.ReadDir(tempDir)
	if err != nil {
		return fmt.Errorf("error reading temp dir: %w", err)
	}

	for _, dir := range dirs {
		if !scanDirRE.MatchString(dir.Name()) {
			continue
		}
		shouldDelete := true
		for _, pidval := range pids {
			if strings.Contains(dir.Name(), fmt.Sprintf("-%s-", pidval)) {
				shouldDelete = false
				break
			}
		}
		if !shouldDelete {
			continue
		}
		dirPath := filepath.Join(tempDir, dir.Name())
		if err := os.RemoveAll(dirPath); err != nil {
			return fmt.Errorf("error deleting temp directory: %s", dirPath)
		}
		ctx.Logger().V(1).Info("deleted orphaned directory", "directory", dirPath)
	}
	return nil
}

// RunCleanupLoop sweeps orphaned directories on an interval until the
// context is cancelled.
func RunCleanupLoop(ctx logContext.Context, interval time.Duration) {
	if err := CleanTempDir(ctx); err != nil {
		ctx.Logger().Error(err, "error cleaning up orphaned directories")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := CleanTempDir(ctx); err != nil {
				ctx.Logger().Error(err, "error cleaning up orphaned directories")
			}
		case <-ctx.Done():
			ctx.Logger().Info("cleanup loop exiting due to context cancellation")
			return
		}
	}
}
