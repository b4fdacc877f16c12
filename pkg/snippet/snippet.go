// Package snippet extracts bounded source excerpts around a finding's
// reported line so the finding's evidence can be rendered without shipping
// whole files.
package snippet

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	logContext "github.com/parascan/repocore/pkg/context"
)

const (
	// DefaultContextLines is the number of lines captured on each side of
	// the target line.
	DefaultContextLines = 2

	// DefaultMaxFileSize is the ceiling above which files are skipped
	// (10 MiB).
	DefaultMaxFileSize = 10 << 20

	// binarySniffLen bounds the prefix read used for the null-byte sniff.
	binarySniffLen = 8192

	// tailFallbackLines is how many trailing lines are returned when the
	// requested line exceeds the file's length.
	tailFallbackLines = 5
)

// CodeLocation pins a snippet to a file, line, and commit. Immutable once
// attached to a finding's evidence payload.
type CodeLocation struct {
	FilePath      string `json:"filePath"`
	Line          int    `json:"line"`
	Snippet       string `json:"snippet"`
	SnippetStart  int    `json:"snippetStart"`
	SnippetEnd    int    `json:"snippetEnd"`
	RepositoryURL string `json:"repositoryUrl"`
	CommitHash    string `json:"commitHash"`
	Branch        string `json:"branch,omitempty"`
}

// Options tune extraction. The zero value applies the defaults above.
type Options struct {
	ContextLines int
	MaxFileSize  int64
}

func (o Options) contextLines() int {
	if o.ContextLines <= 0 {
		return DefaultContextLines
	}
	return o.ContextLines
}

func (o Options) maxFileSize() int64 {
	if o.MaxFileSize <= 0 {
		return DefaultMaxFileSize
	}
	return o.MaxFileSize
}

// Extract returns the snippet window around line in the given file, or nil
// when the file is missing, a directory, too large, binary, or not valid
// UTF-8. Each skip is logged rather than escalated: a missing snippet
// degrades a finding's presentation, not the scan.
func Extract(ctx logContext.Context, repoRoot, relPath string, line int, repoURL, commitHash, branch string, opts Options) (*CodeLocation, error) {
	logger := ctx.Logger().WithValues("file", relPath, "line", line)
	absPath := filepath.Join(repoRoot, relPath)

	info, err := os.Stat(absPath)
	if err != nil {
		logger.V(1).Info("snippet file missing", "error", err.Error())
		return nil, nil
	}
	if info.IsDir() {
		logger.V(1).Info("snippet path is a directory")
		return nil, nil
	}
	if info.Size() > opts.maxFileSize() {
		logger.V(1).Info("snippet file exceeds size ceiling", "size", info.Size())
		return nil, nil
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	if isBinary(data) {
		logger.V(1).Info("snippet file looks binary, skipping")
		return nil, nil
	}
	if !utf8.Valid(data) {
		logger.V(1).Info("snippet file is not valid utf-8, skipping")
		return nil, nil
	}

	lines := strings.Split(string(data), "\n")
	// A trailing newline makes Split produce a phantom empty final element;
	// dropping it keeps the count equal to the file's real line count so the
	// out-of-range fallback fires when it should.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		logger.V(1).Info("snippet file is empty, skipping")
		return nil, nil
	}
	contextLines := opts.contextLines()

	start, end, target := window(len(lines), line, contextLines)
	snippet := strings.Join(lines[start-1:end], "\n")

	return &CodeLocation{
		FilePath:      relPath,
		Line:          target,
		Snippet:       snippet,
		SnippetStart:  start,
		SnippetEnd:    end,
		RepositoryURL: repoURL,
		CommitHash:    commitHash,
		Branch:        branch,
	}, nil
}

// window computes the 1-based [start, end] line range for a requested line.
// When the requested line is beyond the end of the file, the window falls
// back to the file's last few lines. That silently returns content unrelated
// to the reported line; it mirrors long-standing behavior that downstream
// rendering relies on.
func window(lineCount, line, contextLines int) (start, end, target int) {
	if line > lineCount {
		start = lineCount - tailFallbackLines + 1
		if start < 1 {
			start = 1
		}
		return start, lineCount, lineCount
	}
	if line < 1 {
		line = 1
	}
	start = line - contextLines
	if start < 1 {
		start = 1
	}
	end = line + contextLines
	if end > lineCount {
		end = lineCount
	}
	return start, end, line
}

// isBinary sniffs a bounded prefix for a null byte.
func isBinary(data []byte) bool {
	sniff := data
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	return bytes.IndexByte(sniff, 0) != -1
}
