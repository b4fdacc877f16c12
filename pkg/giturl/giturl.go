// Package giturl canonicalizes repository URLs so that credential lookups,
// uniqueness constraints, and scan comparisons all agree on repository
// identity.
package giturl

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// Normalize returns the canonical form of a repository URL: surrounding
// whitespace trimmed, any trailing slashes removed, and a single trailing
// ".git" suffix stripped. The canonical form is what gets stored and
// compared; raw user input never is.
func Normalize(repoURL string) string {
	s := strings.TrimSpace(repoURL)
	s = strings.TrimRight(s, "/")
	s = strings.TrimSuffix(s, ".git")
	s = strings.TrimRight(s, "/")
	return s
}

// Equal reports whether two repository URLs identify the same repository
// after normalization.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Parse parses a git URL, falling back to interpreting scp-style syntax
// (git@host:org/repo.git) as an ssh:// URL when the standard parser rejects
// it or leaves the host empty.
func Parse(gitURL string) (*url.URL, error) {
	parsedURL, originalError := url.Parse(gitURL)
	if originalError == nil && (parsedURL.Host != "" || !strings.Contains(gitURL, "@")) {
		return parsedURL, nil
	}

	gitURLBytes := []byte("ssh://" + gitURL)
	colonIndex := bytes.LastIndex(gitURLBytes, []byte(":"))
	if colonIndex == -1 {
		if originalError != nil {
			return nil, errors.Wrap(originalError, "unable to parse git URL")
		}
		return parsedURL, nil
	}
	gitURLBytes[colonIndex] = byte('/')
	sshURL, err := url.Parse(string(gitURLBytes))
	if err != nil {
		if originalError != nil {
			return nil, errors.Wrap(originalError, "unable to parse git URL")
		}
		return parsedURL, nil
	}
	return sshURL, nil
}

// Sanitize strips embedded userinfo (user:token@) from a URL so it is safe
// to log or return in an error message. scp-style git@ URLs carry no secret
// material and are returned unchanged.
func Sanitize(u string) string {
	if strings.HasPrefix(u, "git@") {
		return u
	}

	repoURL, err := url.Parse(u)
	if err != nil {
		// Unparseable input may still embed credentials; coarsely strip
		// everything between the scheme and a trailing '@'.
		if at := strings.LastIndex(u, "@"); at != -1 {
			if schemeEnd := strings.Index(u, "://"); schemeEnd != -1 && at > schemeEnd {
				return u[:schemeEnd+3] + u[at+1:]
			}
		}
		return u
	}

	repoURL.User = nil
	return repoURL.String()
}
