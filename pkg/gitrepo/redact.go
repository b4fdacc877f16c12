package gitrepo

import "regexp"

// redactedPlaceholder replaces credential material in any message that
// leaves this package. Messages may reach logs and user-facing UI, so this
// is a correctness requirement, not cosmetics.
const redactedPlaceholder = "[REDACTED]"

// Only compile during startup.
var (
	// user:token@ embedded in a URL.
	urlCredentialRE = regexp.MustCompile(`(?i)([a-z][a-z0-9+.-]*://)[^/\s@]+@`)

	// PEM-style private key blocks, possibly spanning lines.
	pemBlockRE = regexp.MustCompile(`(?s)-----BEGIN [A-Z0-9 ]+-----.*?-----END [A-Z0-9 ]+-----`)

	// Common personal-access-token shapes: GitHub classic and fine-grained
	// tokens, GitLab tokens.
	tokenRE = regexp.MustCompile(`\b(?:gh[pousr]_[A-Za-z0-9]{16,}|github_pat_[A-Za-z0-9_]{22,}|glpat-[A-Za-z0-9_-]{20,})\b`)
)

// RedactSecrets strips credential material from a message: inline URL
// credentials, PEM key blocks, and bare access tokens each collapse to a
// fixed placeholder.
func RedactSecrets(msg string) string {
	msg = urlCredentialRE.ReplaceAllString(msg, "${1}"+redactedPlaceholder+"@")
	msg = pemBlockRE.ReplaceAllString(msg, redactedPlaceholder)
	msg = tokenRE.ReplaceAllString(msg, redactedPlaceholder)
	return msg
}
