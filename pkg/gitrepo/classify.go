package gitrepo

import (
	"strings"
	"time"
)

// ValidationCategory is the closed set of failure reasons for a remote
// access check.
type ValidationCategory string

const (
	ValidationAuthFailed   ValidationCategory = "AUTH_FAILED"
	ValidationNotFound     ValidationCategory = "NOT_FOUND"
	ValidationNetworkError ValidationCategory = "NETWORK_ERROR"
	ValidationRepoTooLarge ValidationCategory = "REPO_TOO_LARGE"
	ValidationTimeout      ValidationCategory = "VALIDATION_TIMEOUT"
	ValidationUnknown      ValidationCategory = "UNKNOWN"
)

// CloneCategory is the closed set of failure reasons for a clone. It is kept
// separate from ValidationCategory on purpose: validation is remote-only,
// cloning writes a working tree, and callers branch on them differently.
type CloneCategory string

const (
	CloneAuthentication     CloneCategory = "AUTHENTICATION"
	CloneNetwork            CloneCategory = "NETWORK"
	CloneInvalidURL         CloneCategory = "INVALID_URL"
	CloneTimeout            CloneCategory = "TIMEOUT"
	CloneRepositoryNotFound CloneCategory = "REPOSITORY_NOT_FOUND"
	CloneUnknown            CloneCategory = "UNKNOWN"
)

// failureReason is the shared classification both taxonomies map from.
type failureReason int

const (
	reasonUnknown failureReason = iota
	reasonAuth
	reasonNotFound
	reasonTimeout
	reasonNetwork
)

// Pattern tables for classifying raw git output. Matching is substring-based
// over the lowercased message; the underlying git and transport versions
// change wording between releases, so patterns stay loose.
var (
	authPatterns = []string{
		"authentication failed",
		"invalid username or password",
		"could not read username",
		"could not read password",
		"permission denied",
		"access denied",
		"publickey",
		"support for password authentication was removed",
		"http 403",
		"403 forbidden",
		"the requested url returned error: 403",
	}
	notFoundPatterns = []string{
		"repository not found",
		"not found",
		"does not exist",
		"http 404",
		"404 not found",
		"the requested url returned error: 404",
	}
	timeoutPatterns = []string{
		"timed out",
		"timeout",
		"deadline exceeded",
		"operation too slow",
	}
	networkPatterns = []string{
		"could not resolve host",
		"could not resolve hostname",
		"temporary failure in name resolution",
		"name or service not known",
		"connection refused",
		"connection reset",
		"connection closed",
		"network is unreachable",
		"no route to host",
		"unable to access",
		"remote end hung up",
		"tls handshake",
		"ssl",
	}
)

// classify maps raw git output to a failure reason. Patterns are checked in
// priority order: credential problems first, then missing repositories, then
// timeouts, then transport errors. Anything unmatched stays unknown and the
// caller passes the (redacted) message through verbatim.
func classify(raw string) failureReason {
	msg := strings.ToLower(raw)
	for _, p := range authPatterns {
		if strings.Contains(msg, p) {
			return reasonAuth
		}
	}
	for _, p := range notFoundPatterns {
		if strings.Contains(msg, p) {
			return reasonNotFound
		}
	}
	for _, p := range timeoutPatterns {
		if strings.Contains(msg, p) {
			return reasonTimeout
		}
	}
	for _, p := range networkPatterns {
		if strings.Contains(msg, p) {
			return reasonNetwork
		}
	}
	return reasonUnknown
}

// ClassifyValidation categorizes a raw validation error. An elapsed time at
// or beyond the bound is a timeout regardless of what the transport printed.
func ClassifyValidation(raw string, elapsed, bound time.Duration) ValidationCategory {
	reason := classify(raw)
	if reason != reasonAuth && reason != reasonNotFound && elapsed >= bound {
		return ValidationTimeout
	}
	switch reason {
	case reasonAuth:
		return ValidationAuthFailed
	case reasonNotFound:
		return ValidationNotFound
	case reasonTimeout:
		return ValidationTimeout
	case reasonNetwork:
		return ValidationNetworkError
	default:
		return ValidationUnknown
	}
}

// ClassifyClone categorizes a raw clone error using the same priority order
// as validation.
func ClassifyClone(raw string, elapsed, bound time.Duration) CloneCategory {
	reason := classify(raw)
	if reason != reasonAuth && reason != reasonNotFound && elapsed >= bound {
		return CloneTimeout
	}
	switch reason {
	case reasonAuth:
		return CloneAuthentication
	case reasonNotFound:
		return CloneRepositoryNotFound
	case reasonTimeout:
		return CloneTimeout
	case reasonNetwork:
		return CloneNetwork
	default:
		return CloneUnknown
	}
}
