// Package findings reconciles security findings across two scans of the
// same repository, classifying each finding as common to both scans or
// unique to one side.
package findings

import "strings"

// Severity levels orderable by rank. Comparisons use severityRank, not
// string order.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// Finding is a single vulnerability reported by a scan. This package treats
// it as a value type: it derives no identity beyond the fingerprint used for
// cross-scan matching.
type Finding struct {
	ID          string `json:"id,omitempty"`
	ScanID      string `json:"scanId,omitempty"`
	Title       string `json:"title"`
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	CWE         string `json:"cwe,omitempty"`
	Description string `json:"description,omitempty"`
	FilePath    string `json:"filePath,omitempty"`
	Line        int    `json:"line,omitempty"`
}

const fingerprintSeparator = "|"

// Fingerprint derives the matching key for a finding: the lowercased,
// trimmed (title, category, severity, cwe) tuple. Two findings with equal
// fingerprints are treated as the same vulnerability regardless of which
// scan produced them. This is a heuristic identity: two genuinely distinct
// findings that agree on all four fields will collapse into one.
func (f Finding) Fingerprint() string {
	norm := func(s string) string {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return strings.Join([]string{
		norm(f.Title),
		norm(f.Category),
		norm(f.Severity),
		norm(f.CWE),
	}, fingerprintSeparator)
}

var severityOrder = map[string]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
	SeverityInfo:     4,
}

// severityRank returns the sort rank for a severity. Unrecognized
// severities sort last.
func severityRank(severity string) int {
	if rank, ok := severityOrder[strings.ToLower(strings.TrimSpace(severity))]; ok {
		return rank
	}
	return len(severityOrder)
}
