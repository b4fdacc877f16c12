package findings

import (
	"sort"
	"strings"
)

// DiffResult partitions two finding sets by fingerprint. Common findings
// always carry side A's instance.
type DiffResult struct {
	Common  []Finding `json:"commonFindings"`
	OnlyInA []Finding `json:"onlyInScanA"`
	OnlyInB []Finding `json:"onlyInScanB"`
}

// Diff partitions findingsA and findingsB into common / only-in-A /
// only-in-B by fingerprint. Each output list is sorted by severity rank
// with the fingerprint as a secondary key, so repeated runs over the same
// inputs produce identical output regardless of map iteration order.
func Diff(findingsA, findingsB []Finding) DiffResult {
	fingerprintsA := make(map[string]struct{}, len(findingsA))
	for _, f := range findingsA {
		fingerprintsA[f.Fingerprint()] = struct{}{}
	}
	fingerprintsB := make(map[string]struct{}, len(findingsB))
	for _, f := range findingsB {
		fingerprintsB[f.Fingerprint()] = struct{}{}
	}

	var result DiffResult
	seen := make(map[string]struct{}, len(findingsA))
	for _, f := range findingsA {
		fp := f.Fingerprint()
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		if _, ok := fingerprintsB[fp]; ok {
			result.Common = append(result.Common, f)
		} else {
			result.OnlyInA = append(result.OnlyInA, f)
		}
	}

	seen = make(map[string]struct{}, len(findingsB))
	for _, f := range findingsB {
		fp := f.Fingerprint()
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		if _, ok := fingerprintsA[fp]; !ok {
			result.OnlyInB = append(result.OnlyInB, f)
		}
	}

	sortBySeverity(result.Common)
	sortBySeverity(result.OnlyInA)
	sortBySeverity(result.OnlyInB)
	return result
}

// sortBySeverity orders findings critical first. Ties within a severity are
// broken by fingerprint to keep output reproducible.
func sortBySeverity(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		ri, rj := severityRank(findings[i].Severity), severityRank(findings[j].Severity)
		if ri != rj {
			return ri < rj
		}
		return findings[i].Fingerprint() < findings[j].Fingerprint()
	})
}

// Comparison relabels a diff for branch or scan-over-time comparison, where
// side B is the later scan: findings only in B are regressions, findings
// only in A were fixed.
type Comparison struct {
	Common       []Finding `json:"commonFindings"`
	Regressions  []Finding `json:"securityRegressions"`
	Improvements []Finding `json:"securityImprovements"`
}

// Categorize converts a DiffResult into regression/improvement terms.
func Categorize(d DiffResult) Comparison {
	return Comparison{
		Common:       d.Common,
		Regressions:  d.OnlyInB,
		Improvements: d.OnlyInA,
	}
}

// Delta summarizes a diff numerically: per-severity and total counts of
// (onlyInA − onlyInB). Positive numbers mean a net improvement when B is
// the later scan.
type Delta struct {
	BySeverity map[string]int `json:"bySeverity"`
	Total      int            `json:"total"`
}

// SecurityDelta computes the per-severity and total deltas for a diff.
func SecurityDelta(d DiffResult) Delta {
	delta := Delta{BySeverity: make(map[string]int)}
	for _, f := range d.OnlyInA {
		delta.BySeverity[normalizedSeverity(f.Severity)]++
		delta.Total++
	}
	for _, f := range d.OnlyInB {
		delta.BySeverity[normalizedSeverity(f.Severity)]--
		delta.Total--
	}
	return delta
}

func normalizedSeverity(severity string) string {
	s := strings.ToLower(strings.TrimSpace(severity))
	if _, ok := severityOrder[s]; ok {
		return s
	}
	return "unknown"
}
