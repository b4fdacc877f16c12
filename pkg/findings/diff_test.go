package findings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	a := Finding{Title: "SQL Injection", Category: "injection", Severity: "critical", CWE: "CWE-89"}
	b := Finding{Title: "  sql injection ", Category: "INJECTION", Severity: "Critical", CWE: "cwe-89"}
	c := Finding{Title: "SQL Injection", Category: "injection", Severity: "high", CWE: "CWE-89"}

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestDiffSingleSidedFinding(t *testing.T) {
	a := []Finding{{Title: "SQLi", Category: "injection", Severity: "critical", CWE: "CWE-89"}}

	result := Diff(a, nil)
	assert.Len(t, result.OnlyInA, 1)
	assert.Empty(t, result.OnlyInB)
	assert.Empty(t, result.Common)
}

func TestDiffCommonUsesInstanceFromA(t *testing.T) {
	a := []Finding{{Title: "XSS", Category: "xss", Severity: "high", CWE: "CWE-79", Description: "from scan A"}}
	b := []Finding{{Title: "XSS", Category: "xss", Severity: "high", CWE: "CWE-79", Description: "from scan B"}}

	result := Diff(a, b)
	require.Len(t, result.Common, 1)
	assert.Equal(t, "from scan A", result.Common[0].Description)
	assert.Empty(t, result.OnlyInA)
	assert.Empty(t, result.OnlyInB)
}

func TestDiffPartitionInvariants(t *testing.T) {
	a := []Finding{
		{Title: "SQLi", Category: "injection", Severity: "critical", CWE: "CWE-89"},
		{Title: "XSS", Category: "xss", Severity: "high", CWE: "CWE-79"},
		{Title: "Weak hash", Category: "crypto", Severity: "medium", CWE: "CWE-328"},
	}
	b := []Finding{
		{Title: "XSS", Category: "xss", Severity: "high", CWE: "CWE-79"},
		{Title: "Open redirect", Category: "redirect", Severity: "low", CWE: "CWE-601"},
	}

	result := Diff(a, b)

	toSet := func(findings []Finding) map[string]struct{} {
		set := make(map[string]struct{})
		for _, f := range findings {
			set[f.Fingerprint()] = struct{}{}
		}
		return set
	}
	union := func(x, y map[string]struct{}) map[string]struct{} {
		out := make(map[string]struct{})
		for k := range x {
			out[k] = struct{}{}
		}
		for k := range y {
			out[k] = struct{}{}
		}
		return out
	}

	assert.Equal(t, toSet(a), union(toSet(result.Common), toSet(result.OnlyInA)))
	assert.Equal(t, toSet(b), union(toSet(result.Common), toSet(result.OnlyInB)))
	for fp := range toSet(result.OnlyInA) {
		_, ok := toSet(result.OnlyInB)[fp]
		assert.False(t, ok, "onlyInA and onlyInB must be disjoint")
	}
}

func TestDiffSortsBySeverity(t *testing.T) {
	a := []Finding{
		{Title: "c", Category: "x", Severity: "info"},
		{Title: "a", Category: "x", Severity: "critical"},
		{Title: "b", Category: "x", Severity: "medium"},
		{Title: "d", Category: "x", Severity: "made-up"},
	}

	result := Diff(a, nil)
	require.Len(t, result.OnlyInA, 4)
	assert.Equal(t, "a", result.OnlyInA[0].Title)
	assert.Equal(t, "b", result.OnlyInA[1].Title)
	assert.Equal(t, "c", result.OnlyInA[2].Title)
	assert.Equal(t, "d", result.OnlyInA[3].Title, "unrecognized severities sort last")
}

func TestDiffDeterministic(t *testing.T) {
	a := []Finding{
		{Title: "f1", Category: "x", Severity: "high"},
		{Title: "f2", Category: "x", Severity: "high"},
		{Title: "f3", Category: "y", Severity: "high"},
		{Title: "f4", Category: "y", Severity: "critical"},
	}
	b := []Finding{
		{Title: "f2", Category: "x", Severity: "high"},
		{Title: "f5", Category: "z", Severity: "high"},
	}

	first := Diff(a, b)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Diff(a, b))
	}
}

func TestCategorize(t *testing.T) {
	d := DiffResult{
		Common:  []Finding{{Title: "kept"}},
		OnlyInA: []Finding{{Title: "fixed"}},
		OnlyInB: []Finding{{Title: "introduced"}},
	}

	c := Categorize(d)
	require.Len(t, c.Regressions, 1)
	require.Len(t, c.Improvements, 1)
	assert.Equal(t, "introduced", c.Regressions[0].Title)
	assert.Equal(t, "fixed", c.Improvements[0].Title)
	assert.Equal(t, d.Common, c.Common)
}

func TestSecurityDelta(t *testing.T) {
	d := DiffResult{
		OnlyInA: []Finding{
			{Title: "a1", Severity: "critical"},
			{Title: "a2", Severity: "high"},
			{Title: "a3", Severity: "high"},
		},
		OnlyInB: []Finding{
			{Title: "b1", Severity: "high"},
			{Title: "b2", Severity: "weird"},
		},
	}

	delta := SecurityDelta(d)
	assert.Equal(t, 1, delta.BySeverity["critical"])
	assert.Equal(t, 1, delta.BySeverity["high"])
	assert.Equal(t, -1, delta.BySeverity["unknown"])
	assert.Equal(t, 1, delta.Total)
}
