package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parascan/repocore/pkg/context"
	"github.com/parascan/repocore/pkg/credcipher"
	"github.com/parascan/repocore/pkg/findings"
	"github.com/parascan/repocore/pkg/scanprep"
)

const testMasterKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	keychain, err := credcipher.NewKeychain(testMasterKey)
	require.NoError(t, err)
	prep := scanprep.New(keychain, nil, t.TempDir(), 1)
	return NewServer(context.Background(), prep)
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	router := newTestServer(t).Router()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestValidateRequiresRepositoryURL(t *testing.T) {
	router := newTestServer(t).Router()
	rec := postJSON(t, router, "/api/v1/repositories/validate", map[string]string{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "repositoryUrl")
}

func TestValidateRejectsBadOrgID(t *testing.T) {
	router := newTestServer(t).Router()
	rec := postJSON(t, router, "/api/v1/repositories/validate", map[string]string{
		"repositoryUrl": "https://github.com/acme/api",
		"orgId":         "not-a-uuid",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "orgId")
}

func TestValidateWithoutCredentialReturnsOutcome(t *testing.T) {
	// No inline credential and no store configured: the outcome is a typed
	// failure, not an HTTP error.
	router := newTestServer(t).Router()
	rec := postJSON(t, router, "/api/v1/repositories/validate", map[string]string{
		"repositoryUrl": "https://github.com/acme/api",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var outcome struct {
		Valid     bool   `json:"valid"`
		ErrorType string `json:"errorType"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.False(t, outcome.Valid)
	assert.NotEmpty(t, outcome.ErrorType)
}

func TestValidateRejectsUnknownFields(t *testing.T) {
	router := newTestServer(t).Router()
	rec := postJSON(t, router, "/api/v1/repositories/validate", map[string]string{
		"repositoryUrl": "https://github.com/acme/api",
		"token":         "ghp_oops",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompareReturnsDiffAndSummary(t *testing.T) {
	router := newTestServer(t).Router()

	sqli := findings.Finding{Title: "SQLi", Category: "injection", Severity: "critical", CWE: "CWE-89"}
	xss := findings.Finding{Title: "XSS", Category: "xss", Severity: "high", CWE: "CWE-79"}
	rec := postJSON(t, router, "/api/v1/scans/compare", map[string]any{
		"scanIdA":   "scan-1",
		"scanIdB":   "scan-2",
		"findingsA": []findings.Finding{sqli, xss},
		"findingsB": []findings.Finding{xss},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		ScanIDA string `json:"scanIdA"`
		Diff    struct {
			Common  []findings.Finding `json:"commonFindings"`
			OnlyInA []findings.Finding `json:"onlyInScanA"`
			OnlyInB []findings.Finding `json:"onlyInScanB"`
		} `json:"diff"`
		Summary struct {
			CommonCount  int `json:"commonCount"`
			OnlyInACount int `json:"onlyInScanACount"`
			OnlyInBCount int `json:"onlyInScanBCount"`
		} `json:"summary"`
		Delta struct {
			Total int `json:"total"`
		} `json:"securityDelta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "scan-1", resp.ScanIDA)
	require.Len(t, resp.Diff.Common, 1)
	assert.Equal(t, "XSS", resp.Diff.Common[0].Title)
	require.Len(t, resp.Diff.OnlyInA, 1)
	assert.Equal(t, "SQLi", resp.Diff.OnlyInA[0].Title)
	assert.Empty(t, resp.Diff.OnlyInB)
	assert.Equal(t, 1, resp.Summary.CommonCount)
	assert.Equal(t, 1, resp.Summary.OnlyInACount)
	assert.Equal(t, 0, resp.Summary.OnlyInBCount)
	assert.Equal(t, 1, resp.Delta.Total)
}

func TestCompareMalformedBody(t *testing.T) {
	router := newTestServer(t).Router()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scans/compare", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	router := newTestServer(t).Router()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/scans/compare", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}