// Package api exposes the validation and scan-comparison operations over
// HTTP for the web layer. Handlers translate JSON requests into calls on
// the prep service and diff engine and return outcome values verbatim;
// they never leak credential material into responses or logs.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/parascan/repocore/pkg/context"
	"github.com/parascan/repocore/pkg/findings"
	"github.com/parascan/repocore/pkg/gitrepo"
	"github.com/parascan/repocore/pkg/scanprep"
)

// maxBodyBytes bounds request bodies; finding lists for large scans fit
// comfortably under this.
const maxBodyBytes = 16 << 20

// Server routes API requests to the scan-prep service.
type Server struct {
	prep *scanprep.Service
	ctx  context.Context
}

func NewServer(ctx context.Context, prep *scanprep.Service) *Server {
	return &Server{prep: prep, ctx: ctx}
}

// Router builds the HTTP routing table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/repositories/validate", s.handleValidate).Methods(http.MethodPost)
	api.HandleFunc("/scans/compare", s.handleCompare).Methods(http.MethodPost)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// validateRequest carries either inline credential material or, when
// Credential is empty, a reference to the stored credential for
// (OrgID, RepositoryURL).
type validateRequest struct {
	RepositoryURL  string `json:"repositoryUrl"`
	OrgID          string `json:"orgId,omitempty"`
	CredentialKind string `json:"credentialKind,omitempty"`
	Credential     string `json:"credential,omitempty"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RepositoryURL == "" {
		writeError(w, http.StatusBadRequest, "repositoryUrl is required")
		return
	}

	var orgID uuid.UUID
	if req.OrgID != "" {
		parsed, err := uuid.Parse(req.OrgID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "orgId must be a UUID")
			return
		}
		orgID = parsed
	}

	start := time.Now()
	outcome := s.prep.Validate(s.requestContext(r), scanprep.Request{
		OrgID:      orgID,
		RepoURL:    req.RepositoryURL,
		Kind:       gitrepo.CredentialKind(req.CredentialKind),
		Credential: req.Credential,
	})
	s.ctx.Logger().Info("validation request served",
		"valid", outcome.Valid, "error_type", outcome.ErrorType,
		"elapsed_ms", time.Since(start).Milliseconds())
	writeJSON(w, http.StatusOK, outcome)
}

// compareRequest carries the two already-fetched finding lists for a
// branch or scan-over-time comparison. Scan IDs are echoed for the caller
// and not interpreted here.
type compareRequest struct {
	ScanIDA   string             `json:"scanIdA,omitempty"`
	ScanIDB   string             `json:"scanIdB,omitempty"`
	FindingsA []findings.Finding `json:"findingsA"`
	FindingsB []findings.Finding `json:"findingsB"`
}

type compareResponse struct {
	ScanIDA string              `json:"scanIdA,omitempty"`
	ScanIDB string              `json:"scanIdB,omitempty"`
	Diff    findings.DiffResult `json:"diff"`
	Summary compareSummary      `json:"summary"`
	Delta   findings.Delta      `json:"securityDelta"`
}

type compareSummary struct {
	CommonCount  int `json:"commonCount"`
	OnlyInACount int `json:"onlyInScanACount"`
	OnlyInBCount int `json:"onlyInScanBCount"`
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if !decodeBody(w, r, &req) {
		return
	}

	diff := findings.Diff(req.FindingsA, req.FindingsB)
	writeJSON(w, http.StatusOK, compareResponse{
		ScanIDA: req.ScanIDA,
		ScanIDB: req.ScanIDB,
		Diff:    diff,
		Summary: compareSummary{
			CommonCount:  len(diff.Common),
			OnlyInACount: len(diff.OnlyInA),
			OnlyInBCount: len(diff.OnlyInB),
		},
		Delta: findings.SecurityDelta(diff),
	})
}

// requestContext carries the server's logger alongside the request's
// cancellation.
func (s *Server) requestContext(r *http.Request) context.Context {
	return context.WithLogger(r.Context(), s.ctx.Logger())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
