// Package credstore persists per-organization repository credentials in
// PostgreSQL. Secrets are stored only as encrypted payloads produced by
// credcipher; this package never sees plaintext.
package credstore

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/parascan/repocore/pkg/context"
	"github.com/parascan/repocore/pkg/gitrepo"
	"github.com/parascan/repocore/pkg/giturl"
)

// ValidationStatus records the outcome of the most recent access check
// against a stored credential.
type ValidationStatus string

const (
	StatusValid    ValidationStatus = "valid"
	StatusInvalid  ValidationStatus = "invalid"
	StatusUntested ValidationStatus = "untested"
)

// ErrNotFound is returned when no credential row matches a lookup.
var ErrNotFound = errors.New("credential not found")

// RepositoryCredential is one organization's stored authentication secret
// for one normalized repository URL. At most one row exists per
// (organization, normalized URL) pair.
type RepositoryCredential struct {
	ID               uuid.UUID
	OrgID            uuid.UUID
	RepositoryURL    string
	Kind             gitrepo.CredentialKind
	EncryptedSecret  string
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastValidatedAt  *time.Time
	ValidationStatus ValidationStatus
}

// Store is the persistence boundary for repository credentials.
type Store interface {
	// Save inserts a credential, or rotates the secret of an existing
	// (org, URL) row. Rotation resets the validation status to untested.
	Save(ctx context.Context, cred *RepositoryCredential) error
	// Get returns the credential for an organization and repository URL.
	// The URL is normalized before lookup.
	Get(ctx context.Context, orgID uuid.UUID, repoURL string) (*RepositoryCredential, error)
	// UpdateValidation flips the validation status and stamps the
	// last-validated time.
	UpdateValidation(ctx context.Context, id uuid.UUID, valid bool) error
	// Delete removes a credential row. Deleting an absent row is an error.
	Delete(ctx context.Context, orgID uuid.UUID, repoURL string) error
}

// PostgresStore implements Store against a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// Open connects to PostgreSQL with lib/pq and validates the connection
// with a ping.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening postgres connection")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "pinging postgres")
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStore wraps an existing connection, mainly for tests.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

const saveQuery = `
	INSERT INTO repository_credentials (
		id, org_id, repository_url, kind, encrypted_secret,
		created_by, created_at, updated_at, validation_status
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8)
	ON CONFLICT (org_id, repository_url) DO UPDATE SET
		kind              = EXCLUDED.kind,
		encrypted_secret  = EXCLUDED.encrypted_secret,
		updated_at        = EXCLUDED.updated_at,
		validation_status = EXCLUDED.validation_status,
		last_validated_at = NULL
	RETURNING id, created_at, updated_at`

func (s *PostgresStore) Save(ctx context.Context, cred *RepositoryCredential) error {
	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}
	cred.RepositoryURL = giturl.Normalize(cred.RepositoryURL)
	cred.ValidationStatus = StatusUntested
	cred.LastValidatedAt = nil

	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, saveQuery,
		cred.ID,
		cred.OrgID,
		cred.RepositoryURL,
		string(cred.Kind),
		cred.EncryptedSecret,
		cred.CreatedBy,
		now,
		string(StatusUntested),
	)
	if err := row.Scan(&cred.ID, &cred.CreatedAt, &cred.UpdatedAt); err != nil {
		return errors.Wrap(err, "saving credential")
	}
	ctx.Logger().V(2).Info("credential saved",
		"org_id", cred.OrgID, "repository_url", cred.RepositoryURL, "kind", cred.Kind)
	return nil
}

const getQuery = `
	SELECT id, org_id, repository_url, kind, encrypted_secret,
	       created_by, created_at, updated_at, last_validated_at, validation_status
	FROM repository_credentials
	WHERE org_id = $1 AND repository_url = $2`

func (s *PostgresStore) Get(ctx context.Context, orgID uuid.UUID, repoURL string) (*RepositoryCredential, error) {
	var (
		cred          RepositoryCredential
		kind, status  string
		lastValidated sql.NullTime
	)
	row := s.db.QueryRowContext(ctx, getQuery, orgID, giturl.Normalize(repoURL))
	err := row.Scan(
		&cred.ID, &cred.OrgID, &cred.RepositoryURL, &kind, &cred.EncryptedSecret,
		&cred.CreatedBy, &cred.CreatedAt, &cred.UpdatedAt, &lastValidated, &status,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "looking up credential")
	}
	cred.Kind = gitrepo.CredentialKind(kind)
	cred.ValidationStatus = ValidationStatus(status)
	if lastValidated.Valid {
		t := lastValidated.Time
		cred.LastValidatedAt = &t
	}
	return &cred, nil
}

const updateValidationQuery = `
	UPDATE repository_credentials
	SET validation_status = $1, last_validated_at = $2, updated_at = $2
	WHERE id = $3`

func (s *PostgresStore) UpdateValidation(ctx context.Context, id uuid.UUID, valid bool) error {
	status := StatusInvalid
	if valid {
		status = StatusValid
	}
	res, err := s.db.ExecContext(ctx, updateValidationQuery, string(status), time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, "updating validation status")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const deleteQuery = `
	DELETE FROM repository_credentials
	WHERE org_id = $1 AND repository_url = $2`

func (s *PostgresStore) Delete(ctx context.Context, orgID uuid.UUID, repoURL string) error {
	res, err := s.db.ExecContext(ctx, deleteQuery, orgID, giturl.Normalize(repoURL))
	if err != nil {
		return errors.Wrap(err, "deleting credential")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	ctx.Logger().V(2).Info("credential deleted", "org_id", orgID, "repository_url", giturl.Normalize(repoURL))
	return nil
}
