package credstore

import (
	"github.com/pkg/errors"

	"github.com/parascan/repocore/pkg/context"
)

const schema = `
	CREATE TABLE IF NOT EXISTS repository_credentials (
		id                UUID PRIMARY KEY,
		org_id            UUID NOT NULL,
		repository_url    TEXT NOT NULL,
		kind              TEXT NOT NULL CHECK (kind IN ('PAT', 'SSH')),
		encrypted_secret  TEXT NOT NULL,
		created_by        TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL,
		last_validated_at TIMESTAMPTZ,
		validation_status TEXT NOT NULL DEFAULT 'untested'
			CHECK (validation_status IN ('valid', 'invalid', 'untested')),
		UNIQUE (org_id, repository_url)
	)`

// EnsureSchema creates the credentials table if it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "creating repository_credentials table")
	}
	return nil
}
