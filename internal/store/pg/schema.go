package pg

import "context"

// schema is applied idempotently at startup.
const schema = `
CREATE TABLE IF NOT EXISTS principal (
    id                   UUID PRIMARY KEY,
    email                TEXT NOT NULL,
    otp_secret_encrypted TEXT,
    otp_channel_id       UUID,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS communication_channel (
    id           UUID PRIMARY KEY,
    principal_id UUID NOT NULL REFERENCES principal(id) ON DELETE CASCADE,
    type         TEXT NOT NULL,
    path         TEXT NOT NULL,
    state        TEXT NOT NULL DEFAULT 'unconfirmed'
);

CREATE INDEX IF NOT EXISTS idx_channel_principal ON communication_channel(principal_id);

CREATE TABLE IF NOT EXISTS backup_code (
    principal_id UUID NOT NULL REFERENCES principal(id) ON DELETE CASCADE,
    code_hash    TEXT NOT NULL,
    used_at      TIMESTAMPTZ,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (principal_id, code_hash)
);
`

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}
