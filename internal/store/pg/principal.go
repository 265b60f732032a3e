package pg

import (
	"context"
	"errors"
	"time"

	"github.com/edline/otpgate/internal/domain/repository"
	"github.com/edline/otpgate/internal/domain/types"
	"github.com/edline/otpgate/internal/security/secretbox"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func parseUUID(id string) (uuid.UUID, error) { return uuid.Parse(id) }

func (s *Store) GetByID(ctx context.Context, id string) (*types.Principal, error) {
	pid, err := parseUUID(id)
	if err != nil {
		return nil, repository.ErrNotFound
	}

	row := s.pool.QueryRow(ctx, `
		SELECT id, email, otp_secret_encrypted, otp_channel_id, created_at, updated_at
		FROM principal WHERE id = $1
	`, pid)

	var p types.Principal
	var secretEnc *string
	var channelID *uuid.UUID
	var uid uuid.UUID
	if err := row.Scan(&uid, &p.Email, &secretEnc, &channelID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	p.ID = uid.String()
	if secretEnc != nil && *secretEnc != "" {
		plain, err := secretbox.Decrypt(*secretEnc)
		if err != nil {
			return nil, err
		}
		p.OTPSecret = plain
	}
	if channelID != nil {
		p.OTPChannel = channelID.String()
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, type, path, state
		FROM communication_channel WHERE principal_id = $1
		ORDER BY id
	`, pid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ch types.CommunicationChannel
		var cid uuid.UUID
		if err := rows.Scan(&cid, &ch.Type, &ch.Path, &ch.State); err != nil {
			return nil, err
		}
		ch.ID = cid.String()
		p.Channels = append(p.Channels, ch)
	}
	return &p, rows.Err()
}

func (s *Store) CommitSecret(ctx context.Context, id, secretB32, channelID string) error {
	pid, err := parseUUID(id)
	if err != nil {
		return repository.ErrNotFound
	}
	enc, err := secretbox.Encrypt(secretB32)
	if err != nil {
		return err
	}

	var cid *uuid.UUID
	if channelID != "" {
		c, err := parseUUID(channelID)
		if err != nil {
			return repository.ErrNotFound
		}
		cid = &c
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE principal
		SET otp_secret_encrypted = $2, otp_channel_id = $3, updated_at = now()
		WHERE id = $1
	`, pid, enc, cid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	// a new committed secret invalidates codes minted for the old one
	if _, err := tx.Exec(ctx, `DELETE FROM backup_code WHERE principal_id = $1`, pid); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) ClearSecret(ctx context.Context, id string) error {
	pid, err := parseUUID(id)
	if err != nil {
		return repository.ErrNotFound
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE principal
		SET otp_secret_encrypted = NULL, otp_channel_id = NULL, updated_at = now()
		WHERE id = $1
	`, pid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM backup_code WHERE principal_id = $1`, pid); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) ActivateChannel(ctx context.Context, id, channelID string) error {
	pid, err := parseUUID(id)
	if err != nil {
		return repository.ErrNotFound
	}
	cid, err := parseUUID(channelID)
	if err != nil {
		return repository.ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE communication_channel SET state = 'active'
		WHERE id = $1 AND principal_id = $2
	`, cid, pid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) SetBackupCodes(ctx context.Context, id string, hashes []string) error {
	pid, err := parseUUID(id)
	if err != nil {
		return repository.ErrNotFound
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM backup_code WHERE principal_id = $1`, pid); err != nil {
		return err
	}
	var b pgx.Batch
	for _, h := range hashes {
		b.Queue(`INSERT INTO backup_code (principal_id, code_hash) VALUES ($1,$2)`, pid, h)
	}
	br := tx.SendBatch(ctx, &b)
	for range hashes {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) ConsumeBackupCode(ctx context.Context, id, hash string) (bool, error) {
	pid, err := parseUUID(id)
	if err != nil {
		return false, nil
	}
	// conditional update: exactly one of N concurrent attempts wins
	tag, err := s.pool.Exec(ctx, `
		UPDATE backup_code
		SET used_at = $3
		WHERE principal_id = $1 AND code_hash = $2 AND used_at IS NULL
	`, pid, hash, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) DeleteBackupCodes(ctx context.Context, id string) error {
	pid, err := parseUUID(id)
	if err != nil {
		return repository.ErrNotFound
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM backup_code WHERE principal_id = $1`, pid)
	return err
}

var _ repository.PrincipalRepository = (*Store)(nil)
