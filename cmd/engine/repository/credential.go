package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lumenflow/orchestrator/common/db"
	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/models"
)

const credentialColumns = `
	id, user_id, provider, integration_id, team_id,
	access_token_enc, refresh_token_enc, token_type, expires_at, scopes,
	valid, version, created_at, updated_at, last_used_at
`

// CredentialRepository handles database operations for encrypted OAuth2
// credentials. Refresh flows run inside a transaction holding a row lock so
// only one refresher per credential talks to the provider.
type CredentialRepository struct {
	db *db.DB
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(database *db.DB) *CredentialRepository {
	return &CredentialRepository{db: database}
}

// Upsert stores a credential, replacing any existing row for the same
// (user, provider, integration). A replacement bumps the version counter.
func (r *CredentialRepository) Upsert(ctx context.Context, cred *models.OAuth2Credential) error {
	query := `
		INSERT INTO oauth_tokens (` + credentialColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (user_id, provider, integration_id) DO UPDATE
		SET access_token_enc = EXCLUDED.access_token_enc,
		    refresh_token_enc = EXCLUDED.refresh_token_enc,
		    token_type = EXCLUDED.token_type,
		    expires_at = EXCLUDED.expires_at,
		    scopes = EXCLUDED.scopes,
		    valid = TRUE,
		    version = oauth_tokens.version + 1,
		    updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.Exec(ctx, query,
		cred.ID, cred.UserID, cred.Provider, cred.IntegrationID, cred.TeamID,
		cred.AccessTokenEnc, cred.RefreshTokenEnc, cred.TokenType, cred.ExpiresAt, cred.Scopes,
		cred.Valid, cred.Version, cred.CreatedAt, cred.UpdatedAt, cred.LastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

// Get retrieves the credential for (user, provider) without locking
func (r *CredentialRepository) Get(ctx context.Context, userID, provider string) (*models.OAuth2Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM oauth_tokens WHERE user_id = $1 AND provider = $2`
	cred, err := scanCredential(r.db.QueryRow(ctx, query, userID, provider))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.KindCredentialMissing, "no credential for user %s and provider %s", userID, provider)
	}
	return cred, err
}

// RefreshFn rewrites a credential under the row lock. It receives the
// current row and returns the rotated one, or an error to abort.
type RefreshFn func(current *models.OAuth2Credential) (*models.OAuth2Credential, error)

// WithRowLock runs fn while holding SELECT ... FOR UPDATE on the credential
// row. Concurrent callers on the same row serialize here; they observe the
// committed result of whoever ran first via the version counter.
func (r *CredentialRepository) WithRowLock(ctx context.Context, userID, provider string, fn RefreshFn) (*models.OAuth2Credential, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin credential refresh: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + credentialColumns + ` FROM oauth_tokens WHERE user_id = $1 AND provider = $2 FOR UPDATE`
	current, err := scanCredential(tx.QueryRow(ctx, query, userID, provider))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.KindCredentialMissing, "no credential for user %s and provider %s", userID, provider)
	}
	if err != nil {
		return nil, err
	}

	updated, err := fn(current)
	if err != nil {
		return nil, err
	}
	if updated == current {
		// fn decided nothing changed (a concurrent refresh already rotated)
		return current, tx.Commit(ctx)
	}

	update := `
		UPDATE oauth_tokens
		SET access_token_enc = $3, refresh_token_enc = $4, token_type = $5,
		    expires_at = $6, valid = $7, version = $8, updated_at = $9
		WHERE user_id = $1 AND provider = $2
	`
	_, err = tx.Exec(ctx, update,
		userID, provider,
		updated.AccessTokenEnc, updated.RefreshTokenEnc, updated.TokenType,
		updated.ExpiresAt, updated.Valid, updated.Version, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to rewrite credential: %w", err)
	}

	return updated, tx.Commit(ctx)
}

// MarkInvalid flags a credential so later calls fail fast with
// CredentialInvalid instead of hammering the provider.
func (r *CredentialRepository) MarkInvalid(ctx context.Context, userID, provider string) error {
	query := `UPDATE oauth_tokens SET valid = FALSE, updated_at = $3 WHERE user_id = $1 AND provider = $2`
	_, err := r.db.Exec(ctx, query, userID, provider, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark credential invalid: %w", err)
	}
	return nil
}

// TouchLastUsed records a use without touching the tokens
func (r *CredentialRepository) TouchLastUsed(ctx context.Context, userID, provider string) error {
	query := `UPDATE oauth_tokens SET last_used_at = $3 WHERE user_id = $1 AND provider = $2`
	_, err := r.db.Exec(ctx, query, userID, provider, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to touch credential: %w", err)
	}
	return nil
}

// Delete removes a credential row
func (r *CredentialRepository) Delete(ctx context.Context, userID, provider string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM oauth_tokens WHERE user_id = $1 AND provider = $2`, userID, provider)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.KindCredentialMissing, "no credential for user %s and provider %s", userID, provider)
	}
	return nil
}

// ListByUser retrieves all credentials of one user. Ciphertexts come along
// but are json-suppressed on the models.
func (r *CredentialRepository) ListByUser(ctx context.Context, userID string) ([]*models.OAuth2Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM oauth_tokens WHERE user_id = $1 ORDER BY provider`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.OAuth2Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating credentials: %w", err)
	}

	return creds, nil
}

func scanCredential(row pgx.Row) (*models.OAuth2Credential, error) {
	cred := &models.OAuth2Credential{}
	err := row.Scan(
		&cred.ID, &cred.UserID, &cred.Provider, &cred.IntegrationID, &cred.TeamID,
		&cred.AccessTokenEnc, &cred.RefreshTokenEnc, &cred.TokenType, &cred.ExpiresAt, &cred.Scopes,
		&cred.Valid, &cred.Version, &cred.CreatedAt, &cred.UpdatedAt, &cred.LastUsedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan credential: %w", err)
	}
	return cred, nil
}
