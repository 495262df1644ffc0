package credential

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/lumenflow/orchestrator/cmd/engine/repository"
	"github.com/lumenflow/orchestrator/common/crypto"
	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/logger"
	"github.com/lumenflow/orchestrator/common/models"
)

// Repo is the persistence surface the store needs. Implemented by
// repository.CredentialRepository; faked in tests.
type Repo interface {
	Upsert(ctx context.Context, cred *models.OAuth2Credential) error
	Get(ctx context.Context, userID, provider string) (*models.OAuth2Credential, error)
	WithRowLock(ctx context.Context, userID, provider string, fn repository.RefreshFn) (*models.OAuth2Credential, error)
	MarkInvalid(ctx context.Context, userID, provider string) error
	TouchLastUsed(ctx context.Context, userID, provider string) error
	Delete(ctx context.Context, userID, provider string) error
	ListByUser(ctx context.Context, userID string) ([]*models.OAuth2Credential, error)
}

// Refresher exchanges a refresh token at the provider. Implemented by
// oauth.Providers.
type Refresher interface {
	Refresh(ctx context.Context, provider, refreshToken string) (*oauth2.Token, error)
}

// AuditSink records credential lifecycle actions
type AuditSink interface {
	Append(ctx context.Context, record *models.AuditRecord) error
}

// Store owns encrypted credentials. Plaintext tokens exist only in memory,
// inside DecryptedCredential values, and never reach logs or storage.
type Store struct {
	repo      Repo
	refresher Refresher
	audit     AuditSink
	cipher    *crypto.Cipher
	log       *logger.Logger
}

// NewStore creates the credential store
func NewStore(repo Repo, refresher Refresher, audit AuditSink, cipher *crypto.Cipher, log *logger.Logger) *Store {
	return &Store{
		repo:      repo,
		refresher: refresher,
		audit:     audit,
		cipher:    cipher,
		log:       log,
	}
}

// StoreToken encrypts and persists an exchanged token set. It implements
// oauth.TokenSink; re-authorizing replaces the previous row and bumps the
// version counter.
func (s *Store) StoreToken(ctx context.Context, userID, provider string, tok *oauth2.Token, scopes []string) (*models.OAuth2Credential, error) {
	accessEnc, err := s.cipher.EncryptAccess(tok.AccessToken)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "encrypt access token")
	}

	var refreshEnc string
	if tok.RefreshToken != "" {
		refreshEnc, err = s.cipher.EncryptRefresh(tok.RefreshToken)
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, err, "encrypt refresh token")
		}
	}

	now := time.Now().UTC()
	cred := &models.OAuth2Credential{
		ID:              uuid.New(),
		UserID:          userID,
		Provider:        provider,
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		TokenType:       tokenType(tok),
		Scopes:          scopes,
		Valid:           true,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry.UTC()
		cred.ExpiresAt = &expiry
	}

	if err := s.repo.Upsert(ctx, cred); err != nil {
		s.record(ctx, userID, provider, models.AuditStore, "error")
		return nil, err
	}

	s.record(ctx, userID, provider, models.AuditStore, "success")
	s.log.Info("credential stored", "user_id", userID, "provider", provider)
	return cred, nil
}

// Get returns the decrypted credential, refreshing first when the access
// token is expired or about to expire.
func (s *Store) Get(ctx context.Context, userID, provider string) (*models.DecryptedCredential, error) {
	cred, err := s.repo.Get(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	if !cred.Valid {
		return nil, errs.New(errs.KindCredentialInvalid, "credential for %s is invalid; re-authorization required", provider)
	}

	if cred.Expired(time.Now()) {
		return s.Refresh(ctx, userID, provider, cred.Version)
	}

	if err := s.repo.TouchLastUsed(ctx, userID, provider); err != nil {
		s.log.Warn("failed to record credential use", "provider", provider, "error", err)
	}
	s.record(ctx, userID, provider, models.AuditUse, "success")

	return s.decrypt(cred)
}

// Refresh rotates the token under the database row lock. seenVersion is the
// version the caller last observed: if the committed row is already newer, a
// concurrent refresh won and its token is returned without touching the
// provider again.
func (s *Store) Refresh(ctx context.Context, userID, provider string, seenVersion int64) (*models.DecryptedCredential, error) {
	var provErr error

	updated, err := s.repo.WithRowLock(ctx, userID, provider, func(current *models.OAuth2Credential) (*models.OAuth2Credential, error) {
		if current.Version > seenVersion && current.Valid {
			return current, nil
		}
		if !current.Valid {
			// a previous refresh already invalidated the row; fail fast
			// instead of repeating the dead provider call
			return nil, errs.New(errs.KindCredentialInvalid, "credential for %s is invalid; re-authorization required", provider)
		}

		if current.RefreshTokenEnc == "" {
			return nil, errs.New(errs.KindCredentialInvalid, "credential for %s has no refresh token; re-authorization required", provider)
		}

		refreshToken, err := s.cipher.DecryptRefresh(current.RefreshTokenEnc)
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, err, "decrypt refresh token")
		}

		tok, err := s.refresher.Refresh(ctx, provider, refreshToken)
		if err != nil {
			// Commit valid=false so later calls fail fast instead of
			// retrying a dead refresh token.
			provErr = err
			clone := *current
			clone.Valid = false
			return &clone, nil
		}

		clone := *current
		clone.AccessTokenEnc, err = s.cipher.EncryptAccess(tok.AccessToken)
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, err, "encrypt rotated access token")
		}
		if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
			clone.RefreshTokenEnc, err = s.cipher.EncryptRefresh(tok.RefreshToken)
			if err != nil {
				return nil, errs.Wrap(errs.KindInternal, err, "encrypt rotated refresh token")
			}
		}
		clone.TokenType = tokenType(tok)
		clone.ExpiresAt = nil
		if !tok.Expiry.IsZero() {
			expiry := tok.Expiry.UTC()
			clone.ExpiresAt = &expiry
		}
		clone.Valid = true
		clone.Version = current.Version + 1
		return &clone, nil
	})
	if err != nil {
		s.record(ctx, userID, provider, models.AuditRefresh, "error")
		return nil, err
	}
	if provErr != nil {
		s.record(ctx, userID, provider, models.AuditRefresh, "error")
		return nil, errs.Wrap(errs.KindCredentialInvalid, provErr, "refresh with %s failed; re-authorization required", provider)
	}

	s.record(ctx, userID, provider, models.AuditRefresh, "success")
	s.log.Info("credential refreshed", "user_id", userID, "provider", provider, "version", updated.Version)
	return s.decrypt(updated)
}

// Revoke deletes a credential
func (s *Store) Revoke(ctx context.Context, userID, provider string) error {
	if err := s.repo.Delete(ctx, userID, provider); err != nil {
		return err
	}
	s.record(ctx, userID, provider, models.AuditRevoke, "success")
	s.log.Info("credential revoked", "user_id", userID, "provider", provider)
	return nil
}

// List returns all credentials of one user. The models suppress ciphertexts
// on serialization.
func (s *Store) List(ctx context.Context, userID string) ([]*models.OAuth2Credential, error) {
	return s.repo.ListByUser(ctx, userID)
}

func (s *Store) decrypt(cred *models.OAuth2Credential) (*models.DecryptedCredential, error) {
	accessToken, err := s.cipher.DecryptAccess(cred.AccessTokenEnc)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "decrypt access token")
	}

	var refreshToken string
	if cred.RefreshTokenEnc != "" {
		refreshToken, err = s.cipher.DecryptRefresh(cred.RefreshTokenEnc)
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, err, "decrypt refresh token")
		}
	}

	return &models.DecryptedCredential{
		UserID:       cred.UserID,
		Provider:     cred.Provider,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    cred.TokenType,
		ExpiresAt:    cred.ExpiresAt,
		Version:      cred.Version,
	}, nil
}

// record appends an audit row; audit failures are logged, never fatal
func (s *Store) record(ctx context.Context, userID, provider string, action models.AuditAction, outcome string) {
	err := s.audit.Append(ctx, &models.AuditRecord{
		ActorUserID: userID,
		Action:      action,
		Provider:    provider,
		Outcome:     outcome,
	})
	if err != nil {
		s.log.Warn("audit append failed", "action", action, "provider", provider, "error", err)
	}
}

func tokenType(tok *oauth2.Token) string {
	if tok.TokenType == "" {
		return "Bearer"
	}
	return tok.TokenType
}
