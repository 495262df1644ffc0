package models

import (
	"time"

	"github.com/google/uuid"
)

// OAuth2Credential is the persisted, encrypted credential row. Exactly one
// active row exists per (user, provider, integration).
type OAuth2Credential struct {
	ID            uuid.UUID `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	Provider      string    `db:"provider" json:"provider"`
	IntegrationID string    `db:"integration_id" json:"integration_id,omitempty"`

	// TeamID is reserved for future team-level sharing; always empty today
	TeamID string `db:"team_id" json:"-"`

	// Ciphertexts; plaintext tokens never persist
	AccessTokenEnc  string `db:"access_token_enc" json:"-"`
	RefreshTokenEnc string `db:"refresh_token_enc" json:"-"`

	TokenType string     `db:"token_type" json:"token_type,omitempty"`
	ExpiresAt *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	Scopes    []string   `db:"scopes" json:"scopes,omitempty"`
	Valid     bool       `db:"valid" json:"valid"`

	// Version increments on every token rotation; refreshers compare it to
	// detect that a concurrent refresh already rotated the token.
	Version int64 `db:"version" json:"-"`

	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
}

// Expired reports whether the access token is past its expiry (with slack)
func (c *OAuth2Credential) Expired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return now.After(c.ExpiresAt.Add(-30 * time.Second))
}

// DecryptedCredential is the in-memory plaintext view handed to adapters.
// It must never be persisted or logged.
type DecryptedCredential struct {
	UserID       string
	Provider     string
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    *time.Time
	Version      int64
}

// OAuth2StateRecord is the short-lived CSRF record behind a state token
type OAuth2StateRecord struct {
	UserID          string    `json:"user_id"`
	Provider        string    `json:"provider"`
	RequestedScopes []string  `json:"requested_scopes,omitempty"`
	RedirectURI     string    `json:"redirect_uri"`
	CreatedAt       time.Time `json:"created_at"`
}

// AuditAction enumerates credential lifecycle actions
type AuditAction string

const (
	AuditStore   AuditAction = "store"
	AuditRefresh AuditAction = "refresh"
	AuditUse     AuditAction = "use"
	AuditRevoke  AuditAction = "revoke"
)

// AuditRecord logs a credential action. Tokens never appear here, only
// reference ids.
type AuditRecord struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	ActorUserID   string      `db:"actor_user_id" json:"actor_user_id"`
	Action        AuditAction `db:"action" json:"action"`
	Provider      string      `db:"provider" json:"provider"`
	Outcome       string      `db:"outcome" json:"outcome"`
	CorrelationID string      `db:"correlation_id" json:"correlation_id"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
}
