package credential

import (
	"context"
	"sync"

	"github.com/lumenflow/orchestrator/common/models"
)

// Handle is a per-(user, provider) credential lease handed to adapters. It
// tracks the version it last saw so a refresh after a concurrent rotation
// reuses the already-rotated token instead of burning another provider call.
type Handle struct {
	store    *Store
	userID   string
	provider string

	mu          sync.Mutex
	seenVersion int64
}

// Handle creates a credential handle for one adapter call
func (s *Store) Handle(userID, provider string) *Handle {
	return &Handle{store: s, userID: userID, provider: provider}
}

// Get resolves the credential, refreshing if expired
func (h *Handle) Get(ctx context.Context) (*models.DecryptedCredential, error) {
	cred, err := h.store.Get(ctx, h.userID, h.provider)
	if err != nil {
		return nil, err
	}
	h.remember(cred.Version)
	return cred, nil
}

// Refresh forces a rotation relative to the version this handle last saw
func (h *Handle) Refresh(ctx context.Context) (*models.DecryptedCredential, error) {
	h.mu.Lock()
	seen := h.seenVersion
	h.mu.Unlock()

	cred, err := h.store.Refresh(ctx, h.userID, h.provider, seen)
	if err != nil {
		return nil, err
	}
	h.remember(cred.Version)
	return cred, nil
}

func (h *Handle) remember(version int64) {
	h.mu.Lock()
	if version > h.seenVersion {
		h.seenVersion = version
	}
	h.mu.Unlock()
}
