package adapters

import (
	"github.com/lumenflow/orchestrator/common/config"
	"github.com/lumenflow/orchestrator/common/logger"
)

// New builds the shared HTTP client and the default adapter registry. The
// registry is a process-wide singleton; adapters share one limiter and one
// retry policy.
func New(cfg config.AdapterConfig, log *logger.Logger) *Registry {
	limiter := NewLimiter(cfg.PerUserConcurrency, cfg.PerUserWaitQueueLength)
	client := newHTTPXClient(cfg, log, limiter)

	return NewRegistry(
		NewHTTPAdapter(client, log),
		NewCalendarAdapter(client, log),
		NewGitHubAdapter(client, log),
		NewSlackAdapter(client, log),
	)
}
