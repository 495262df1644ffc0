package container

import (
	"fmt"

	"github.com/lumenflow/orchestrator/cmd/engine/adapters"
	"github.com/lumenflow/orchestrator/cmd/engine/credential"
	"github.com/lumenflow/orchestrator/cmd/engine/events"
	"github.com/lumenflow/orchestrator/cmd/engine/executors"
	"github.com/lumenflow/orchestrator/cmd/engine/oauth"
	"github.com/lumenflow/orchestrator/cmd/engine/repository"
	"github.com/lumenflow/orchestrator/cmd/engine/sandbox"
	"github.com/lumenflow/orchestrator/cmd/engine/scheduler"
	"github.com/lumenflow/orchestrator/cmd/engine/service"
	"github.com/lumenflow/orchestrator/common/bootstrap"
	"github.com/lumenflow/orchestrator/common/crypto"
	"github.com/lumenflow/orchestrator/common/ratelimit"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	Components *bootstrap.Components

	// Repositories
	WorkflowRepo   *repository.WorkflowRepository
	ExecutionRepo  *repository.ExecutionRepository
	CredentialRepo *repository.CredentialRepository
	AuditRepo      *repository.AuditRepository

	// Core
	Sandbox         *sandbox.Sandbox
	Bus             *events.Bus
	Adapters        *adapters.Registry
	Providers       *oauth.Providers
	CredentialStore *credential.Store
	OAuthService    *oauth.Service
	Engine          *scheduler.Engine

	// Services
	WorkflowService  *service.WorkflowService
	ExecutionService *service.ExecutionService
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	cipher, err := crypto.NewCipher(cfg.Credential.EncryptionSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential cipher: %w", err)
	}

	sb, err := sandbox.New(log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize conversion sandbox: %w", err)
	}

	// Repositories
	workflowRepo := repository.NewWorkflowRepository(components.DB)
	executionRepo := repository.NewExecutionRepository(components.DB)
	credentialRepo := repository.NewCredentialRepository(components.DB)
	auditRepo := repository.NewAuditRepository(components.DB)

	// Credential & OAuth2 subsystem (bottom-up: dependencies first)
	providers := oauth.NewProviders(cfg.OAuth2)
	credentialStore := credential.NewStore(credentialRepo, providers, auditRepo, cipher, log)
	oauthService := oauth.NewService(
		providers,
		oauth.NewRedisStateStore(components.Redis),
		credentialStore,
		cfg.OAuth2.CallbackURL,
		cfg.OAuth2.StateTTL,
		log,
	)

	// Execution engine
	adapterRegistry := adapters.New(cfg.Adapters, log)
	memory := executors.NewRedisMemory(components.Redis)
	bus := events.NewBus(components.Redis, log)

	engine := scheduler.NewEngine(cfg.Engine, scheduler.Deps{
		Store:     executionRepo,
		Executors: executors.DefaultRegistry(memory, nil, log),
		Sandbox:   sb,
		Bus:       bus,
		Adapters:  adapterRegistry,
		Credentials: func(userID, provider string) adapters.CredentialHandle {
			return credentialStore.Handle(userID, provider)
		},
		Memory: memory,
		Logger: log,
	})

	// Services
	limiter := ratelimit.NewRateLimiter(components.Redis.GetUnderlying(), log)
	workflowService := service.NewWorkflowService(workflowRepo, sb, components.Cache, log)
	executionService := service.NewExecutionService(workflowRepo, executionRepo, engine, bus, limiter, log)

	return &Container{
		Components:       components,
		WorkflowRepo:     workflowRepo,
		ExecutionRepo:    executionRepo,
		CredentialRepo:   credentialRepo,
		AuditRepo:        auditRepo,
		Sandbox:          sb,
		Bus:              bus,
		Adapters:         adapterRegistry,
		Providers:        providers,
		CredentialStore:  credentialStore,
		OAuthService:     oauthService,
		Engine:           engine,
		WorkflowService:  workflowService,
		ExecutionService: executionService,
	}, nil
}
