package service

import (
	"context"
	"encoding/json"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/lumenflow/orchestrator/cmd/engine/repository"
	"github.com/lumenflow/orchestrator/cmd/engine/sandbox"
	"github.com/lumenflow/orchestrator/cmd/engine/scheduler"
	"github.com/lumenflow/orchestrator/common/cache"
	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/logger"
	"github.com/lumenflow/orchestrator/common/models"
)

// workflowCacheTTL bounds how stale a cached definition can get when another
// replica updates it.
const workflowCacheTTL = 30 * time.Second

// WorkflowService owns workflow definitions: CRUD, validation, and partial
// updates via JSON merge patch.
type WorkflowService struct {
	repo    *repository.WorkflowRepository
	sandbox *sandbox.Sandbox
	cache   cache.Cache
	log     *logger.Logger
}

// NewWorkflowService creates the workflow service. The cache is optional and
// only serves reads; writes go straight to the repository.
func NewWorkflowService(repo *repository.WorkflowRepository, sb *sandbox.Sandbox, c cache.Cache, log *logger.Logger) *WorkflowService {
	return &WorkflowService{repo: repo, sandbox: sb, cache: c, log: log}
}

// Create validates and persists a new workflow
func (s *WorkflowService) Create(ctx context.Context, wf *models.Workflow) (*models.Workflow, error) {
	if wf.Name == "" {
		return nil, errs.New(errs.KindInvalidInput, "workflow name is required")
	}
	if wf.OwnerID == "" {
		return nil, errs.New(errs.KindInvalidInput, "workflow owner is required")
	}
	if err := s.validate(wf); err != nil {
		return nil, err
	}

	wf.ID = uuid.New()
	now := time.Now().UTC()
	wf.CreatedAt = now
	wf.UpdatedAt = now

	if err := s.repo.Create(ctx, wf); err != nil {
		return nil, err
	}

	s.log.Info("workflow created", "workflow_id", wf.ID, "owner_id", wf.OwnerID, "nodes", len(wf.Nodes))
	return wf, nil
}

// Get loads a workflow with its full graph. Only the owner may read it.
func (s *WorkflowService) Get(ctx context.Context, userID string, id uuid.UUID) (*models.Workflow, error) {
	wf, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeOwner(wf.OwnerID, userID); err != nil {
		return nil, err
	}
	return wf, nil
}

// load fetches a definition through the read cache
func (s *WorkflowService) load(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, workflowCacheKey(id)); err == nil && ok {
			var wf models.Workflow
			if err := json.Unmarshal(raw, &wf); err == nil {
				return &wf, nil
			}
		}
	}

	wf, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(wf); err == nil {
			_ = s.cache.Set(ctx, workflowCacheKey(id), raw, workflowCacheTTL)
		}
	}
	return wf, nil
}

// Update replaces a workflow definition after validation. Identity fields
// are taken from the stored row, not the payload.
func (s *WorkflowService) Update(ctx context.Context, userID string, id uuid.UUID, wf *models.Workflow) (*models.Workflow, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeOwner(existing.OwnerID, userID); err != nil {
		return nil, err
	}

	wf.ID = existing.ID
	wf.OwnerID = existing.OwnerID
	wf.CreatedAt = existing.CreatedAt
	wf.UpdatedAt = time.Now().UTC()
	if wf.Name == "" {
		wf.Name = existing.Name
	}

	if err := s.validate(wf); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, wf); err != nil {
		return nil, err
	}
	s.invalidate(ctx, wf.ID)

	s.log.Info("workflow updated", "workflow_id", wf.ID, "nodes", len(wf.Nodes))
	return wf, nil
}

// Patch applies an RFC 7386 merge patch to the stored definition and
// re-validates the result before saving.
func (s *WorkflowService) Patch(ctx context.Context, userID string, id uuid.UUID, patch []byte) (*models.Workflow, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeOwner(existing.OwnerID, userID); err != nil {
		return nil, err
	}

	original, err := json.Marshal(existing)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "failed to serialize workflow")
	}

	merged, err := jsonpatch.MergePatch(original, patch)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, err, "merge patch is invalid")
	}

	var patched models.Workflow
	if err := json.Unmarshal(merged, &patched); err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, err, "patched workflow does not parse")
	}

	return s.Update(ctx, userID, id, &patched)
}

// Delete removes a workflow and its graph
func (s *WorkflowService) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := authorizeOwner(existing.OwnerID, userID); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	s.log.Info("workflow deleted", "workflow_id", id)
	return nil
}

func (s *WorkflowService) invalidate(ctx context.Context, id uuid.UUID) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, workflowCacheKey(id))
	}
}

func workflowCacheKey(id uuid.UUID) string {
	return "workflow:" + id.String()
}

// authorizeOwner guards resource access: only the owner of a workflow may
// touch it or its executions.
func authorizeOwner(ownerID, userID string) error {
	if ownerID != userID {
		return errs.New(errs.KindUnauthorized, "resource belongs to another user")
	}
	return nil
}

// List returns workflow headers for an owner
func (s *WorkflowService) List(ctx context.Context, ownerID string, limit, offset int) ([]*models.Workflow, error) {
	return s.repo.ListByOwner(ctx, ownerID, limit, offset)
}

// validate checks graph shape plus the constraints the graph builder does
// not cover: attached node references and conversion functions.
func (s *WorkflowService) validate(wf *models.Workflow) error {
	if len(wf.Nodes) == 0 {
		return errs.New(errs.KindInvalidWorkflow, "workflow has no nodes")
	}

	if _, err := scheduler.BuildGraph(wf); err != nil {
		return err
	}

	for i := range wf.Nodes {
		node := &wf.Nodes[i]
		for _, attachedID := range node.AttachedNodes {
			attached := wf.NodeByID(attachedID)
			if attached == nil {
				return errs.New(errs.KindInvalidWorkflow, "node %s attaches missing node %q", node.ID, attachedID)
			}
			if attached.Kind != models.KindTool && attached.Kind != models.KindMemory {
				return errs.New(errs.KindInvalidWorkflow, "node %s attaches %s of kind %s, want tool or memory", node.ID, attachedID, attached.Kind)
			}
		}
	}

	for _, conn := range wf.Connections {
		if err := s.sandbox.Check(conn.ConversionFunction); err != nil {
			return errs.Wrap(errs.KindInvalidWorkflow, err, "conversion function on %s->%s does not compile", conn.FromNode, conn.ToNode)
		}
	}

	return nil
}
