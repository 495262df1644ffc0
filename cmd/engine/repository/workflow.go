package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lumenflow/orchestrator/common/db"
	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/models"
)

// WorkflowRepository handles database operations for workflow definitions.
// The graph is normalized: one row per node and per connection.
type WorkflowRepository struct {
	db *db.DB
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(database *db.DB) *WorkflowRepository {
	return &WorkflowRepository{db: database}
}

// Create inserts a workflow and its full graph in one transaction
func (r *WorkflowRepository) Create(ctx context.Context, wf *models.Workflow) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin workflow create: %w", err)
	}
	defer tx.Rollback(ctx)

	settings, err := marshalJSON(wf.Settings)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflows (id, owner_id, name, description, tags, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = tx.Exec(ctx, query,
		wf.ID, wf.OwnerID, wf.Name, wf.Description, wf.Tags, settings, wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	if err := insertGraph(ctx, tx, wf); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetByID loads a workflow with its nodes and connections
func (r *WorkflowRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	query := `
		SELECT id, owner_id, name, description, tags, settings, created_at, updated_at
		FROM workflows
		WHERE id = $1
	`

	wf := &models.Workflow{}
	var settings []byte
	err := r.db.QueryRow(ctx, query, id).Scan(
		&wf.ID, &wf.OwnerID, &wf.Name, &wf.Description, &wf.Tags, &settings, &wf.CreatedAt, &wf.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, "workflow %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &wf.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode workflow settings: %w", err)
		}
	}

	if wf.Nodes, err = r.loadNodes(ctx, id); err != nil {
		return nil, err
	}
	if wf.Connections, err = r.loadConnections(ctx, id); err != nil {
		return nil, err
	}

	return wf, nil
}

// Update replaces the workflow row and its graph in one transaction
func (r *WorkflowRepository) Update(ctx context.Context, wf *models.Workflow) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin workflow update: %w", err)
	}
	defer tx.Rollback(ctx)

	settings, err := marshalJSON(wf.Settings)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflows
		SET name = $2, description = $3, tags = $4, settings = $5, updated_at = $6
		WHERE id = $1
	`
	tag, err := tx.Exec(ctx, query, wf.ID, wf.Name, wf.Description, wf.Tags, settings, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.KindNotFound, "workflow %s not found", wf.ID)
	}

	// Replace the graph wholesale; partial edits are resolved by the service
	// layer before reaching here.
	if _, err := tx.Exec(ctx, `DELETE FROM workflow_nodes WHERE workflow_id = $1`, wf.ID); err != nil {
		return fmt.Errorf("failed to clear workflow nodes: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM node_connections WHERE workflow_id = $1`, wf.ID); err != nil {
		return fmt.Errorf("failed to clear node connections: %w", err)
	}
	if err := insertGraph(ctx, tx, wf); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Delete removes a workflow; nodes, connections, and executions cascade
func (r *WorkflowRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.KindNotFound, "workflow %s not found", id)
	}
	return nil
}

// ListByOwner retrieves workflow headers (no graph) for one owner
func (r *WorkflowRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*models.Workflow, error) {
	query := `
		SELECT id, owner_id, name, description, tags, created_at, updated_at
		FROM workflows
		WHERE owner_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		wf := &models.Workflow{}
		err := rows.Scan(&wf.ID, &wf.OwnerID, &wf.Name, &wf.Description, &wf.Tags, &wf.CreatedAt, &wf.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

func (r *WorkflowRepository) loadNodes(ctx context.Context, workflowID uuid.UUID) ([]models.Node, error) {
	rows, err := r.db.Query(ctx, `SELECT definition FROM workflow_nodes WHERE workflow_id = $1 ORDER BY node_id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow nodes: %w", err)
	}
	defer rows.Close()

	var nodes []models.Node
	for rows.Next() {
		var definition []byte
		if err := rows.Scan(&definition); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		var node models.Node
		if err := json.Unmarshal(definition, &node); err != nil {
			return nil, fmt.Errorf("failed to decode node: %w", err)
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

func (r *WorkflowRepository) loadConnections(ctx context.Context, workflowID uuid.UUID) ([]models.Connection, error) {
	query := `
		SELECT from_node, to_node, output_key, conversion_function
		FROM node_connections
		WHERE workflow_id = $1
		ORDER BY from_node, to_node, output_key
	`
	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load node connections: %w", err)
	}
	defer rows.Close()

	var connections []models.Connection
	for rows.Next() {
		var conn models.Connection
		if err := rows.Scan(&conn.FromNode, &conn.ToNode, &conn.OutputKey, &conn.ConversionFunction); err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		connections = append(connections, conn)
	}
	return connections, rows.Err()
}

func insertGraph(ctx context.Context, tx pgx.Tx, wf *models.Workflow) error {
	for i := range wf.Nodes {
		definition, err := marshalJSON(&wf.Nodes[i])
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO workflow_nodes (workflow_id, node_id, definition) VALUES ($1, $2, $3)`,
			wf.ID, wf.Nodes[i].ID, definition,
		)
		if err != nil {
			return fmt.Errorf("failed to insert node %s: %w", wf.Nodes[i].ID, err)
		}
	}

	for _, conn := range wf.Connections {
		_, err := tx.Exec(ctx,
			`INSERT INTO node_connections (workflow_id, from_node, to_node, output_key, conversion_function)
			 VALUES ($1, $2, $3, $4, $5)`,
			wf.ID, conn.FromNode, conn.ToNode, conn.Key(), conn.ConversionFunction,
		)
		if err != nil {
			return fmt.Errorf("failed to insert connection %s->%s: %w", conn.FromNode, conn.ToNode, err)
		}
	}

	return nil
}

// marshalJSON encodes a value for a JSONB column; nil stays NULL
func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json column: %w", err)
	}
	return raw, nil
}
