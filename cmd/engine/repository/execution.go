package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lumenflow/orchestrator/common/db"
	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/models"
)

// ExecutionRepository handles database operations for workflow executions
// and their per-node rows.
type ExecutionRepository struct {
	db *db.DB
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(database *db.DB) *ExecutionRepository {
	return &ExecutionRepository{db: database}
}

// Create inserts a new execution row
func (r *ExecutionRepository) Create(ctx context.Context, exec *models.Execution) error {
	inputs, err := marshalJSON(exec.Inputs)
	if err != nil {
		return err
	}
	metadata, err := marshalJSON(exec.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_executions
			(id, workflow_id, status, mode, triggered_by, start_from_node, skip_trigger_validation, inputs, metadata, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.Exec(ctx, query,
		exec.ID, exec.WorkflowID, exec.Status, exec.Mode,
		exec.TriggeredBy, exec.StartFromNode, exec.SkipTriggerValidation,
		inputs, metadata, exec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// GetByID retrieves an execution by its ID
func (r *ExecutionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	query := `
		SELECT id, workflow_id, status, mode, triggered_by, start_from_node, skip_trigger_validation,
		       inputs, run_data, errors, metadata, started_at, ended_at
		FROM workflow_executions
		WHERE id = $1
	`

	exec := &models.Execution{}
	var inputs, runData, nodeErrors, metadata []byte
	err := r.db.QueryRow(ctx, query, id).Scan(
		&exec.ID, &exec.WorkflowID, &exec.Status, &exec.Mode,
		&exec.TriggeredBy, &exec.StartFromNode, &exec.SkipTriggerValidation,
		&inputs, &runData, &nodeErrors, &metadata, &exec.StartedAt, &exec.EndedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, "execution %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	if err := unmarshalJSON(inputs, &exec.Inputs); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(runData, &exec.RunData); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(nodeErrors, &exec.Errors); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata, &exec.Metadata); err != nil {
		return nil, err
	}

	return exec, nil
}

// UpdateState persists the status, accumulated run data, errors, and end
// time of an execution.
func (r *ExecutionRepository) UpdateState(ctx context.Context, exec *models.Execution) error {
	runData, err := marshalJSON(exec.RunData)
	if err != nil {
		return err
	}
	nodeErrors, err := marshalJSON(exec.Errors)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_executions
		SET status = $2, run_data = $3, errors = $4, started_at = $5, ended_at = $6
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, exec.ID, exec.Status, runData, nodeErrors, exec.StartedAt, exec.EndedAt)
	if err != nil {
		return fmt.Errorf("failed to update execution state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.KindNotFound, "execution %s not found", exec.ID)
	}
	return nil
}

// ListByWorkflow retrieves executions for a workflow, most recent first
func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID uuid.UUID, limit, offset int) ([]*models.Execution, error) {
	query := `
		SELECT id, workflow_id, status, mode, triggered_by, start_from_node, skip_trigger_validation,
		       errors, started_at, ended_at
		FROM workflow_executions
		WHERE workflow_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, workflowID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var execs []*models.Execution
	for rows.Next() {
		exec := &models.Execution{}
		var nodeErrors []byte
		err := rows.Scan(
			&exec.ID, &exec.WorkflowID, &exec.Status, &exec.Mode,
			&exec.TriggeredBy, &exec.StartFromNode, &exec.SkipTriggerValidation,
			&nodeErrors, &exec.StartedAt, &exec.EndedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		if err := unmarshalJSON(nodeErrors, &exec.Errors); err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return execs, nil
}

// UpsertNode writes one node execution row. Retries reuse the row: the
// attempt counter moves forward, the input snapshot stays as written first.
func (r *ExecutionRepository) UpsertNode(ctx context.Context, ne *models.NodeExecution) error {
	input, err := marshalJSON(ne.Input)
	if err != nil {
		return err
	}
	output, err := marshalJSON(ne.Output)
	if err != nil {
		return err
	}
	nodeErr, err := marshalJSON(ne.Error)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO node_executions (execution_id, node_id, status, attempt, input, output, error, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (execution_id, node_id) DO UPDATE
		SET status = EXCLUDED.status,
		    attempt = EXCLUDED.attempt,
		    output = EXCLUDED.output,
		    error = EXCLUDED.error,
		    ended_at = EXCLUDED.ended_at
	`
	_, err = r.db.Exec(ctx, query,
		ne.ExecutionID, ne.NodeID, ne.Status, ne.Attempt,
		input, output, nodeErr, ne.StartedAt, ne.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert node execution: %w", err)
	}
	return nil
}

// ListNodes retrieves all node execution rows of one execution
func (r *ExecutionRepository) ListNodes(ctx context.Context, executionID uuid.UUID) ([]*models.NodeExecution, error) {
	query := `
		SELECT execution_id, node_id, status, attempt, input, output, error, started_at, ended_at
		FROM node_executions
		WHERE execution_id = $1
		ORDER BY started_at NULLS LAST, node_id
	`

	rows, err := r.db.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node executions: %w", err)
	}
	defer rows.Close()

	var nodes []*models.NodeExecution
	for rows.Next() {
		ne := &models.NodeExecution{}
		var input, output, nodeErr []byte
		err := rows.Scan(
			&ne.ExecutionID, &ne.NodeID, &ne.Status, &ne.Attempt,
			&input, &output, &nodeErr, &ne.StartedAt, &ne.EndedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node execution: %w", err)
		}
		if err := unmarshalJSON(input, &ne.Input); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(output, &ne.Output); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(nodeErr, &ne.Error); err != nil {
			return nil, err
		}
		nodes = append(nodes, ne)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node executions: %w", err)
	}

	return nodes, nil
}

// unmarshalJSON decodes a nullable JSONB column
func unmarshalJSON(raw []byte, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	return nil
}
