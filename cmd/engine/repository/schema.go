package repository

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/lumenflow/orchestrator/common/db"
)

//go:embed schema.sql
var schemaSQL string

// ApplySchema creates the tables and indexes if they do not exist yet. The
// DDL is idempotent, so running it on every startup is safe.
func ApplySchema(database *db.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := database.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
