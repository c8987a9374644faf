package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// SetLockTimeout bounds how long statements in tx wait for row locks.
// A zero or negative timeout leaves the server default in place.
func SetLockTimeout(ctx context.Context, tx pgx.Tx, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	// SET does not accept bind parameters
	stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeout.Milliseconds())
	if _, err := tx.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to set lock timeout: %w", err)
	}
	return nil
}
