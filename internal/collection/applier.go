package collection

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Update replaces a note's full field string and bumps its modification
// timestamp.
type Update struct {
	NoteID int64
	Fields string
	Mod    int64
}

// ApplyUpdates writes all updates inside a single transaction. An empty
// update set performs no write at all.
func ApplyUpdates(ctx context.Context, db *sqlx.DB, updates []Update) error {
	if len(updates) == 0 {
		return nil
	}

	return RunInTx(ctx, db, func(ctx context.Context, tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, "UPDATE notes SET flds = ?, mod = ? WHERE id = ?")
		if err != nil {
			return fmt.Errorf("tx.PreparexContext(update notes) > %w", err)
		}
		defer func() {
			_ = stmt.Close()
		}()

		for _, update := range updates {
			if _, err := stmt.ExecContext(ctx, update.Fields, update.Mod, update.NoteID); err != nil {
				return fmt.Errorf("stmt.ExecContext(note %d) > %w", update.NoteID, err)
			}
		}
		return nil
	})
}
