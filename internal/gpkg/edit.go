package gpkg

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// editBuffer holds the uncommitted changes of an edit session.
type editBuffer struct {
	added []Field
	// changed maps field index -> feature id -> staged value.
	changed map[int]map[int64]any
}

func newEditBuffer() *editBuffer {
	return &editBuffer{changed: make(map[int]map[int64]any)}
}

func (b *editBuffer) addedCount() int {
	if b == nil {
		return 0
	}
	return len(b.added)
}

func (b *editBuffer) overlay(fid int64, values []any) {
	if b == nil {
		return
	}
	for idx, byFID := range b.changed {
		if v, ok := byFID[fid]; ok && idx < len(values) {
			values[idx] = v
		}
	}
}

func (b *editBuffer) changeCount() int {
	n := 0
	for _, byFID := range b.changed {
		n += len(byFID)
	}
	return n
}

// StartEditing opens an edit session. Nothing is written to the file until
// CommitChanges.
func (l *Layer) StartEditing() error {
	if l.state == StateEditing {
		return ErrAlreadyEditing
	}
	l.edit = newEditBuffer()
	l.state = StateEditing
	l.commitLog.Debug("edit session started")
	return nil
}

// AddField appends f to the pending schema and returns its index.
func (l *Layer) AddField(f Field) (int, error) {
	if l.state != StateEditing {
		return -1, ErrNotEditing
	}
	if l.FieldIndex(f.Name) >= 0 {
		return -1, fmt.Errorf("%w: %q", ErrFieldExists, f.Name)
	}
	l.edit.added = append(l.edit.added, f)
	l.commitLog.Debug("field staged", zap.String("field", f.Name), zap.String("type", f.Declared))
	return l.FieldIndex(f.Name), nil
}

// ChangeAttributeValue stages value for field idx of feature fid. A nil
// value writes NULL.
func (l *Layer) ChangeAttributeValue(fid int64, idx int, value any) error {
	if l.state != StateEditing {
		return ErrNotEditing
	}
	if idx < 0 || idx >= len(l.fields)+len(l.edit.added) {
		return fmt.Errorf("field index %d out of range", idx)
	}
	byFID, ok := l.edit.changed[idx]
	if !ok {
		byFID = make(map[int64]any)
		l.edit.changed[idx] = byFID
	}
	byFID[fid] = value
	return nil
}

// PendingChanges returns the number of staged attribute writes.
func (l *Layer) PendingChanges() int {
	if l.edit == nil {
		return 0
	}
	return l.edit.changeCount()
}

// RollBack discards every change of the current edit session.
func (l *Layer) RollBack() error {
	if l.state != StateEditing {
		return ErrNotEditing
	}
	l.commitLog.Debug("edit session rolled back",
		zap.Int("fields", len(l.edit.added)),
		zap.Int("values", l.edit.changeCount()))
	l.edit = nil
	l.state = StateRolledBack
	return nil
}

// CommitChanges writes the session's added fields and staged values in a
// single transaction. On failure the transaction is rolled back, the
// session ends in StateRolledBack and a *CommitError lists every error the
// storage layer reported.
func (l *Layer) CommitChanges(ctx context.Context) error {
	if l.state != StateEditing {
		return ErrNotEditing
	}
	edit := l.edit

	if errs := l.apply(ctx, edit); len(errs) > 0 {
		l.edit = nil
		l.state = StateRolledBack
		l.commitLog.Warn("commit rejected, changes rolled back", zap.Errors("errors", errs))
		return &CommitError{Layer: l.info.Name, errs: errs}
	}

	l.fields = append(l.fields, edit.added...)
	l.edit = nil
	l.state = StateCommitted
	l.commitLog.Debug("edit session committed",
		zap.Int("fields", len(edit.added)),
		zap.Int("values", edit.changeCount()))
	return nil
}

func (l *Layer) apply(ctx context.Context, edit *editBuffer) []error {
	if len(edit.added) == 0 && edit.changeCount() == 0 {
		return nil
	}

	tx, err := l.ds.db.BeginTx(ctx, nil)
	if err != nil {
		return []error{fmt.Errorf("begin transaction: %w", err)}
	}

	var errs error
	table := quoteIdent(l.info.Name)
	for _, f := range edit.added {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, f.columnDefinition())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("add field %q: %w", f.Name, err))
		}
	}
	if errs == nil {
		errs = l.writeValues(ctx, tx, edit)
	}
	if errs == nil {
		_, err := tx.ExecContext(ctx,
			`UPDATE gpkg_contents SET last_change = strftime('%Y-%m-%dT%H:%M:%fZ', 'now') WHERE table_name = ?`,
			l.info.Name)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("update gpkg_contents: %w", err))
		}
	}

	if errs != nil {
		if err := tx.Rollback(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("rollback: %w", err))
		}
		return multierr.Errors(errs)
	}
	if err := tx.Commit(); err != nil {
		return []error{fmt.Errorf("commit transaction: %w", err)}
	}
	return nil
}

// writeValues issues one prepared UPDATE per changed field. A failing field
// stops at its first error; the other fields are still attempted so every
// rejected column is reported.
func (l *Layer) writeValues(ctx context.Context, tx *sql.Tx, edit *editBuffer) error {
	fields := l.Fields()
	var errs error
	for _, idx := range slices.Sorted(maps.Keys(edit.changed)) {
		name := fields[idx].Name
		query := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?",
			quoteIdent(l.info.Name), quoteIdent(name), quoteIdent(l.fidColumn))
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("prepare update of %q: %w", name, err))
			continue
		}

		byFID := edit.changed[idx]
		for _, fid := range slices.Sorted(maps.Keys(byFID)) {
			if _, err := stmt.ExecContext(ctx, byFID[fid], fid); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("feature %d, field %q: %w", fid, name, err))
				break
			}
		}
		stmt.Close()
	}
	return errs
}
