package gpkg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// EditState tracks a layer through one edit session.
//
//	Unopened -> Editing -> Committed | RolledBack
//
// A committed or rolled back layer may start a new session.
type EditState int

const (
	StateUnopened EditState = iota
	StateEditing
	StateCommitted
	StateRolledBack
)

func (s EditState) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateEditing:
		return "editing"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("EditState(%d)", int(s))
	}
}

// Feature is one row of a layer. Values are aligned with Layer.Fields at
// the time the feature was read; a nil value is SQL NULL.
type Feature struct {
	FID    int64
	Values []any
}

// Value returns the attribute at idx, or nil when idx is out of range.
func (f *Feature) Value(idx int) any {
	if idx < 0 || idx >= len(f.Values) {
		return nil
	}
	return f.Values[idx]
}

// Layer is a vector layer of an open DataSource.
type Layer struct {
	ds         *DataSource
	info       LayerInfo
	fidColumn  string
	geomColumn string
	fields     []Field
	logger     *zap.Logger
	commitLog  *zap.Logger

	state EditState
	edit  *editBuffer
}

func loadLayer(ds *DataSource, info LayerInfo) (*Layer, error) {
	l := &Layer{
		ds:        ds,
		info:      info,
		logger:    ds.logger.With(zap.String("layer", info.Name)),
		commitLog: ds.commitLog.With(zap.String("layer", info.Name)),
	}

	geom, err := l.lookupGeometryColumn()
	if err != nil {
		return nil, err
	}
	l.geomColumn = geom

	rows, err := ds.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(info.Name)))
	if err != nil {
		return nil, fmt.Errorf("read schema of %q: %w", info.Name, err)
	}
	defer rows.Close()

	columns := 0
	for rows.Next() {
		var (
			cid      int
			name     string
			declared string
			notNull  int
			dflt     any
			pk       int
		)
		if err := rows.Scan(&cid, &name, &declared, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan schema of %q: %w", info.Name, err)
		}
		columns++

		switch {
		case pk == 1 && strings.EqualFold(strings.TrimSpace(declared), "INTEGER") && l.fidColumn == "":
			l.fidColumn = name
		case l.geomColumn != "" && strings.EqualFold(name, l.geomColumn):
		default:
			l.fields = append(l.fields, NewField(name, declared))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read schema of %q: %w", info.Name, err)
	}
	if columns == 0 {
		return nil, fmt.Errorf("table %q does not exist", info.Name)
	}
	if l.fidColumn == "" {
		l.logger.Warn("layer has no INTEGER PRIMARY KEY, using rowid as feature id")
		l.fidColumn = "rowid"
	}

	l.logger.Debug("layer schema loaded",
		zap.String("fid_column", l.fidColumn),
		zap.String("geometry_column", l.geomColumn),
		zap.Int("fields", len(l.fields)))
	return l, nil
}

func (l *Layer) lookupGeometryColumn() (string, error) {
	ok, err := l.ds.hasTable("gpkg_geometry_columns")
	if err != nil || !ok {
		return "", err
	}
	var column string
	err = l.ds.db.QueryRow(
		`SELECT column_name FROM gpkg_geometry_columns WHERE table_name = ?`, l.info.Name,
	).Scan(&column)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read gpkg_geometry_columns: %w", err)
	}
	return column, nil
}

// Name returns the layer's table name.
func (l *Layer) Name() string { return l.info.Name }

// DataSource returns the data source the layer was opened from.
func (l *Layer) DataSource() *DataSource { return l.ds }

// Info returns the gpkg_contents entry of the layer.
func (l *Layer) Info() LayerInfo { return l.info }

// FIDColumn returns the feature id column.
func (l *Layer) FIDColumn() string { return l.fidColumn }

// GeometryColumn returns the geometry column, or "" for attribute tables.
func (l *Layer) GeometryColumn() string { return l.geomColumn }

// State returns the edit session state.
func (l *Layer) State() EditState { return l.state }

// IsEditing reports whether an edit session is open.
func (l *Layer) IsEditing() bool { return l.state == StateEditing }

// Fields returns the pending schema: committed fields followed by fields
// added in the current edit session.
func (l *Layer) Fields() []Field {
	out := make([]Field, 0, len(l.fields)+l.edit.addedCount())
	out = append(out, l.fields...)
	if l.edit != nil {
		out = append(out, l.edit.added...)
	}
	return out
}

// FieldNames returns the names of Fields in order.
func (l *Layer) FieldNames() []string {
	fields := l.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// FieldIndex returns the index of the named field in the pending schema,
// or -1 if there is none.
func (l *Layer) FieldIndex(name string) int {
	for i, f := range l.Fields() {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// FeatureCount returns the number of rows in the layer.
func (l *Layer) FeatureCount(ctx context.Context) (int64, error) {
	var n int64
	err := l.ds.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(l.info.Name)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count features of %q: %w", l.info.Name, err)
	}
	return n, nil
}

// ForEachFeature calls fn for every feature in feature id order. Values
// staged in the current edit session replace the stored ones, and fields
// added in the session start out NULL. fn must not issue queries against
// the data source; it runs while the row cursor is open.
func (l *Layer) ForEachFeature(ctx context.Context, fn func(*Feature) error) error {
	cols := make([]string, 0, len(l.fields)+1)
	cols = append(cols, quoteIdent(l.fidColumn))
	for _, f := range l.fields {
		cols = append(cols, quoteIdent(f.Name))
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(cols, ", "), quoteIdent(l.info.Name), quoteIdent(l.fidColumn))

	rows, err := l.ds.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("read features of %q: %w", l.info.Name, err)
	}
	defer rows.Close()

	width := len(l.fields) + l.edit.addedCount()
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}

		var fid int64
		stored := make([]any, len(l.fields))
		dest := make([]any, len(stored)+1)
		dest[0] = &fid
		for i := range stored {
			dest[i+1] = &stored[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("scan feature of %q: %w", l.info.Name, err)
		}

		values := make([]any, width)
		copy(values, stored)
		l.edit.overlay(fid, values)

		if err := fn(&Feature{FID: fid, Values: values}); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read features of %q: %w", l.info.Name, err)
	}
	return nil
}
