package parity

import (
	"fmt"

	"gpkgparity/internal/gpkg"
)

// FieldSpec names and sizes parity fields.
type FieldSpec struct {
	Prefix string
	Length int
}

// DefaultFieldSpec gives "parity-<field>" text fields of length 10.
var DefaultFieldSpec = FieldSpec{Prefix: "parity-", Length: 10}

// Name returns the parity field name for a source field.
func (s FieldSpec) Name(field string) string {
	return s.Prefix + field
}

// Ensure returns the index of the parity field for field, adding it to
// the layer's pending schema when absent. created reports whether it was
// added. An existing field is reused as is, whatever its type or length.
// The layer must be in an edit session.
func (s FieldSpec) Ensure(layer *gpkg.Layer, field string) (idx int, created bool, err error) {
	if !layer.IsEditing() {
		return -1, false, gpkg.ErrNotEditing
	}
	name := s.Name(field)
	if idx := layer.FieldIndex(name); idx >= 0 {
		return idx, false, nil
	}

	if _, err := layer.AddField(gpkg.StringField(name, s.Length)); err != nil {
		return -1, false, fmt.Errorf("add parity field %q: %w", name, err)
	}
	idx = layer.FieldIndex(name)
	if idx < 0 {
		return -1, false, fmt.Errorf("parity field %q missing after add", name)
	}
	return idx, true, nil
}

// EnsureParityField ensures the "parity-<field>" field with DefaultFieldSpec.
func EnsureParityField(layer *gpkg.Layer, field string) (int, bool, error) {
	return DefaultFieldSpec.Ensure(layer, field)
}
