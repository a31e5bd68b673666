package gpkg

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldType is the logical type of an attribute column, derived from the
// column's declared SQL type the way OGR reads GeoPackage schemas.
type FieldType int

const (
	TypeUnknown FieldType = iota
	TypeBool
	TypeInt16
	TypeInt32
	TypeInt64
	TypeUInt32
	TypeUInt64
	TypeReal
	TypeString
	TypeBlob
	TypeDate
	TypeDateTime
)

var fieldTypeNames = map[FieldType]string{
	TypeUnknown:  "unknown",
	TypeBool:     "bool",
	TypeInt16:    "int16",
	TypeInt32:    "int32",
	TypeInt64:    "int64",
	TypeUInt32:   "uint32",
	TypeUInt64:   "uint64",
	TypeReal:     "real",
	TypeString:   "string",
	TypeBlob:     "blob",
	TypeDate:     "date",
	TypeDateTime: "datetime",
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// IsInteger reports whether values of this type are whole numbers.
// Booleans are stored as integers but are not part of the family.
func (t FieldType) IsInteger() bool {
	switch t {
	case TypeInt16, TypeInt32, TypeInt64, TypeUInt32, TypeUInt64:
		return true
	default:
		return false
	}
}

// ParseFieldType maps a declared column type such as "MEDIUMINT" or
// "TEXT(10)" to its FieldType and optional length.
func ParseFieldType(declared string) (FieldType, int) {
	decl := strings.ToUpper(strings.TrimSpace(declared))
	length := 0
	if open := strings.IndexByte(decl, '('); open >= 0 {
		if end := strings.IndexByte(decl[open:], ')'); end > 0 {
			if n, err := strconv.Atoi(strings.TrimSpace(decl[open+1 : open+end])); err == nil {
				length = n
			}
		}
		decl = strings.TrimSpace(decl[:open])
	}

	unsigned := false
	if strings.Contains(decl, "UNSIGNED") {
		unsigned = true
		decl = strings.Join(strings.Fields(strings.ReplaceAll(decl, "UNSIGNED", "")), " ")
	}

	switch decl {
	case "BOOLEAN", "BOOL":
		return TypeBool, 0
	case "TINYINT", "SMALLINT", "INT2":
		if unsigned {
			return TypeUInt32, 0
		}
		return TypeInt16, 0
	case "MEDIUMINT", "INT", "INT4":
		if unsigned {
			return TypeUInt32, 0
		}
		return TypeInt32, 0
	case "INTEGER", "BIGINT", "INT8":
		if unsigned {
			return TypeUInt64, 0
		}
		return TypeInt64, 0
	case "FLOAT", "DOUBLE", "REAL", "NUMERIC", "DECIMAL":
		return TypeReal, 0
	case "TEXT", "VARCHAR", "CHAR", "CLOB":
		return TypeString, length
	case "BLOB":
		return TypeBlob, length
	case "DATE":
		return TypeDate, 0
	case "DATETIME", "TIMESTAMP":
		return TypeDateTime, 0
	default:
		return TypeUnknown, 0
	}
}

// Field is one attribute column of a layer.
type Field struct {
	Name     string
	Declared string
	Type     FieldType
	Length   int
}

// NewField builds a field from its declared SQL type.
func NewField(name, declared string) Field {
	t, length := ParseFieldType(declared)
	return Field{Name: name, Declared: declared, Type: t, Length: length}
}

// StringField returns a text field bounded to length characters.
func StringField(name string, length int) Field {
	declared := "TEXT"
	if length > 0 {
		declared = fmt.Sprintf("TEXT(%d)", length)
	}
	return Field{Name: name, Declared: declared, Type: TypeString, Length: length}
}

// columnDefinition is the column clause used by ALTER TABLE ... ADD COLUMN.
func (f Field) columnDefinition() string {
	declared := f.Declared
	if declared == "" {
		declared = "TEXT"
	}
	return quoteIdent(f.Name) + " " + declared
}

// quoteIdent quotes an SQL identifier. Parity columns contain '-', so every
// identifier goes through here.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
