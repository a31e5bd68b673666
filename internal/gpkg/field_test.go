package gpkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFieldType(t *testing.T) {
	tests := []struct {
		declared   string
		wantType   FieldType
		wantLength int
	}{
		{"INTEGER", TypeInt64, 0},
		{"integer", TypeInt64, 0},
		{"BIGINT", TypeInt64, 0},
		{"MEDIUMINT", TypeInt32, 0},
		{"INT", TypeInt32, 0},
		{"SMALLINT", TypeInt16, 0},
		{"TINYINT", TypeInt16, 0},
		{"INT UNSIGNED", TypeUInt32, 0},
		{"BIGINT UNSIGNED", TypeUInt64, 0},
		{"BOOLEAN", TypeBool, 0},
		{"DOUBLE", TypeReal, 0},
		{"REAL", TypeReal, 0},
		{"TEXT", TypeString, 0},
		{"TEXT(10)", TypeString, 10},
		{" text ( 25 ) ", TypeString, 25},
		{"BLOB", TypeBlob, 0},
		{"DATE", TypeDate, 0},
		{"DATETIME", TypeDateTime, 0},
		{"POINT", TypeUnknown, 0},
		{"", TypeUnknown, 0},
	}
	for _, tt := range tests {
		t.Run(tt.declared, func(t *testing.T) {
			typ, length := ParseFieldType(tt.declared)
			assert.Equal(t, tt.wantType, typ)
			assert.Equal(t, tt.wantLength, length)
		})
	}
}

func TestFieldType_IsInteger(t *testing.T) {
	integers := []FieldType{TypeInt16, TypeInt32, TypeInt64, TypeUInt32, TypeUInt64}
	for _, ft := range integers {
		assert.True(t, ft.IsInteger(), ft.String())
	}

	others := []FieldType{TypeUnknown, TypeBool, TypeReal, TypeString, TypeBlob, TypeDate, TypeDateTime}
	for _, ft := range others {
		assert.False(t, ft.IsInteger(), ft.String())
	}
}

func TestStringField(t *testing.T) {
	f := StringField("parity-id", 10)
	assert.Equal(t, "TEXT(10)", f.Declared)
	assert.Equal(t, TypeString, f.Type)
	assert.Equal(t, 10, f.Length)
	assert.Equal(t, `"parity-id" TEXT(10)`, f.columnDefinition())

	assert.Equal(t, `"a""b" TEXT`, StringField(`a"b`, 0).columnDefinition())
}
