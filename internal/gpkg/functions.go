package gpkg

import (
	"database/sql"
	"database/sql/driver"

	sqlite3 "github.com/mattn/go-sqlite3"
	sqlite "modernc.org/sqlite"
)

// mattnDriverName is the mattn/go-sqlite3 driver with the geometry
// functions installed on every connection.
const mattnDriverName = "gpkg_sqlite3"

// geometryFunctions are the SQL functions GeoPackage spatial index triggers
// call. SQLite compiles every trigger that can fire for an UPDATE, so these
// must exist even when only attribute columns change.
var geometryFunctions = map[string]func(any) (any, error){
	"ST_IsEmpty": stIsEmpty,
	"ST_MinX":    envelopeFunc(func(e Envelope) float64 { return e.MinX }),
	"ST_MaxX":    envelopeFunc(func(e Envelope) float64 { return e.MaxX }),
	"ST_MinY":    envelopeFunc(func(e Envelope) float64 { return e.MinY }),
	"ST_MaxY":    envelopeFunc(func(e Envelope) float64 { return e.MaxY }),
}

func init() {
	for name, fn := range geometryFunctions {
		sqlite.MustRegisterDeterministicScalarFunction(name, 1,
			func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				return fn(args[0])
			})
	}

	sql.Register(mattnDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			for name, fn := range geometryFunctions {
				if err := conn.RegisterFunc(name, fn, true); err != nil {
					return err
				}
			}
			return nil
		},
	})
}

// Unreadable geometries yield NULL rather than an error so a malformed blob
// in one row cannot abort an attribute-only update.

func stIsEmpty(v any) (any, error) {
	blob, ok := v.([]byte)
	if !ok {
		return nil, nil
	}
	_, nonEmpty, err := GeometryEnvelope(blob)
	if err != nil {
		return nil, nil
	}
	if nonEmpty {
		return int64(0), nil
	}
	return int64(1), nil
}

func envelopeFunc(pick func(Envelope) float64) func(any) (any, error) {
	return func(v any) (any, error) {
		blob, ok := v.([]byte)
		if !ok {
			return nil, nil
		}
		env, nonEmpty, err := GeometryEnvelope(blob)
		if err != nil || !nonEmpty {
			return nil, nil
		}
		return pick(env), nil
	}
}
