// Package gpkgtest builds small GeoPackage files for tests and reads them
// back for assertions.
package gpkgtest

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Column is an attribute column of a fixture layer.
type Column struct {
	Name string
	Type string
}

// Layer describes one fixture table. Rows are attribute values in Columns
// order; feature ids are assigned 1..n.
type Layer struct {
	Name       string
	Attributes bool // register as an attributes table without geometry
	Columns    []Column
	Rows       [][]any
	// Geoms holds the geometry blob of each row; missing entries are NULL.
	Geoms [][]byte
	// Statements run after the table is filled, e.g. to add triggers.
	Statements []string
}

const baseSchema = `
PRAGMA application_id = 1196444487;
PRAGMA user_version = 10300;
CREATE TABLE gpkg_spatial_ref_sys (
	srs_name TEXT NOT NULL,
	srs_id INTEGER NOT NULL PRIMARY KEY,
	organization TEXT NOT NULL,
	organization_coordsys_id INTEGER NOT NULL,
	definition TEXT NOT NULL,
	description TEXT
);
INSERT INTO gpkg_spatial_ref_sys VALUES
	('Undefined cartesian SRS', -1, 'NONE', -1, 'undefined', NULL),
	('Undefined geographic SRS', 0, 'NONE', 0, 'undefined', NULL),
	('WGS 84 geodetic', 4326, 'EPSG', 4326, 'GEOGCS["WGS 84"]', NULL);
CREATE TABLE gpkg_contents (
	table_name TEXT NOT NULL PRIMARY KEY,
	data_type TEXT NOT NULL,
	identifier TEXT UNIQUE,
	description TEXT DEFAULT '',
	last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE,
	srs_id INTEGER
);
CREATE TABLE gpkg_geometry_columns (
	table_name TEXT NOT NULL,
	column_name TEXT NOT NULL,
	geometry_type_name TEXT NOT NULL,
	srs_id INTEGER NOT NULL,
	z TINYINT NOT NULL,
	m TINYINT NOT NULL,
	CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name)
);
`

// Create writes a GeoPackage at path containing the given layers, in order.
func Create(tb testing.TB, path string, layers ...Layer) {
	tb.Helper()

	db := open(tb, path)
	defer db.Close()

	exec(tb, db, baseSchema)
	for _, l := range layers {
		cols := []string{`"fid" INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL`}
		if !l.Attributes {
			cols = append(cols, `"geom" POINT`)
		}
		for _, c := range l.Columns {
			cols = append(cols, quote(c.Name)+" "+c.Type)
		}
		exec(tb, db, fmt.Sprintf("CREATE TABLE %s (%s)", quote(l.Name), strings.Join(cols, ", ")))

		dataType := "features"
		if l.Attributes {
			dataType = "attributes"
		}
		exec(tb, db, `INSERT INTO gpkg_contents (table_name, data_type, identifier, srs_id) VALUES (?, ?, ?, 4326)`,
			l.Name, dataType, l.Name)
		if !l.Attributes {
			exec(tb, db, `INSERT INTO gpkg_geometry_columns VALUES (?, 'geom', 'POINT', 4326, 0, 0)`, l.Name)
		}

		if len(l.Columns) > 0 {
			var names, marks []string
			if !l.Attributes {
				names = append(names, `"geom"`)
				marks = append(marks, "?")
			}
			for _, c := range l.Columns {
				names = append(names, quote(c.Name))
				marks = append(marks, "?")
			}
			insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
				quote(l.Name), strings.Join(names, ", "), strings.Join(marks, ", "))
			for i, row := range l.Rows {
				args := row
				if !l.Attributes {
					var geom any
					if i < len(l.Geoms) && l.Geoms[i] != nil {
						geom = l.Geoms[i]
					}
					args = append([]any{geom}, row...)
				}
				exec(tb, db, insert, args...)
			}
		}
		for _, stmt := range l.Statements {
			exec(tb, db, stmt)
		}
	}
}

// Point encodes a little endian GeoPackage point in EPSG:4326 without a
// header envelope, so readers have to decode the WKB.
func Point(x, y float64) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{'G', 'P', 0, 0x01})
	_ = binary.Write(&buf, binary.LittleEndian, int32(4326))
	buf.WriteByte(1)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(1))
	_ = binary.Write(&buf, binary.LittleEndian, []float64{x, y})
	return buf.Bytes()
}

// SpatialIndex returns statements that add a "<table>_bounds" table and an
// AFTER UPDATE trigger shaped like the R-tree triggers GDAL writes. The
// trigger records the ST_* envelope of every updated non-empty geometry.
func SpatialIndex(table string) []string {
	bounds := quote(table + "_bounds")
	return []string{
		fmt.Sprintf(`CREATE TABLE %s (fid INTEGER PRIMARY KEY, minx REAL, maxx REAL, miny REAL, maxy REAL)`, bounds),
		fmt.Sprintf(`CREATE TRIGGER %s AFTER UPDATE ON %s
			WHEN NEW.geom NOTNULL AND NOT ST_IsEmpty(NEW.geom)
			BEGIN
				INSERT OR REPLACE INTO %s VALUES (NEW.fid, ST_MinX(NEW.geom), ST_MaxX(NEW.geom), ST_MinY(NEW.geom), ST_MaxY(NEW.geom));
			END`, quote("rtree_"+table+"_geom_update"), quote(table), bounds),
	}
}

// SkipIfDriverUnavailable skips tb when the database/sql driver cannot open
// a connection, as with mattn/go-sqlite3 in a CGO_ENABLED=0 build.
func SkipIfDriverUnavailable(tb testing.TB, driver string) {
	tb.Helper()
	db, err := sql.Open(driver, ":memory:")
	if err == nil {
		err = db.Ping()
		db.Close()
	}
	if err != nil {
		tb.Skipf("sqlite driver %q unavailable: %v", driver, err)
	}
}

// Columns returns the column names of table in declaration order.
func Columns(tb testing.TB, path, table string) []string {
	tb.Helper()

	db := open(tb, path)
	defer db.Close()

	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", quote(table)))
	if err != nil {
		tb.Fatalf("table_info %s: %v", table, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             any
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			tb.Fatalf("scan table_info: %v", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		tb.Fatalf("table_info %s: %v", table, err)
	}
	return names
}

// Row is one feature read back from a fixture, keyed by column name.
type Row map[string]any

// Rows reads every row of table ordered by fid. TEXT comes back as string
// and INTEGER as int64.
func Rows(tb testing.TB, path, table string) []Row {
	tb.Helper()

	db := open(tb, path)
	defer db.Close()

	rows, err := db.Query(fmt.Sprintf(`SELECT * FROM %s ORDER BY "fid"`, quote(table)))
	if err != nil {
		tb.Fatalf("select %s: %v", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		tb.Fatalf("columns: %v", err)
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			tb.Fatalf("scan %s: %v", table, err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		tb.Fatalf("select %s: %v", table, err)
	}
	return out
}

// Exec runs a statement against the file, for tests that need to corrupt
// or tweak a fixture after creation.
func Exec(tb testing.TB, path, query string, args ...any) {
	tb.Helper()

	db := open(tb, path)
	defer db.Close()
	exec(tb, db, query, args...)
}

func open(tb testing.TB, path string) *sql.DB {
	tb.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		tb.Fatalf("open %s: %v", path, err)
	}
	db.SetMaxOpenConns(1)
	return db
}

func exec(tb testing.TB, db *sql.DB, query string, args ...any) {
	tb.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		tb.Fatalf("exec %q: %v", query, err)
	}
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
