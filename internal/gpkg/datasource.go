package gpkg

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Known values of PRAGMA application_id for GeoPackage files.
const (
	applicationIDGPKG = 0x47504B47 // "GPKG", 1.2 and later
	applicationIDGP10 = 0x47503130 // "GP10"
	applicationIDGP11 = 0x47503131 // "GP11"
)

// LayerInfo is one row of gpkg_contents describing a vector layer.
type LayerInfo struct {
	Name       string
	DataType   string // "features" or "attributes"
	Identifier string
}

// DataSource is an open GeoPackage file.
type DataSource struct {
	rt     *Runtime
	path   string
	db        *sql.DB
	layers    []LayerInfo
	logger    *zap.Logger
	commitLog *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open opens the GeoPackage at path and checks that it decodes as a vector
// data source. Failures are *LoadError values wrapping ErrFileNotFound or
// ErrInvalidLayer.
func (rt *Runtime) Open(path string) (*DataSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &LoadError{Path: path, Kind: ErrFileNotFound}
		}
		return nil, &LoadError{Path: path, Kind: ErrInvalidLayer, Cause: err}
	}
	if info.IsDir() {
		return nil, &LoadError{Path: path, Kind: ErrInvalidLayer, Cause: errors.New("path is a directory")}
	}

	db, err := sql.Open(rt.sqlDriver, rt.dsn(path))
	if err != nil {
		return nil, &LoadError{Path: path, Kind: ErrInvalidLayer, Cause: err}
	}
	// One connection keeps PRAGMAs and the edit transaction on the same handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ds := &DataSource{
		rt:        rt,
		path:      path,
		db:        db,
		logger:    rt.logger.With(zap.String("path", path)),
		commitLog: rt.commitLog.With(zap.String("path", path)),
	}
	if err := ds.init(); err != nil {
		db.Close()
		return nil, &LoadError{Path: path, Kind: ErrInvalidLayer, Cause: err}
	}
	if err := rt.track(ds); err != nil {
		db.Close()
		return nil, err
	}

	ds.logger.Debug("data source opened", zap.Int("layers", len(ds.layers)))
	return ds, nil
}

func (ds *DataSource) init() error {
	var appID int64
	if err := ds.db.QueryRow("PRAGMA application_id").Scan(&appID); err != nil {
		return fmt.Errorf("read application_id: %w", err)
	}

	hasContents, err := ds.hasTable("gpkg_contents")
	if err != nil {
		return err
	}
	if !hasContents {
		return fmt.Errorf("not a GeoPackage: gpkg_contents missing (application_id %#x)", appID)
	}
	switch appID {
	case applicationIDGPKG, applicationIDGP10, applicationIDGP11:
	default:
		ds.logger.Warn("unexpected application_id, reading gpkg_contents anyway", zap.Int64("application_id", appID))
	}

	rows, err := ds.db.Query(`SELECT table_name, data_type, COALESCE(identifier, '')
		FROM gpkg_contents
		WHERE data_type IN ('features', 'attributes')
		ORDER BY rowid`)
	if err != nil {
		return fmt.Errorf("read gpkg_contents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var li LayerInfo
		if err := rows.Scan(&li.Name, &li.DataType, &li.Identifier); err != nil {
			return fmt.Errorf("scan gpkg_contents: %w", err)
		}
		ds.layers = append(ds.layers, li)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read gpkg_contents: %w", err)
	}
	if len(ds.layers) == 0 {
		return errors.New("no vector layers in gpkg_contents")
	}
	return nil
}

func (ds *DataSource) hasTable(name string) (bool, error) {
	var n int
	err := ds.db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table', 'view') AND name = ?`, name,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("inspect sqlite_master: %w", err)
	}
	return n > 0, nil
}

// Path returns the file the data source was opened from.
func (ds *DataSource) Path() string {
	return ds.path
}

// Layers lists the vector layers in gpkg_contents order.
func (ds *DataSource) Layers() []LayerInfo {
	out := make([]LayerInfo, len(ds.layers))
	copy(out, ds.layers)
	return out
}

// Layer opens the named layer. An empty name selects the first layer.
func (ds *DataSource) Layer(name string) (*Layer, error) {
	var info *LayerInfo
	if name == "" {
		info = &ds.layers[0]
	} else {
		for i := range ds.layers {
			if ds.layers[i].Name == name {
				info = &ds.layers[i]
				break
			}
		}
	}
	if info == nil {
		return nil, &LoadError{Path: ds.path, Kind: ErrInvalidLayer, Cause: fmt.Errorf("layer %q not found", name)}
	}

	l, err := loadLayer(ds, *info)
	if err != nil {
		return nil, &LoadError{Path: ds.path, Kind: ErrInvalidLayer, Cause: err}
	}
	return l, nil
}

// Close releases the underlying database handle.
func (ds *DataSource) Close() error {
	ds.rt.untrack(ds)
	return ds.closeDB()
}

func (ds *DataSource) closeDB() error {
	ds.closeOnce.Do(func() {
		ds.closeErr = ds.db.Close()
	})
	return ds.closeErr
}

// SplitURI separates a QGIS style "path|layername=name" data source string
// into its file path and layer name.
func SplitURI(uri string) (path, layer string) {
	path, opts, found := strings.Cut(uri, "|")
	if !found {
		return uri, ""
	}
	for _, opt := range strings.Split(opts, "|") {
		key, value, ok := strings.Cut(opt, "=")
		if ok && strings.EqualFold(strings.TrimSpace(key), "layername") {
			layer = strings.TrimSpace(value)
		}
	}
	return path, layer
}
