// Package gpkg reads and edits vector layers stored in GeoPackage files.
//
// A GeoPackage is an SQLite database with a few metadata tables
// (gpkg_contents, gpkg_geometry_columns, gpkg_spatial_ref_sys). Layers are
// ordinary tables registered in gpkg_contents. Edits are collected in an
// in-memory edit buffer and written in a single SQLite transaction on
// CommitChanges, so a run either persists everything or nothing.
//
// Usage:
//
//	rt, err := gpkg.NewRuntime(gpkg.Options{})
//	defer rt.Close()
//
//	ds, err := rt.Open("city.gpkg")
//	layer, err := ds.Layer("")
//
//	layer.StartEditing()
//	idx, _ := layer.AddField(gpkg.StringField("label", 10))
//	layer.ChangeAttributeValue(1, idx, "x")
//	err = layer.CommitChanges(ctx)
package gpkg

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"gpkgparity/internal/logging"
)

const (
	// DriverModernc is the pure Go SQLite driver (modernc.org/sqlite).
	DriverModernc = "sqlite"
	// DriverMattn is the cgo SQLite driver (github.com/mattn/go-sqlite3).
	DriverMattn = "sqlite3"

	DefaultBusyTimeout = 5 * time.Second
)

// sqlDriverNames maps the configurable driver names to database/sql driver
// registrations that carry the geometry functions.
var sqlDriverNames = map[string]string{
	DriverModernc: "sqlite",
	DriverMattn:   mattnDriverName,
}

// Options configures a Runtime.
type Options struct {
	Driver      string
	BusyTimeout time.Duration
	// Logger is the root logger. Loading logs under the loader category,
	// edit sessions under commit.
	Logger *zap.Logger
}

// Runtime is the process-wide context every data source is opened through.
// Close releases any data source still open and must run on every exit path.
type Runtime struct {
	driver      string
	sqlDriver   string
	busyTimeout time.Duration
	root        *zap.Logger
	logger      *zap.Logger
	commitLog   *zap.Logger

	mu     sync.Mutex
	open   map[*DataSource]struct{}
	closed bool
}

// NewRuntime validates the options and returns a ready Runtime.
func NewRuntime(opts Options) (*Runtime, error) {
	if opts.Driver == "" {
		opts.Driver = DriverModernc
	}
	sqlDriver, ok := sqlDriverNames[opts.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown sqlite driver %q (want %q or %q)", opts.Driver, DriverModernc, DriverMattn)
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultBusyTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	rt := &Runtime{
		driver:      opts.Driver,
		sqlDriver:   sqlDriver,
		busyTimeout: opts.BusyTimeout,
		root:        opts.Logger,
		logger:      logging.Get(opts.Logger, logging.CategoryLoader),
		commitLog:   logging.Get(opts.Logger, logging.CategoryCommit),
		open:        make(map[*DataSource]struct{}),
	}
	rt.logger.Debug("gpkg runtime initialized",
		zap.String("driver", opts.Driver),
		zap.Duration("busy_timeout", opts.BusyTimeout))
	return rt, nil
}

// dsn appends the busy timeout in the form the driver reads from its
// connection string, so every pooled connection gets it.
func (rt *Runtime) dsn(path string) string {
	ms := rt.busyTimeout.Milliseconds()
	if rt.driver == DriverMattn {
		return fmt.Sprintf("%s?_busy_timeout=%d", path, ms)
	}
	return fmt.Sprintf("%s?_pragma=busy_timeout(%d)", path, ms)
}

// Driver returns the configured driver name.
func (rt *Runtime) Driver() string {
	return rt.driver
}

// Logger returns the root logger the runtime was built with.
func (rt *Runtime) Logger() *zap.Logger {
	return rt.root
}

// Close closes every data source opened through the runtime.
// It is safe to call more than once.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	sources := make([]*DataSource, 0, len(rt.open))
	for ds := range rt.open {
		sources = append(sources, ds)
	}
	rt.open = nil
	rt.mu.Unlock()

	var errs error
	for _, ds := range sources {
		errs = multierr.Append(errs, ds.closeDB())
	}
	rt.logger.Debug("gpkg runtime closed", zap.Int("released", len(sources)))
	return errs
}

func (rt *Runtime) track(ds *DataSource) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return ErrRuntimeClosed
	}
	rt.open[ds] = struct{}{}
	return nil
}

func (rt *Runtime) untrack(ds *DataSource) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.open != nil {
		delete(rt.open, ds)
	}
}
