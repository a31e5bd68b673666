package parity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"gpkgparity/internal/gpkg"
	"gpkgparity/internal/logging"
)

// LoadLayer opens the layer at uri through rt. uri is a file path,
// optionally followed by "|layername=<name>"; layerName, when set, takes
// precedence. Load failures are printed to w and returned as the
// underlying *gpkg.LoadError.
func LoadLayer(w io.Writer, rt *gpkg.Runtime, uri, layerName string) (*gpkg.Layer, error) {
	path, uriLayer := gpkg.SplitURI(uri)
	if layerName == "" {
		layerName = uriLayer
	}

	ds, err := rt.Open(path)
	if err != nil {
		printLoadError(w, path, err)
		return nil, err
	}
	layer, err := ds.Layer(layerName)
	if err != nil {
		if cerr := ds.Close(); cerr != nil {
			logging.Get(rt.Logger(), logging.CategoryLoader).Warn("failed to close data source",
				zap.String("path", path), zap.Error(cerr))
		}
		printLoadError(w, path, err)
		return nil, err
	}
	return layer, nil
}

func printLoadError(w io.Writer, path string, err error) {
	if errors.Is(err, gpkg.ErrFileNotFound) {
		fmt.Fprintf(w, "Error: file %s not found!\n", path)
		return
	}
	fmt.Fprintf(w, "Error: could not load layer %s\n", path)
}

// IntegerFields returns the names of the layer's integer fields in
// declaration order.
func IntegerFields(layer *gpkg.Layer) []string {
	var names []string
	for _, f := range layer.Fields() {
		if f.Type.IsInteger() {
			names = append(names, f.Name)
		}
	}
	return names
}

// PrintLayerInfo writes the layer summary shown before processing.
func PrintLayerInfo(ctx context.Context, w io.Writer, layer *gpkg.Layer, integerFields []string) error {
	count, err := layer.FeatureCount(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Layer loaded successfully: %s\n", layer.Name())
	fmt.Fprintf(w, "Feature count: %d\n", count)
	fmt.Fprintf(w, "All fields in layer: [%s]\n", strings.Join(layer.FieldNames(), ", "))
	fmt.Fprintf(w, "Integer fields: [%s]\n", strings.Join(integerFields, ", "))
	return nil
}
