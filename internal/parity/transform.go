package parity

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"gpkgparity/internal/gpkg"
)

// Transform computes the parity of the feature's value at srcIdx and stages
// it into parityIdx. Value problems are reported through the Result; the
// error is for staging failures only.
func Transform(layer *gpkg.Layer, f *gpkg.Feature, srcIdx, parityIdx int) (Result, error) {
	r := Compute(f.Value(srcIdx))
	if err := stage(layer, f.FID, parityIdx, r); err != nil {
		return r, err
	}
	return r, nil
}

func stage(layer *gpkg.Layer, fid int64, parityIdx int, r Result) error {
	if err := layer.ChangeAttributeValue(fid, parityIdx, r.Parity.Value()); err != nil {
		return fmt.Errorf("stage parity for feature %d: %w", fid, err)
	}
	return nil
}

// target pairs an integer field with its parity field.
type target struct {
	field     string
	parity    string
	srcIdx    int
	parityIdx int
}

// featuresPerWorker sizes a batch for the concurrent path.
const featuresPerWorker = 64

// computeBatch returns the results of every target for every feature of
// the batch, indexed [feature][target]. Staging is left to the caller so
// the edit buffer is only touched from one goroutine.
func computeBatch(ctx context.Context, workers int, batch []*gpkg.Feature, targets []target) ([][]Result, error) {
	results := make([][]Result, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, f := range batch {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic computing feature %d: %v", f.FID, r)
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			row := make([]Result, len(targets))
			for j, t := range targets {
				row[j] = Compute(f.Value(t.srcIdx))
			}
			results[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// formatValue renders a source value for warning messages.
func formatValue(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}
