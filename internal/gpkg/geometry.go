package gpkg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/twpayne/go-geom/encoding/wkb"
)

// Envelope is the 2D bounding box of a geometry.
type Envelope struct {
	MinX, MaxX, MinY, MaxY float64
}

func (e Envelope) isEmpty() bool {
	if math.IsNaN(e.MinX) || math.IsNaN(e.MaxX) || math.IsNaN(e.MinY) || math.IsNaN(e.MaxY) {
		return true
	}
	return e.MinX > e.MaxX || e.MinY > e.MaxY
}

// GeometryHeader is the decoded header of a GeoPackage binary geometry blob.
type GeometryHeader struct {
	Version  byte
	SRSID    int32
	Empty    bool
	Envelope *Envelope
	// WKB is the standard well-known binary geometry following the header.
	WKB []byte
}

var errNotGeoPackageGeometry = errors.New("not a GeoPackage geometry blob")

// envelopeSizes maps the header's envelope contents indicator to the
// number of doubles it stores.
var envelopeSizes = [...]int{0, 4, 6, 6, 8}

// ParseGeometryHeader decodes the "GP" header of a GeoPackage geometry.
func ParseGeometryHeader(blob []byte) (*GeometryHeader, error) {
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return nil, errNotGeoPackageGeometry
	}
	flags := blob[3]
	var order binary.ByteOrder = binary.BigEndian
	if flags&0x01 != 0 {
		order = binary.LittleEndian
	}

	indicator := int(flags>>1) & 0x07
	if indicator >= len(envelopeSizes) {
		return nil, fmt.Errorf("invalid envelope indicator %d", indicator)
	}
	doubles := envelopeSizes[indicator]
	end := 8 + doubles*8
	if len(blob) < end {
		return nil, fmt.Errorf("geometry header truncated: %d bytes", len(blob))
	}

	h := &GeometryHeader{
		Version: blob[2],
		SRSID:   int32(order.Uint32(blob[4:8])),
		Empty:   flags&0x10 != 0,
		WKB:     blob[end:],
	}
	if doubles > 0 {
		read := func(i int) float64 {
			return math.Float64frombits(order.Uint64(blob[8+i*8:]))
		}
		h.Envelope = &Envelope{MinX: read(0), MaxX: read(1), MinY: read(2), MaxY: read(3)}
	}
	return h, nil
}

// GeometryEnvelope returns the bounds of a GeoPackage geometry, preferring
// the header envelope and falling back to walking the WKB. ok is false for
// empty geometries.
func GeometryEnvelope(blob []byte) (env Envelope, ok bool, err error) {
	h, err := ParseGeometryHeader(blob)
	if err != nil {
		return Envelope{}, false, err
	}
	if h.Empty {
		return Envelope{}, false, nil
	}
	if h.Envelope != nil && !math.IsNaN(h.Envelope.MinX) {
		return *h.Envelope, true, nil
	}

	g, err := wkb.Unmarshal(h.WKB)
	if err != nil {
		return Envelope{}, false, fmt.Errorf("decode wkb: %w", err)
	}
	if g.Empty() {
		return Envelope{}, false, nil
	}
	b := g.Bounds()
	env = Envelope{MinX: b.Min(0), MaxX: b.Max(0), MinY: b.Min(1), MaxY: b.Max(1)}
	if env.isEmpty() {
		return Envelope{}, false, nil
	}
	return env, true, nil
}
