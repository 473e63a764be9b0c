package testutil

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/ajitpratap0/lasprep/pkg/las"
	"github.com/ajitpratap0/lasprep/pkg/pointset"
)

// Point is a fixture point record.
type Point struct {
	X, Y, Z         float64
	Intensity       uint16
	ReturnNumber    uint8
	NumberOfReturns uint8
	Classification  uint8
	Withheld        bool
}

// CloudOptions controls the header of a fixture file.
type CloudOptions struct {
	Version     las.Version
	PointFormat uint8
	Scale       las.Vector3
	Offset      las.Vector3
	VLRs        []las.VLR
}

// LegacyCloud is a typical LAS 1.2 format 3 airborne survey layout.
func LegacyCloud() CloudOptions {
	return CloudOptions{
		Version:     las.Version{Major: 1, Minor: 2},
		PointFormat: 3,
		Scale:       las.Vector3{0.01, 0.01, 0.01},
		Offset:      las.Vector3{500000, 4000000, 0},
	}
}

// RandomPoints returns n reproducible points around a survey origin.
func RandomPoints(n int, seed int64) []Point {
	rng := rand.New(rand.NewSource(seed))
	pts := make([]Point, n)
	for i := range pts {
		returns := uint8(1 + rng.Intn(3))
		pts[i] = Point{
			X:               500000 + math.Round(rng.Float64()*100000)/100,
			Y:               4000000 + math.Round(rng.Float64()*100000)/100,
			Z:               math.Round(rng.Float64()*5000)/100 - 10,
			Intensity:       uint16(rng.Intn(65536)),
			ReturnNumber:    uint8(1 + rng.Intn(int(returns))),
			NumberOfReturns: returns,
			Classification:  uint8(rng.Intn(10)),
			Withheld:        rng.Intn(20) == 0,
		}
	}
	return pts
}

// PointRecords converts fixture points into a record set holding the
// feature columns.
func PointRecords(t *testing.T, pts []Point) *pointset.RecordSet {
	t.Helper()
	x := pointset.NewFloatColumn("x", len(pts))
	y := pointset.NewFloatColumn("y", len(pts))
	z := pointset.NewFloatColumn("z", len(pts))
	intensity := pointset.NewUintColumn("intensity", len(pts))
	ret := pointset.NewUintColumn("return_number", len(pts))
	num := pointset.NewUintColumn("number_of_returns", len(pts))
	class := pointset.NewUintColumn("classification", len(pts))
	withheld := pointset.NewBoolColumn("withheld", len(pts))
	for _, p := range pts {
		x.Append(p.X)
		y.Append(p.Y)
		z.Append(p.Z)
		intensity.Append(uint64(p.Intensity))
		ret.Append(uint64(p.ReturnNumber))
		num.Append(uint64(p.NumberOfReturns))
		class.Append(uint64(p.Classification))
		withheld.Append(p.Withheld)
	}
	rs, err := pointset.FromColumns(x, y, z, intensity, ret, num, class, withheld)
	if err != nil {
		t.Fatalf("building record set: %v", err)
	}
	return rs
}

// WriteCloud writes pts to path as an uncompressed LAS file.
func WriteCloud(t *testing.T, path string, opts CloudOptions, pts []Point) *las.Header {
	t.Helper()
	h := &las.Header{
		Version:            opts.Version,
		PointFormat:        opts.PointFormat,
		Scale:              opts.Scale,
		Offset:             opts.Offset,
		SystemIdentifier:   "fixture",
		GeneratingSoftware: "testutil",
		CreationDay:        100,
		CreationYear:       2023,
		FileSourceID:       42,
		VLRs:               opts.VLRs,
	}
	h.ProjectID[0] = 0xAB
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating fixture directory: %v", err)
	}
	written, err := las.WriteFile(path, h, PointRecords(t, pts))
	if err != nil {
		t.Fatalf("writing fixture %s: %v", path, err)
	}
	return written
}

// WriteCorruptCloud writes a file whose header declares more points than
// the file holds.
func WriteCorruptCloud(t *testing.T, path string) {
	t.Helper()
	WriteCloud(t, path, LegacyCloud(), RandomPoints(10, 1))
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat fixture: %v", err)
	}
	if err := os.Truncate(path, info.Size()-100); err != nil {
		t.Fatalf("truncating fixture: %v", err)
	}
}

// ReadCloud reads every column of the file at path.
func ReadCloud(t *testing.T, path string) (*las.Header, *pointset.RecordSet) {
	t.Helper()
	r, err := las.Open(path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer r.Close()
	rs, err := r.ReadColumns(r.Columns())
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return r.Header(), rs
}
