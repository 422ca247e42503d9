// Package objects holds the result records a protocol registers after a
// successful run. They are thin references to SUSAN artifacts on disk plus
// the counts a later step needs without re-reading the files.
package objects

import (
	"fmt"

	"github.com/emtools/susanbridge/internal/susan"
)

// SubStacks references a SUSAN particle file along with its particle and
// class counts.
type SubStacks struct {
	FileName     string
	NumParticles int
	NumRefs      int
}

// String implements fmt.Stringer.
func (s *SubStacks) String() string {
	return fmt.Sprintf("SubStacks (%d items, %d classes)", s.NumParticles, s.NumRefs)
}

// AverageVolume references a reconstructed average map, optionally with its
// half-set maps.
type AverageVolume struct {
	FileName  string
	PixelSize float64
	ClassID   int
	HalfMaps  []string
}

// CTFSeries holds the per-tilt CTF estimates imported for one tilt-series.
type CTFSeries struct {
	TsID string
	Rows []susan.DefocusRow
}

// Size returns the number of estimated projections.
func (c *CTFSeries) Size() int {
	return len(c.Rows)
}
