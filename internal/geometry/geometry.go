// Package geometry derives the display frame of a video stream from its raw
// encoded dimensions and rotation metadata.
package geometry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/andresmejia3/veil/internal/fault"
)

// Geometry is the resolved frame of a stream. Display dimensions are the
// raw dimensions swapped for quarter-turn rotations.
type Geometry struct {
	RawWidth      int
	RawHeight     int
	Rotation      int // one of 0, 90, 180, 270
	DisplayWidth  int
	DisplayHeight int
}

// RotationHint carries whatever rotation metadata the probe found. Degrees
// comes from a numeric stream field (display matrix side data), Tag from a
// textual "rotate" tag. Degrees wins when both are set.
type RotationHint struct {
	Degrees *int
	Tag     string
}

// Degrees builds a hint from a numeric rotation.
func Degrees(d int) RotationHint {
	return RotationHint{Degrees: &d}
}

// Tag builds a hint from a textual rotate tag.
func Tag(s string) RotationHint {
	return RotationHint{Tag: s}
}

// Rotation returns the raw rotation carried by the hint, 0 when absent.
func (h RotationHint) Rotation() (int, error) {
	if h.Degrees != nil {
		return *h.Degrees, nil
	}
	tag := strings.TrimSpace(h.Tag)
	if tag == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(tag, 64)
	if err != nil {
		return 0, fmt.Errorf("rotate tag %q is not numeric", h.Tag)
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("rotate tag %q is not a whole number of degrees", h.Tag)
	}
	return int(f), nil
}

// NormalizeRotation maps any angle onto [0, 360). Negative angles map to
// their positive residue, so -90 becomes 270.
func NormalizeRotation(r int) int {
	if r < 0 {
		return (360 - (-r)%360) % 360
	}
	return r % 360
}

// Resolve computes the display geometry. Non-positive raw dimensions and
// unusable rotation metadata fail with fault.ErrGeometryUnavailable; a
// default resolution is never substituted.
func Resolve(rawWidth, rawHeight int, hint RotationHint) (Geometry, error) {
	if rawWidth <= 0 || rawHeight <= 0 {
		return Geometry{}, fault.Geometry("resolve geometry",
			fmt.Errorf("probe returned unusable dimensions %dx%d", rawWidth, rawHeight))
	}

	raw, err := hint.Rotation()
	if err != nil {
		return Geometry{}, fault.Geometry("resolve geometry", err)
	}
	rotation := NormalizeRotation(raw)
	if rotation%90 != 0 {
		return Geometry{}, fault.Geometry("resolve geometry",
			fmt.Errorf("rotation %d is not a quarter turn", raw))
	}

	g := Geometry{
		RawWidth:      rawWidth,
		RawHeight:     rawHeight,
		Rotation:      rotation,
		DisplayWidth:  rawWidth,
		DisplayHeight: rawHeight,
	}
	if rotation == 90 || rotation == 270 {
		g.DisplayWidth, g.DisplayHeight = rawHeight, rawWidth
	}
	return g, nil
}
