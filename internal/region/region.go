// Package region converts normalized face detections into padded, clamped
// pixel rectangles with resolved time windows.
package region

import (
	"errors"
	"fmt"
	"math"

	"github.com/andresmejia3/veil/internal/fault"
	"github.com/andresmejia3/veil/internal/geometry"
	"github.com/andresmejia3/veil/internal/types"
)

// DefaultPadding expands each box by 30% of its longer side on every edge.
const DefaultPadding = 0.3

// epsilon absorbs float noise in upstream coordinates such as 1.0000001.
const epsilon = 1e-6

// PixelRegion is a rectangle in display pixel space.
type PixelRegion struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// TimeWindow is the half-open interval [Start, End) of playback seconds.
// Open windows have no end and run until the video ends.
type TimeWindow struct {
	Start float64 `json:"start"`
	End   float64 `json:"end,omitempty"`
	Open  bool    `json:"open"`
}

// Contains reports whether the window is active at playback time t.
func (w TimeWindow) Contains(t float64) bool {
	if t < w.Start {
		return false
	}
	return w.Open || t < w.End
}

// Region is one normalized redaction target. Index is the position of the
// source detection in the request.
type Region struct {
	Index  int         `json:"index"`
	Box    PixelRegion `json:"box"`
	Window TimeWindow  `json:"window"`
}

// Plan is the ordered set of regions for one video. A nil *Plan means the
// request carried no detections at all.
type Plan struct {
	Geometry geometry.Geometry
	Regions  []Region
}

// Empty reports whether the plan holds no regions.
func (p *Plan) Empty() bool {
	return p == nil || len(p.Regions) == 0
}

// Validate checks every detection without needing stream geometry, so bad
// input can be rejected before any download or probe. The first offending
// entry fails the whole batch.
func Validate(detections []types.FaceDetection) error {
	for i, d := range detections {
		if err := validateOne(d); err != nil {
			return fault.Validation("validate face", i, err)
		}
	}
	return nil
}

func validateOne(d types.FaceDetection) error {
	coords := []struct {
		name string
		v    float64
	}{
		{"x", d.X}, {"y", d.Y}, {"width", d.Width}, {"height", d.Height},
	}
	for _, c := range coords {
		if math.IsNaN(c.v) || math.IsInf(c.v, 0) {
			return fmt.Errorf("%s is not a finite number", c.name)
		}
		if c.v < -epsilon || c.v > 1+epsilon {
			return fmt.Errorf("%s=%g is outside [0,1]", c.name, c.v)
		}
	}
	if d.Width <= 0 {
		return errors.New("width must be > 0")
	}
	if d.Height <= 0 {
		return errors.New("height must be > 0")
	}
	if math.IsNaN(d.StartTime) || math.IsInf(d.StartTime, 0) {
		return errors.New("startTime is not a finite number")
	}
	if d.EndTime != nil && (math.IsNaN(*d.EndTime) || math.IsInf(*d.EndTime, 0)) {
		return errors.New("endTime is not a finite number")
	}
	return nil
}

// Normalize converts detections into pixel regions for g, in input order.
// An empty detection list returns a nil plan. Any invalid detection rejects
// the whole batch with fault.ErrValidation.
func Normalize(g geometry.Geometry, detections []types.FaceDetection, padding float64) (*Plan, error) {
	if math.IsNaN(padding) || math.IsInf(padding, 0) || padding < 0 {
		return nil, fault.Validationf("padding fraction %g must be a finite number >= 0", padding)
	}
	if g.DisplayWidth <= 0 || g.DisplayHeight <= 0 {
		return nil, fault.Geometry("normalize regions",
			fmt.Errorf("display geometry %dx%d is not positive", g.DisplayWidth, g.DisplayHeight))
	}
	if err := Validate(detections); err != nil {
		return nil, err
	}
	if len(detections) == 0 {
		return nil, nil
	}

	plan := &Plan{Geometry: g, Regions: make([]Region, 0, len(detections))}
	for i, d := range detections {
		plan.Regions = append(plan.Regions, Region{
			Index:  i,
			Box:    toPixels(g, d, padding),
			Window: window(d),
		})
	}
	return plan, nil
}

func toPixels(g geometry.Geometry, d types.FaceDetection, padding float64) PixelRegion {
	x := int(math.Round(clampUnit(d.X) * float64(g.DisplayWidth)))
	y := int(math.Round(clampUnit(d.Y) * float64(g.DisplayHeight)))
	w := int(math.Round(clampUnit(d.Width) * float64(g.DisplayWidth)))
	h := int(math.Round(clampUnit(d.Height) * float64(g.DisplayHeight)))

	// Padding beyond the longer display side already covers the frame; cap it
	// in float so huge fractions cannot overflow int.
	pad := int(math.Min(math.Floor(float64(max(w, h))*padding), float64(max(g.DisplayWidth, g.DisplayHeight))))
	x, w = clampAxis(x-pad, w+2*pad, g.DisplayWidth)
	y, h = clampAxis(y-pad, h+2*pad, g.DisplayHeight)

	return PixelRegion{X: x, Y: y, Width: w, Height: h}
}

// clampAxis pins pos into the frame without wrapping, then shrinks size to
// fit while keeping pos. The result is always at least one pixel wide.
func clampAxis(pos, size, limit int) (int, int) {
	if pos < 0 {
		pos = 0
	}
	if pos > limit-1 {
		pos = limit - 1
	}
	if size > limit-pos {
		size = limit - pos
	}
	if size < 1 {
		size = 1
	}
	return pos, size
}

func clampUnit(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

func window(d types.FaceDetection) TimeWindow {
	start := math.Max(0, d.StartTime)
	if d.EndTime != nil && *d.EndTime > start {
		return TimeWindow{Start: start, End: *d.EndTime}
	}
	return TimeWindow{Start: start, Open: true}
}
