package document

import (
	"image"
	"math"
)

// Size is a page size in points.
type Size struct {
	Width  float64
	Height float64
}

// Rect is an axis-aligned rectangle. Page-space rects are in points with the
// origin at the top-left corner of the unrotated page.
type Rect struct {
	X0, Y0, X1, Y1 float64
}

func (r Rect) Width() float64  { return r.X1 - r.X0 }
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }

func (r Rect) Empty() bool {
	return r.X0 >= r.X1 || r.Y0 >= r.Y1
}

// Canon returns r with X0<=X1 and Y0<=Y1.
func (r Rect) Canon() Rect {
	if r.X0 > r.X1 {
		r.X0, r.X1 = r.X1, r.X0
	}
	if r.Y0 > r.Y1 {
		r.Y0, r.Y1 = r.Y1, r.Y0
	}
	return r
}

func (r Rect) Intersects(o Rect) bool {
	return r.X0 < o.X1 && o.X0 < r.X1 && r.Y0 < o.Y1 && o.Y0 < r.Y1
}

func (r Rect) Union(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	return Rect{
		X0: math.Min(r.X0, o.X0),
		Y0: math.Min(r.Y0, o.Y0),
		X1: math.Max(r.X1, o.X1),
		Y1: math.Max(r.Y1, o.Y1),
	}
}

// Pixels returns the smallest integer rectangle covering r.
func (r Rect) Pixels() image.Rectangle {
	return image.Rect(
		int(math.Floor(r.X0)), int(math.Floor(r.Y0)),
		int(math.Ceil(r.X1)), int(math.Ceil(r.Y1)),
	)
}

// Rotation is a clockwise page rotation in degrees.
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// NormalizeRotation folds any multiple of 90 degrees into [0, 360).
// Values that are not multiples of 90 are rounded down to one.
func NormalizeRotation(deg int) Rotation {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return Rotation(deg - deg%90)
}

// Swaps reports whether the rotation exchanges width and height.
func (r Rotation) Swaps() bool {
	return r == Rotate90 || r == Rotate270
}

// Rotated returns the size of the page after rotation.
func (s Size) Rotated(r Rotation) Size {
	if r.Swaps() {
		return Size{Width: s.Height, Height: s.Width}
	}
	return s
}

// RenderContext is the parameter bundle of a rendering call.
type RenderContext struct {
	Page     int
	Rotation Rotation
	Scale    float64

	// TargetWidth and TargetHeight, when both set, force the surface size
	// and override Scale.
	TargetWidth  int
	TargetHeight int
}

func (rc RenderContext) HasTarget() bool {
	return rc.TargetWidth > 0 && rc.TargetHeight > 0
}

// SurfaceSize returns the pixel size of the surface rendered for a page of
// the given size.
func (rc RenderContext) SurfaceSize(page Size) (int, int) {
	if rc.HasTarget() {
		return rc.TargetWidth, rc.TargetHeight
	}
	rotated := page.Rotated(rc.Rotation)
	w := int(math.Round(rotated.Width * rc.Scale))
	h := int(math.Round(rotated.Height * rc.Scale))
	return max(w, 1), max(h, 1)
}

// Transform maps page-space rects to screen-space rects for this context.
func (rc RenderContext) Transform(page Size) Transform {
	rotated := page.Rotated(rc.Rotation)
	sx, sy := rc.Scale, rc.Scale
	if rc.HasTarget() && rotated.Width > 0 && rotated.Height > 0 {
		sx = float64(rc.TargetWidth) / rotated.Width
		sy = float64(rc.TargetHeight) / rotated.Height
	}
	return Transform{page: page, rotation: rc.Rotation, sx: sx, sy: sy}
}

// Transform rotates then scales page coordinates.
type Transform struct {
	page     Size
	rotation Rotation
	sx, sy   float64
}

func (t Transform) point(x, y float64) (float64, float64) {
	switch t.rotation {
	case Rotate90:
		x, y = t.page.Height-y, x
	case Rotate180:
		x, y = t.page.Width-x, t.page.Height-y
	case Rotate270:
		x, y = y, t.page.Width-x
	}
	return x * t.sx, y * t.sy
}

func (t Transform) Apply(r Rect) Rect {
	x0, y0 := t.point(r.X0, r.Y0)
	x1, y1 := t.point(r.X1, r.Y1)
	return Rect{X0: x0, Y0: y0, X1: x1, Y1: y1}.Canon()
}
