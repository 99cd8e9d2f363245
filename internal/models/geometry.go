package models

import "math"

// Point is a position in either display or natural pixel space
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// HighlightRect is an axis-aligned rectangle in natural (unscaled) image
// pixels. Width and height are never negative; x and y may fall outside the
// image.
type HighlightRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RectFromPoints returns the bounding box of a and b
func RectFromPoints(a, b Point) HighlightRect {
	return HighlightRect{
		X:      math.Min(a.X, b.X),
		Y:      math.Min(a.Y, b.Y),
		Width:  math.Abs(a.X - b.X),
		Height: math.Abs(a.Y - b.Y),
	}
}

// IsZeroArea reports whether the rectangle covers no pixels
func (r HighlightRect) IsZeroArea() bool {
	return r.Width == 0 || r.Height == 0
}

// ImageDimensions pairs the displayed (CSS-scaled) size of a screenshot with
// its intrinsic size.
type ImageDimensions struct {
	Width         float64 `json:"width"`
	Height        float64 `json:"height"`
	NaturalWidth  float64 `json:"natural_width"`
	NaturalHeight float64 `json:"natural_height"`
}

// Valid reports whether all four sizes are positive
func (d ImageDimensions) Valid() bool {
	return d.Width > 0 && d.Height > 0 && d.NaturalWidth > 0 && d.NaturalHeight > 0
}

// ScaleX is the natural-per-displayed pixel ratio on the x axis
func (d ImageDimensions) ScaleX() float64 {
	return d.NaturalWidth / d.Width
}

// ScaleY is the natural-per-displayed pixel ratio on the y axis
func (d ImageDimensions) ScaleY() float64 {
	return d.NaturalHeight / d.Height
}
