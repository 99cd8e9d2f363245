package capture

import (
	"fmt"

	"dashboard-feedback/internal/models"
)

// ToDisplay converts a natural-pixel rectangle to displayed pixels. It is
// the inverse of ToNatural for the same dimensions.
func ToDisplay(r models.HighlightRect, dims models.ImageDimensions) models.HighlightRect {
	return models.HighlightRect{
		X:      r.X / dims.NaturalWidth * dims.Width,
		Y:      r.Y / dims.NaturalHeight * dims.Height,
		Width:  r.Width / dims.NaturalWidth * dims.Width,
		Height: r.Height / dims.NaturalHeight * dims.Height,
	}
}

// ToNatural converts a displayed-pixel rectangle to natural pixels
func ToNatural(r models.HighlightRect, dims models.ImageDimensions) models.HighlightRect {
	return models.HighlightRect{
		X:      r.X * dims.ScaleX(),
		Y:      r.Y * dims.ScaleY(),
		Width:  r.Width * dims.ScaleX(),
		Height: r.Height * dims.ScaleY(),
	}
}

func formatDims(d models.ImageDimensions) string {
	return fmt.Sprintf("%gx%g (natural %gx%g)", d.Width, d.Height, d.NaturalWidth, d.NaturalHeight)
}

func formatRect(r models.HighlightRect) string {
	return fmt.Sprintf("x=%g y=%g w=%g h=%g", r.X, r.Y, r.Width, r.Height)
}
