package pageselect

import (
	"image"
	"image/color"
)

// RasterScorer rates a rendered page image for table likelihood. It is an
// interface so the empirically-tuned default can be swapped out without
// touching the selection flow.
type RasterScorer interface {
	Score(img image.Image) float64
}

// LumaRasterScorer is the stock raster heuristic. It favors pages that
// look like printed tables: a mostly-light background, a modest share of
// dark ink, and frequent sharp light-to-dark transitions. Photographs sit
// in the mid-tones and blank pages have no transitions, so both score low.
type LumaRasterScorer struct {
	// DarkThreshold/LightThreshold split pixels into ink, background,
	// and mid-tone bands.
	DarkThreshold  uint8
	LightThreshold uint8

	// EdgeDelta is the minimum luma jump between horizontal neighbors
	// that counts as an edge.
	EdgeDelta int

	// SampleStep subsamples the image grid. Candidate pages are rendered
	// at low resolution already, so a coarse sample is plenty.
	SampleStep int

	// Term weights.
	EdgeWeight     float64
	BimodalWeight  float64
	InkWeight      float64
	TargetInkShare float64
}

// DefaultRasterScorer returns the stock heuristic with its tuned weights.
func DefaultRasterScorer() *LumaRasterScorer {
	return &LumaRasterScorer{
		DarkThreshold:  64,
		LightThreshold: 192,
		EdgeDelta:      60,
		SampleStep:     2,
		EdgeWeight:     4.0,
		BimodalWeight:  2.0,
		InkWeight:      1.5,
		TargetInkShare: 0.12,
	}
}

// Score rates one image. Higher is more table-like. Returns 0 for images
// too small to measure.
func (s *LumaRasterScorer) Score(img image.Image) float64 {
	bounds := img.Bounds()
	step := s.SampleStep
	if step < 1 {
		step = 1
	}

	var total, dark, light, edges, pairs int
	for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
		prev := -1
		for x := bounds.Min.X; x < bounds.Max.X; x += step {
			l := luma(img.At(x, y))
			total++
			if l <= int(s.DarkThreshold) {
				dark++
			} else if l >= int(s.LightThreshold) {
				light++
			}
			if prev >= 0 {
				pairs++
				if abs(l-prev) >= s.EdgeDelta {
					edges++
				}
			}
			prev = l
		}
	}
	if total == 0 || pairs == 0 {
		return 0
	}

	darkFrac := float64(dark) / float64(total)
	bimodal := float64(dark+light) / float64(total)
	edgeDensity := float64(edges) / float64(pairs)

	// Ink share peaks at the target fraction and falls off on either
	// side, so blank pages (no ink) and dark photos (all ink) both lose.
	inkTerm := 1.0 - abs64(darkFrac-s.TargetInkShare)/s.TargetInkShare
	if inkTerm < 0 {
		inkTerm = 0
	}

	return edgeDensity*s.EdgeWeight + bimodal*s.BimodalWeight + inkTerm*s.InkWeight
}

func luma(c color.Color) int {
	r, g, b, _ := c.RGBA()
	// Rec. 601 weights on 16-bit channels, scaled back to 0-255.
	return int((299*r + 587*g + 114*b) / 1000 >> 8)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func abs64(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
