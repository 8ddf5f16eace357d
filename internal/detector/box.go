package detector

import (
	"image"
	"math"
	"sort"
)

// Box is a detection in normalised [0,1] centre coordinates.
type Box struct {
	CX, CY, W, H float32
	Confidence   float32
}

// Rect maps the box to pixel space of a width x height image, clamped to
// the image.
func (b Box) Rect(width, height int) image.Rectangle {
	x0 := clampInt(int((b.CX-b.W/2)*float32(width)), 0, width)
	y0 := clampInt(int((b.CY-b.H/2)*float32(height)), 0, height)
	w := int(math.Min(float64(b.W*float32(width)), float64(width-x0)))
	h := int(math.Min(float64(b.H*float32(height)), float64(height-y0)))
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return image.Rect(x0, y0, x0+w, y0+h)
}

func (b Box) bounds() (x0, y0, x1, y1 float64) {
	return float64(b.CX - b.W/2), float64(b.CY - b.H/2), float64(b.CX + b.W/2), float64(b.CY + b.H/2)
}

// IoU returns intersection over union.
func IoU(a, b Box) float64 {
	ax0, ay0, ax1, ay1 := a.bounds()
	bx0, by0, bx1, by1 := b.bounds()

	left, top := math.Max(ax0, bx0), math.Max(ay0, by0)
	right, bottom := math.Min(ax1, bx1), math.Min(ay1, by1)
	if left >= right || top >= bottom {
		return 0
	}
	inter := (right - left) * (bottom - top)
	union := (ax1-ax0)*(ay1-ay0) + (bx1-bx0)*(by1-by0) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// SortByConfidence sorts boxes highest confidence first, stable on ties.
func SortByConfidence(boxes []Box) {
	sort.SliceStable(boxes, func(i, j int) bool { return boxes[i].Confidence > boxes[j].Confidence })
}

// NonMaxSuppression performs greedy NMS. The result is sorted by confidence.
func NonMaxSuppression(boxes []Box, iouThreshold float64) []Box {
	if len(boxes) <= 1 {
		return boxes
	}
	sorted := make([]Box, len(boxes))
	copy(sorted, boxes)
	SortByConfidence(sorted)

	suppressed := make([]bool, len(sorted))
	kept := make([]Box, 0, len(sorted))
	for a := range sorted {
		if suppressed[a] {
			continue
		}
		kept = append(kept, sorted[a])
		for b := a + 1; b < len(sorted); b++ {
			if !suppressed[b] && IoU(sorted[a], sorted[b]) > iouThreshold {
				suppressed[b] = true
			}
		}
	}
	return kept
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
