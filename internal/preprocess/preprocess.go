// Package preprocess prepares a luminance buffer for the native decoders.
//
// Two global steps: histogram equalization followed by an Otsu
// binarization. Re-run the regression corpus (cmd/benchmark) before adding
// local contrast, morphology or blur passes.
package preprocess

import (
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
)

// Binarize converts img to luma, equalizes its histogram and thresholds it
// with Otsu's method. The result only contains 0 and 255.
func Binarize(img image.Image) *image.Gray {
	gray := ToGray(img)
	eq := Equalize(gray)
	t := OtsuThreshold(Histogram(eq))
	return Threshold(eq, t)
}

// ToGray returns a luminance copy of img with its origin moved to (0,0).
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	if g, ok := img.(*image.Gray); ok {
		draw.Draw(out, out.Bounds(), g, b.Min, draw.Src)
		return out
	}

	// imaging.Grayscale applies Rec. 601 weights and returns NRGBA with R=G=B.
	nrgba := imaging.Grayscale(img)
	for y := 0; y < out.Rect.Dy(); y++ {
		src := nrgba.Pix[y*nrgba.Stride:]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < out.Rect.Dx(); x++ {
			dst[x] = src[x*4]
		}
	}
	return out
}

// Histogram counts pixel intensities.
func Histogram(g *image.Gray) [256]int {
	var h [256]int
	w, ht := g.Rect.Dx(), g.Rect.Dy()
	for y := range ht {
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		for _, v := range row {
			h[v]++
		}
	}
	return h
}

// Equalize performs global histogram equalization. Uniform images are
// returned unchanged. g must be a compact buffer such as one from ToGray.
func Equalize(g *image.Gray) *image.Gray {
	hist := Histogram(g)
	total := g.Rect.Dx() * g.Rect.Dy()

	var cdf [256]int
	running := 0
	for i, c := range hist {
		running += c
		cdf[i] = running
	}

	cdfMin := 0
	for _, c := range cdf {
		if c > 0 {
			cdfMin = c
			break
		}
	}

	out := image.NewGray(g.Rect)
	copy(out.Pix, g.Pix)
	if total == 0 || total == cdfMin {
		return out
	}

	var lut [256]uint8
	denom := float64(total - cdfMin)
	for i := range lut {
		if cdf[i] <= cdfMin {
			lut[i] = 0
			continue
		}
		lut[i] = uint8(float64(cdf[i]-cdfMin)*255/denom + 0.5)
	}
	for i, v := range out.Pix {
		out.Pix[i] = lut[v]
	}
	return out
}

// OtsuThreshold returns the intensity that maximizes between-class variance.
func OtsuThreshold(hist [256]int) uint8 {
	total := 0
	sum := 0.0
	for i, c := range hist {
		total += c
		sum += float64(i * c)
	}
	if total == 0 {
		return 0
	}

	var (
		sumB     float64
		weightB  int
		best     uint8
		bestVar  float64
		totalF   = float64(total)
		foundAny bool
	)
	for t := range 256 {
		weightB += hist[t]
		if weightB == 0 {
			continue
		}
		weightF := total - weightB
		if weightF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		meanB := sumB / float64(weightB)
		meanF := (sum - sumB) / float64(weightF)
		between := float64(weightB) * float64(weightF) / (totalF * totalF) * (meanB - meanF) * (meanB - meanF)
		if !foundAny || between > bestVar {
			bestVar = between
			best = uint8(t)
			foundAny = true
		}
	}
	return best
}

// Threshold maps values above t to 255 and the rest to 0.
func Threshold(g *image.Gray, t uint8) *image.Gray {
	out := image.NewGray(g.Rect)
	for i, v := range g.Pix {
		if v > t {
			out.Pix[i] = 255
		}
	}
	return out
}
