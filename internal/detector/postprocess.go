package detector

import (
	"errors"
	"fmt"
)

var errBadOutput = errors.New("unexpected detector output")

// ParseOutput decodes a YOLO output tensor into boxes above minConf.
//
// The exported QR detectors emit [1, F, N] with features as the slow axis:
// all cx, then all cy, w, h and the confidence row. A [1, N, F] layout is
// accepted too. Coordinates greater than 1 are taken to be in input pixel
// space and divided by inputSize.
func ParseOutput(data []float32, shape []int64, inputSize int, minConf float32) ([]Box, error) {
	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("%w: shape %v", errBadOutput, shape)
	}
	f, n := int(shape[1]), int(shape[2])
	featureMajor := true
	if f > n {
		f, n = n, f
		featureMajor = false
	}
	if f < 5 {
		return nil, fmt.Errorf("%w: %d features, need at least 5", errBadOutput, f)
	}
	if len(data) != f*n {
		return nil, fmt.Errorf("%w: %d values for shape %v", errBadOutput, len(data), shape)
	}

	at := func(feature, i int) float32 {
		if featureMajor {
			return data[feature*n+i]
		}
		return data[i*f+feature]
	}
	scale := float32(inputSize)
	norm := func(v float32) float32 {
		if v > 1 {
			return v / scale
		}
		return v
	}

	var boxes []Box
	for i := range n {
		conf := at(4, i)
		if conf <= minConf {
			continue
		}
		boxes = append(boxes, Box{
			CX:         norm(at(0, i)),
			CY:         norm(at(1, i)),
			W:          norm(at(2, i)),
			H:          norm(at(3, i)),
			Confidence: conf,
		})
	}
	return boxes, nil
}

// SelectBoxes applies NMS and keeps at most maxBoxes, best first.
func SelectBoxes(boxes []Box, iouThreshold float64, maxBoxes int) []Box {
	kept := NonMaxSuppression(boxes, iouThreshold)
	if maxBoxes > 0 && len(kept) > maxBoxes {
		kept = kept[:maxBoxes]
	}
	return kept
}
