// Package detector runs YOLO QR detectors exported to ONNX and decodes the
// regions they propose.
//
// Variants (nano, small, medium, large) are tried smallest first by Tier.
// Each variant is loaded at most once per process through Registry; a load
// failure disables that variant until restart.
//
// Resident memory is roughly
//
//	sum(weights of loaded variants) + ORT arena + workers * (3*640*640*4 B + decode scratch)
//
// where the per-request term is the input tensor (about 4.9 MB at 640x640)
// and the decode scratch is dominated by crop copies and 2x upscales.
package detector
