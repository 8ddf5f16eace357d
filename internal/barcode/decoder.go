package barcode

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"time"
)

var (
	// ErrNotFound means the decoder ran and found no QR payload.
	ErrNotFound = errors.New("barcode: no QR code found")

	// ErrUnavailable means the backend is not compiled into this binary.
	ErrUnavailable = errors.New("barcode: decoder unavailable in this build")
)

// Decoder names.
const (
	NameGoQR       = "goqr"
	NameZXingQR    = "zxing-qr"
	NameZXingMulti = "zxing-multi"
	NameTuotoo     = "tuotoo"
	NameOpenCV     = "opencv"
)

// Decoder extracts a QR payload from an image. Implementations must be safe
// for concurrent use and return ErrNotFound when nothing decodes.
type Decoder interface {
	Name() string
	Decode(ctx context.Context, img image.Image) (string, error)
}

// Spec describes a known backend and its expected per-call cost on a
// typical invoice photo. Costs drive cascade ordering.
type Spec struct {
	Name string
	Cost time.Duration
	New  func() (Decoder, error)
}

var specs = []Spec{
	{Name: NameGoQR, Cost: 5 * time.Millisecond, New: func() (Decoder, error) { return NewGoQR(), nil }},
	{Name: NameZXingQR, Cost: 10 * time.Millisecond, New: func() (Decoder, error) { return NewZXingQR(), nil }},
	{Name: NameZXingMulti, Cost: 15 * time.Millisecond, New: func() (Decoder, error) { return NewZXingMulti(), nil }},
	{Name: NameTuotoo, Cost: 20 * time.Millisecond, New: func() (Decoder, error) { return NewTuotoo(), nil }},
	{Name: NameOpenCV, Cost: 25 * time.Millisecond, New: newOpenCV},
}

// DefaultNames returns all backend names in ascending cost order.
func DefaultNames() []string {
	out := make([]string, 0, len(specs))
	for _, s := range Specs() {
		out = append(out, s.Name)
	}
	return out
}

// Specs returns the known backends sorted by cost.
func Specs() []Spec {
	out := make([]Spec, len(specs))
	copy(out, specs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Cost < out[j].Cost })
	return out
}

// IsKnown reports whether name identifies a backend.
func IsKnown(name string) bool {
	_, ok := lookup(name)
	return ok
}

func lookup(name string) (Spec, bool) {
	for _, s := range specs {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}

// New constructs the named backend.
func New(name string) (Decoder, error) {
	s, ok := lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown decoder %q", name)
	}
	return s.New()
}
