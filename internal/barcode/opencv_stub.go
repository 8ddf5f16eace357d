//go:build !opencv

package barcode

import "fmt"

func newOpenCV() (Decoder, error) {
	return nil, fmt.Errorf("%w: %s (build with -tags=opencv)", ErrUnavailable, NameOpenCV)
}
