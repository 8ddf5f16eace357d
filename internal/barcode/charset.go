package barcode

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// payloadText converts raw byte-mode data to a string. QR byte mode defaults
// to ISO-8859-1, but most generators emit UTF-8, so UTF-8 wins when valid.
func payloadText(raw []byte) string {
	if utf8.Valid(raw) {
		return strings.TrimRight(string(raw), "\x00")
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return strings.TrimRight(string(out), "\x00")
}
