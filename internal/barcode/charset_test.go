package barcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPayloadText(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"ascii", []byte("hello"), "hello"},
		{"utf8", []byte("Grüße"), "Grüße"},
		{"latin1", []byte{'G', 'r', 0xfc, 0xdf, 'e'}, "Grüße"},
		{"trailing nul", []byte("abc\x00\x00"), "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, payloadText(tt.in))
		})
	}
}
