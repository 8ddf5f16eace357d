package mempool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizeClass(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 1024},
		{1, 1024},
		{1024, 1024},
		{1025, 2048},
		{3 * 640 * 640, 1228800},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sizeClass(tt.in), "n=%d", tt.in)
	}
}

func TestGetPutFloat32(t *testing.T) {
	buf := GetFloat32(3000)
	assert.Len(t, buf, 3000)
	assert.GreaterOrEqual(t, cap(buf), 3000)
	buf[0] = 1
	PutFloat32(buf)

	again := GetFloat32(2500)
	assert.Len(t, again, 2500)
	PutFloat32(again)

	PutFloat32(nil)
	PutFloat32(make([]float32, 7))
}

func TestConcurrentUse(t *testing.T) {
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for range 50 {
				b := GetFloat32(n)
				for j := range b {
					b[j] = float32(j)
				}
				PutFloat32(b)
			}
		}(1000 + i*700)
	}
	wg.Wait()
}
