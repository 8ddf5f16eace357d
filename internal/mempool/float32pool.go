// Package mempool pools float32 tensor buffers for detector forward passes.
// Buffers are grouped in size classes of 1024 floats.
package mempool

import "sync"

const step = 1024

var float32Pools sync.Map // size class -> *sync.Pool

// sizeClass rounds n up to the next multiple of step.
func sizeClass(n int) int {
	if n <= step {
		return step
	}
	return (n + step - 1) / step * step
}

func poolFor(cls int) *sync.Pool {
	p, _ := float32Pools.LoadOrStore(cls, &sync.Pool{New: func() any {
		b := make([]float32, cls)
		return &b
	}})
	return p.(*sync.Pool)
}

// GetFloat32 returns a buffer of length n. Contents are not zeroed.
// Return it with PutFloat32.
func GetFloat32(n int) []float32 {
	cls := sizeClass(n)
	bp := poolFor(cls).Get().(*[]float32)
	buf := *bp
	if cap(buf) < cls {
		buf = make([]float32, cls)
	}
	return buf[:n]
}

// PutFloat32 returns a buffer to the pool. Nil is ignored.
func PutFloat32(buf []float32) {
	if buf == nil {
		return
	}
	// Buffers that don't sit exactly on a class boundary came from elsewhere.
	c := cap(buf)
	if c != sizeClass(c) {
		return
	}
	buf = buf[:c]
	poolFor(c).Put(&buf)
}
