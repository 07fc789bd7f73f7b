// Package mempool provides size-classed buffer pools for the per-frame scratch
// grids (class ids, component labels, argmax scores, resampling passes) so
// steady-state analysis does not allocate a fresh W*H slice on every frame.
//
// A buffer taken from a pool is owned exclusively by the caller until it is
// returned. Buffers that escape into a result must never be returned.
package mempool

import (
	"sync"
)

const classStep = 1024

// sizeClass rounds n up to the next multiple of 1024 (minimum 1024).
func sizeClass(n int) int {
	if n <= classStep {
		return classStep
	}
	return ((n + classStep - 1) / classStep) * classStep
}

// classPool keeps one sync.Pool per size class for element type T.
type classPool[T any] struct {
	pools sync.Map // size class -> *sync.Pool
}

func (cp *classPool[T]) pool(cls int) *sync.Pool {
	if p, ok := cp.pools.Load(cls); ok {
		return p.(*sync.Pool) //nolint:forcetypeassert // only *sync.Pool is stored
	}
	p, _ := cp.pools.LoadOrStore(cls, &sync.Pool{New: func() any {
		buf := make([]T, cls)
		return &buf
	}})
	return p.(*sync.Pool) //nolint:forcetypeassert // only *sync.Pool is stored
}

// get returns a zeroed slice of length n.
func (cp *classPool[T]) get(n int) []T {
	if n < 0 {
		n = 0
	}
	cls := sizeClass(n)
	bufPtr, ok := cp.pool(cls).Get().(*[]T)
	if !ok || cap(*bufPtr) < cls {
		return make([]T, n, cls)
	}
	buf := (*bufPtr)[:n]
	clear(buf)
	return buf
}

func (cp *classPool[T]) put(buf []T) {
	if buf == nil {
		return
	}
	cls := sizeClass(cap(buf))
	if cls != cap(buf) {
		// Foreign slice whose capacity is not a class size; let the GC have it.
		return
	}
	full := buf[:cap(buf)]
	cp.pool(cls).Put(&full)
}

var (
	float32Pool classPool[float32]
	int32Pool   classPool[int32]
	intPool     classPool[int]
	boolPool    classPool[bool]
)

// GetFloat32 returns a zeroed []float32 of length n from the pool.
func GetFloat32(n int) []float32 { return float32Pool.get(n) }

// PutFloat32 returns a buffer obtained from GetFloat32. Nil is ignored.
func PutFloat32(buf []float32) { float32Pool.put(buf) }

// GetInt32 returns a zeroed []int32 of length n from the pool.
func GetInt32(n int) []int32 { return int32Pool.get(n) }

// PutInt32 returns a buffer obtained from GetInt32. Nil is ignored.
func PutInt32(buf []int32) { int32Pool.put(buf) }

// GetInt returns a zeroed []int of length n from the pool.
func GetInt(n int) []int { return intPool.get(n) }

// PutInt returns a buffer obtained from GetInt. Nil is ignored.
func PutInt(buf []int) { intPool.put(buf) }

// GetBool returns a []bool of length n with every element false.
func GetBool(n int) []bool { return boolPool.get(n) }

// PutBool returns a buffer obtained from GetBool. Nil is ignored.
func PutBool(buf []bool) { boolPool.put(buf) }
