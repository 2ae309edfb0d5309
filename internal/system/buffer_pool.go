package system

import (
	"image"
	"sync"
	"sync/atomic"
)

// FramePool recycles output-sized *image.RGBA buffers between the render
// workers and the encoder writer to keep GC pressure flat.
type FramePool struct {
	rect      image.Rectangle
	pool      sync.Pool
	allocated atomic.Int64
}

func NewFramePool(w, h int) *FramePool {
	p := &FramePool{rect: image.Rect(0, 0, w, h)}
	p.pool.New = func() any {
		p.allocated.Add(1)
		return image.NewRGBA(p.rect)
	}
	return p
}

// Get returns a frame buffer. Its contents are undefined.
func (p *FramePool) Get() *image.RGBA {
	return p.pool.Get().(*image.RGBA)
}

// Put returns img to the pool. Buffers of another size are dropped.
func (p *FramePool) Put(img *image.RGBA) {
	if img == nil || img.Rect != p.rect {
		return
	}
	p.pool.Put(img)
}

// Allocated is the number of buffers created so far.
func (p *FramePool) Allocated() int64 { return p.allocated.Load() }
