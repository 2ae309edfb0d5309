package engine

import (
	"context"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/web1havv/edsurf/internal/failure"
	"github.com/web1havv/edsurf/internal/system"
	"github.com/web1havv/edsurf/internal/video"
)

type composer interface {
	Compose(i int, dst *image.RGBA) error
}

// renderPlan is everything the frame loop needs, independent of how the
// frames are drawn.
type renderPlan struct {
	frames    int
	size      image.Point
	workers   int
	depth     int // frames in flight between dispatch and write
	threshold float64
	newWorker func() (composer, func(), error)
	// fallback draws a replacement for a failed frame when no earlier good
	// frame exists.
	fallback func(i int, dst *image.RGBA)
}

type frameResult struct {
	index int
	img   *image.RGBA
	err   error
}

// renderFrames composes plan.frames frames on a worker pool and writes them
// to sink in index order. It returns the indices of frames that failed and
// were replaced.
func renderFrames(ctx context.Context, plan renderPlan, sink video.FrameSink, log *zap.Logger) ([]int, error) {
	if plan.frames <= 0 {
		return nil, nil
	}
	workers := max(1, min(plan.workers, plan.frames))
	depth := max(plan.depth, workers)
	maxFailed := int(plan.threshold * float64(plan.frames))

	composers := make([]composer, 0, workers)
	for w := 0; w < workers; w++ {
		c, done, err := plan.newWorker()
		if err != nil {
			return nil, err
		}
		defer done()
		composers = append(composers, c)
	}

	pool := system.NewFramePool(plan.size.X, plan.size.Y)
	sem := semaphore.NewWeighted(int64(depth))
	jobs := make(chan int)
	results := make(chan frameResult, depth)

	g, gctx := errgroup.WithContext(ctx)

	// dispatcher
	g.Go(func() error {
		defer close(jobs)
		for i := 0; i < plan.frames; i++ {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			select {
			case jobs <- i:
			case <-gctx.Done():
				sem.Release(1)
				return gctx.Err()
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	for _, c := range composers {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for i := range jobs {
				img := pool.Get()
				res := frameResult{index: i, img: img, err: composeSafe(c, i, img)}
				select {
				case results <- res:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// writer: restores index order and replaces failed frames
	var failed []int
	g.Go(func() error {
		pending := make(map[int]frameResult, depth)
		var prev *image.RGBA
		next := 0
		step := max(plan.frames/10, 1)
		for res := range results {
			pending[res.index] = res
			for {
				r, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)

				frame := r.img
				if r.err != nil {
					failed = append(failed, next)
					log.Warn("кадр заменён", zap.Int("frame", next), zap.Error(r.err))
					if len(failed) > maxFailed {
						return failure.New(failure.RenderCorrupted, "engine.render",
							"%d of %d frames failed, limit %.0f%%", len(failed), plan.frames, plan.threshold*100)
					}
					if prev != nil {
						frame = prev
					} else if plan.fallback != nil {
						plan.fallback(next, frame)
					}
				}
				if err := sink.WriteFrame(frame); err != nil {
					return err
				}
				if r.err == nil {
					if prev != nil {
						pool.Put(prev)
					}
					prev = r.img
				} else if frame != r.img {
					pool.Put(r.img)
				} else {
					prev = r.img
				}
				sem.Release(1)
				next++
				if next%step == 0 || next == plan.frames {
					log.Debug("кадры записаны", zap.Int("frames", next), zap.Int("total", plan.frames))
				}
			}
		}
		if next != plan.frames {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fmt.Errorf("writer stopped at frame %d of %d", next, plan.frames)
		}
		return nil
	})

	err := g.Wait()
	return failed, err
}

// composeSafe turns a panic in a compositor into a frame error.
func composeSafe(c composer, i int, dst *image.RGBA) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("frame %d panicked: %v", i, r)
		}
	}()
	return c.Compose(i, dst)
}
