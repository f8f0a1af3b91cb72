package orchestration

import (
	"sync"
	"sync/atomic"
)

const runtimeQueueCapacity = 64

// runtime serializes every input through one goroutine.
type runtime struct {
	queue   chan input
	closeCh chan struct{}
	done    chan struct{}

	startOnce sync.Once
	endOnce   sync.Once

	started atomic.Bool
}

func newRuntime() *runtime {
	return &runtime{
		queue:   make(chan input, runtimeQueueCapacity),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (r *runtime) start(process func(input)) (started bool) {
	if r.isClosed() {
		return false
	}

	r.startOnce.Do(func() {
		if r.isClosed() {
			return
		}

		started = true
		r.started.Store(true)
		go func() {
			defer close(r.done)

			for {
				select {
				case <-r.closeCh:
					return
				case in := <-r.queue:
					if r.isClosed() {
						return
					}
					process(in)
				}
			}
		}()
	})

	return started
}

func (r *runtime) end() {
	r.endOnce.Do(func() {
		close(r.closeCh)
	})
}

func (r *runtime) waitUntilEnded() {
	if r.started.Load() {
		<-r.done
	}
}

// enqueue blocks until the input is queued or the runtime ends.
func (r *runtime) enqueue(in input) bool {
	if r.isClosed() {
		return false
	}

	select {
	case <-r.closeCh:
		return false
	case r.queue <- in:
		return true
	}
}

func (r *runtime) isClosed() bool {
	select {
	case <-r.closeCh:
		return true
	default:
		return false
	}
}
