package memory

import "sync"

// pump delivers queued values to a handler on its own goroutine, so a
// subscriber sees values in the order they were offered. The queue grows
// as needed: a slow subscriber delays its own deliveries but never loses any.
type pump[T any] struct {
	mu     sync.Mutex
	wake   *sync.Cond
	queue  []T
	closed bool
	handle func(T)
}

func newPump[T any](handle func(T)) *pump[T] {
	p := &pump[T]{handle: handle}
	p.wake = sync.NewCond(&p.mu)
	go p.run()
	return p
}

func (p *pump[T]) run() {
	var zero T
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.wake.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		v := p.queue[0]
		p.queue[0] = zero
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.handle(v)
	}
}

// offer queues v without blocking and returns the backlog including v.
// It returns 0 once the pump is closed.
func (p *pump[T]) offer(v T) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0
	}
	p.queue = append(p.queue, v)
	p.wake.Signal()
	return len(p.queue)
}

// close stops delivery after the value being handled, if any.
func (p *pump[T]) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.queue = nil
	p.wake.Broadcast()
}
