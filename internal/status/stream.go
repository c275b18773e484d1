package status

import (
	"context"
	"sync"
	"sync/atomic"
)

// Stream delivers updates on a channel until its context is done. Updates
// that do not fit the buffer are dropped and counted; slow readers should
// resync with a snapshot.
type Stream struct {
	C       <-chan Update
	dropped atomic.Int64
}

// Dropped returns the number of updates lost to a full buffer.
func (s *Stream) Dropped() int64 {
	return s.dropped.Load()
}

// Watch subscribes a buffered channel. The channel is closed once ctx is
// done.
func (r *Registry) Watch(ctx context.Context, buffer int) *Stream {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Update, buffer)
	s := &Stream{C: ch}

	var mu sync.Mutex
	closed := false
	cancel := r.Subscribe(func(u Update) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- u:
		default:
			s.dropped.Add(1)
		}
	})

	go func() {
		<-ctx.Done()
		cancel()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return s
}
