// Package stream delivers the engine's rendered master bus to network
// consumers: chunked HTTP MP3 listeners and WebRTC/Opus peers.
package stream

import (
	"context"
	"sync"
)

// listenerDepth is how many master frames a listener may lag before frames
// start dropping: 150 quanta at FrameDuration is roughly three seconds.
const listenerDepth = 150

// Broadcaster sits between the render loop's master output and every
// attached consumer, fanning each rendered quantum out to all of them.
// A consumer that cannot keep pace loses frames; the master clock is never
// allowed to stall on a slow connection.
type Broadcaster struct {
	mu   sync.RWMutex
	taps map[*Listener]struct{}
}

// Listener is one consumer's tap on the master bus. C carries interleaved
// stereo int16 quanta, one slice per 20 ms frame.
type Listener struct {
	C    chan []int16
	done chan struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{taps: make(map[*Listener]struct{})}
}

// Subscribe attaches a new master-bus tap.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, listenerDepth),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.taps[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe detaches a tap and signals its consumer to stop.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.taps, l)
	b.mu.Unlock()
	close(l.done)
}

// ListenerCount reports how many taps are attached.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.taps)
}

// Run consumes master frames until the source closes or ctx is canceled.
// The source channel is the engine's render output, one frame per quantum.
func (b *Broadcaster) Run(ctx context.Context, master <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-master:
			if !ok {
				return
			}
			b.publish(frame)
		}
	}
}

func (b *Broadcaster) publish(frame []int16) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for l := range b.taps {
		select {
		case l.C <- frame:
		default:
			// lagging past listenerDepth, drop
		}
	}
}
