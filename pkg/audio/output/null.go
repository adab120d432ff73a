// ABOUTME: Headless PCM channel that discards audio at the real-time rate
// ABOUTME: Used when no sound device is available and as a paced test double
package output

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/clockradio-go/pkg/audio"
)

const nullTick = 5 * time.Millisecond

// NullChannel drains its queue on a wall-clock ticker.
type NullChannel struct {
	queue  *dmaQueue
	rate   atomic.Int64
	played atomic.Uint64

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewNullChannel starts a disabled channel at sampleRate.
func NewNullChannel(sampleRate int) *NullChannel {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	c := &NullChannel{
		queue:    newDMAQueue(dmaBytes(sampleRate, otoQueueDuration)),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.rate.Store(int64(sampleRate))
	go c.drain()
	return c
}

func (c *NullChannel) drain() {
	defer close(c.done)

	ticker := time.NewTicker(nullTick)
	defer ticker.Stop()

	var scratch []byte
	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			n := int(c.rate.Load()*int64(nullTick)/int64(time.Second)) * audio.BytesPerFrame
			if cap(scratch) < n {
				scratch = make([]byte, n)
			}
			got := c.queue.pull(scratch[:n])
			c.played.Add(uint64(got))
		}
	}
}

func (c *NullChannel) Enable() error {
	return c.queue.enable()
}

func (c *NullChannel) Disable() error {
	return c.queue.disable()
}

func (c *NullChannel) Reconfigure(sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if c.queue.isEnabled() {
		return ErrInvalidState
	}
	c.rate.Store(int64(sampleRate))
	return nil
}

func (c *NullChannel) Write(p []byte, timeout time.Duration) (int, error) {
	return c.queue.push(p, timeout)
}

// Played returns the number of bytes consumed so far.
func (c *NullChannel) Played() uint64 {
	return c.played.Load()
}

func (c *NullChannel) Close() error {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.queue.close()
	})
	<-c.done
	return nil
}
