package miniaudio

import (
	"sync"
)

// sampleRing holds captured samples between the device callback and
// Read. When full, new samples overwrite the oldest ones so a slow
// reader always sees the most recent audio.
type sampleRing struct {
	notify chan struct{}

	mu         sync.Mutex
	buf        []int16
	head, tail int64
	overwrites int64
	closeErr   error
}

func newSampleRing(size int) *sampleRing {
	return &sampleRing{
		notify: make(chan struct{}, 1),
		buf:    make([]int16, size),
	}
}

// write appends p, overwriting the oldest samples when full. It reports
// how many samples were overwritten.
func (r *sampleRing) write(p []int16) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closeErr != nil {
		return 0
	}

	size := int64(len(r.buf))
	var lost int
	if int64(len(p)) > size {
		skip := len(p) - len(r.buf)
		lost = int(r.tail-r.head) + skip
		r.head = r.tail
		p = p[skip:]
	}
	for _, s := range p {
		r.buf[r.tail%size] = s
		r.tail++
		if r.tail-r.head > size {
			r.head++
			lost++
		}
	}
	r.overwrites += int64(lost)

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return lost
}

// readFull blocks until p is full or the ring is closed. It returns the
// number of samples copied and the close error when short.
func (r *sampleRing) readFull(p []int16) (int, error) {
	n := 0
	for n < len(p) {
		r.mu.Lock()
		for r.head == r.tail {
			if r.closeErr != nil {
				err := r.closeErr
				r.mu.Unlock()
				return n, err
			}
			r.mu.Unlock()
			<-r.notify
			r.mu.Lock()
		}
		size := int64(len(r.buf))
		for n < len(p) && r.head < r.tail {
			p[n] = r.buf[r.head%size]
			r.head++
			n++
		}
		r.mu.Unlock()
	}
	return n, nil
}

// close wakes pending readers, which then fail with err.
func (r *sampleRing) close(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closeErr != nil {
		return
	}
	r.closeErr = err
	close(r.notify)
}

// dropped returns the total number of overwritten samples.
func (r *sampleRing) dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overwrites
}
