package media

import "sync"

// sampleRing keeps the most recent samples written by a capture callback.
type sampleRing struct {
	mu     sync.RWMutex
	buffer []float32
	index  int
	filled int
}

func newSampleRing(size int) *sampleRing {
	return &sampleRing{buffer: make([]float32, size)}
}

// Write appends interleaved frames, downmixing them to mono.
func (r *sampleRing) Write(in []float32, channels int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if channels > 1 {
		mono := make([]float32, len(in)/channels)
		for i := range mono {
			sum := float32(0)
			base := i * channels
			for ch := 0; ch < channels; ch++ {
				sum += in[base+ch]
			}
			mono[i] = sum / float32(channels)
		}
		r.mix(mono)
		return
	}
	r.mix(in)
}

func (r *sampleRing) mix(in []float32) {
	if len(in) == 0 {
		return
	}
	r.filled = min(len(r.buffer), r.filled+len(in))

	if len(in) >= len(r.buffer) {
		copy(r.buffer, in[len(in)-len(r.buffer):])
		r.index = 0
		return
	}

	if r.index+len(in) <= len(r.buffer) {
		copy(r.buffer[r.index:], in)
		r.index += len(in)
		if r.index == len(r.buffer) {
			r.index = 0
		}
		return
	}

	remaining := len(r.buffer) - r.index
	copy(r.buffer[r.index:], in[:remaining])
	copy(r.buffer, in[remaining:])
	r.index = len(in) - remaining
}

// ReadLatest copies the newest len(dst) samples into dst, oldest first,
// zero padding the front when fewer are buffered.
func (r *sampleRing) ReadLatest(dst []float32) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	want := min(len(dst), r.filled)
	pad := len(dst) - want
	clear(dst[:pad])

	// the newest sample sits just before index
	start := r.index - want
	if start < 0 {
		start += len(r.buffer)
	}
	first := copy(dst[pad:], r.buffer[start:min(len(r.buffer), start+want)])
	if first < want {
		copy(dst[pad+first:], r.buffer[:want-first])
	}
	return want
}
