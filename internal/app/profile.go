package app

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// profiler appends per-frame section timings to a CSV file. A nil profiler
// is valid and does nothing.
type profiler struct {
	mu    sync.Mutex
	out   io.WriteCloser
	start time.Time
	last  time.Time
}

func newProfiler(path string, log zerolog.Logger) *profiler {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("profiler disabled")
		return nil
	}
	p := &profiler{out: f}
	fmt.Fprintln(p.out, "timestamp,section,delta_ms")
	log.Info().Str("path", path).Msg("frame profiling enabled")
	return p
}

func (p *profiler) beginFrame() {
	if p == nil {
		return
	}
	now := time.Now()
	p.start = now
	p.last = now
}

func (p *profiler) markSection(name string) {
	if p == nil {
		return
	}
	now := time.Now()
	delta := now.Sub(p.last)
	p.last = now
	p.write(name, delta)
}

func (p *profiler) endFrame() {
	if p == nil {
		return
	}
	p.write("frame_total", time.Since(p.start))
}

func (p *profiler) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out == nil {
		return nil
	}
	err := p.out.Close()
	p.out = nil
	return err
}

func (p *profiler) write(section string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out == nil {
		return
	}
	ms := float64(d) / float64(time.Millisecond)
	fmt.Fprintf(p.out, "%s,%s,%.3f\n", time.Now().Format(time.RFC3339Nano), section, ms)
}
