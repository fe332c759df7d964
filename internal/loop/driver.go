package loop

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// State is the render loop lifecycle state.
type State int

const (
	Idle State = iota
	Running
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrNotRunning is returned by Tick when the driver is not in the Running state.
var ErrNotRunning = errors.New("render loop not running")

// TickFunc performs one frame of work.
type TickFunc func(now time.Time) error

// Config wires a Driver to its scheduler and work.
type Config struct {
	Scheduler Scheduler
	Tick      TickFunc
	// Release runs once for every transition into Stopped.
	Release func()
	Log     zerolog.Logger
}

// Driver is a restartable, cancellable frame loop. It holds no reference to a
// media source; the tick function pulls from whatever is currently attached.
// A Driver is owned by a single goroutine.
type Driver struct {
	sched   Scheduler
	tick    TickFunc
	release func()
	log     zerolog.Logger

	state      State
	generation uint64
	pending    FrameID
	hasPending bool

	ticks    uint64
	failures uint64
}

// NewDriver creates an idle driver.
func NewDriver(cfg Config) (*Driver, error) {
	if cfg.Scheduler == nil {
		return nil, errors.New("loop: scheduler is required")
	}
	if cfg.Tick == nil {
		return nil, errors.New("loop: tick func is required")
	}
	return &Driver{
		sched:   cfg.Scheduler,
		tick:    cfg.Tick,
		release: cfg.Release,
		log:     cfg.Log,
	}, nil
}

// State returns the current lifecycle state.
func (d *Driver) State() State { return d.state }

// Ticks returns the number of ticks executed.
func (d *Driver) Ticks() uint64 { return d.ticks }

// Failures returns the number of ticks that returned an error or panicked.
func (d *Driver) Failures() uint64 { return d.failures }

// Start enters Running and schedules the first tick. Starting a running loop
// is a no-op.
func (d *Driver) Start() {
	if d.state == Running {
		return
	}
	d.generation++
	d.state = Running
	d.schedule()
}

// Pause cancels the pending tick without releasing anything.
func (d *Driver) Pause() {
	if d.state != Running {
		return
	}
	d.cancelPending()
	d.generation++
	d.state = Paused
}

// Stop cancels the pending tick and runs the release hook. Stopping an idle
// or already stopped loop does nothing.
func (d *Driver) Stop() {
	if d.state == Idle || d.state == Stopped {
		return
	}
	d.cancelPending()
	d.generation++
	d.state = Stopped
	if d.release != nil {
		d.release()
	}
}

// Tick runs one frame of work synchronously. Errors and panics from the tick
// function are counted and returned but never stop the loop.
func (d *Driver) Tick(now time.Time) error {
	if d.state != Running {
		return ErrNotRunning
	}
	d.ticks++
	err := d.runTick(now)
	if err != nil {
		d.failures++
		d.log.Debug().Err(err).Uint64("tick", d.ticks).Msg("tick skipped")
	}
	return err
}

func (d *Driver) runTick(now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()
	return d.tick(now)
}

func (d *Driver) schedule() {
	gen := d.generation
	d.pending = d.sched.RequestFrame(func(now time.Time) {
		d.onFrame(gen, now)
	})
	d.hasPending = true
}

func (d *Driver) onFrame(gen uint64, now time.Time) {
	if gen != d.generation || d.state != Running {
		return
	}
	d.hasPending = false
	_ = d.Tick(now)
	// the tick may have paused, stopped or restarted the loop
	if d.state == Running && d.generation == gen {
		d.schedule()
	}
}

func (d *Driver) cancelPending() {
	if !d.hasPending {
		return
	}
	d.sched.CancelFrame(d.pending)
	d.hasPending = false
}
