package bluetooth

import (
	"log/slog"
	"time"

	"github.com/mil-ad/audioswitch/internal/eventloop"
)

const (
	// DefaultRetryInterval matches typical SCO negotiation latency.
	DefaultRetryInterval = 500 * time.Millisecond
	// DefaultTimeout bounds one activation or deactivation attempt.
	DefaultTimeout = 5 * time.Second
)

// Direction selects what a Job asks the hardware for.
type Direction int

const (
	Enable Direction = iota
	Disable
)

func (d Direction) String() string {
	if d == Enable {
		return "enable"
	}
	return "disable"
}

// Job issues a SCO command and keeps reissuing it every interval until it is
// cancelled or timeout has elapsed since the first attempt. The job never
// observes confirmation itself: whoever sees the hardware event calls Cancel.
//
// A Job must only be used from its loop.
type Job struct {
	dir       Direction
	loop      eventloop.Loop
	log       *slog.Logger
	interval  time.Duration
	timeout   time.Duration
	action    func()
	onTimeout func()

	timer    eventloop.Timer
	gen      uint64
	started  time.Time
	attempts int
}

func newJob(dir Direction, loop eventloop.Loop, log *slog.Logger, interval, timeout time.Duration, action, onTimeout func()) *Job {
	return &Job{
		dir:       dir,
		loop:      loop,
		log:       log.With("job", dir.String()),
		interval:  interval,
		timeout:   timeout,
		action:    action,
		onTimeout: onTimeout,
	}
}

// Execute starts the job unless one is already outstanding. It reports
// whether a new attempt was started.
func (j *Job) Execute() bool {
	if j.timer != nil {
		j.log.Debug("sco job already outstanding", "attempts", j.attempts)
		return false
	}
	j.started = j.loop.Now()
	j.attempts = 0
	j.log.Debug("sco job started", "deadline", j.Deadline())
	j.attempt()
	return true
}

// Cancel drops any pending check. Safe to call when idle.
func (j *Job) Cancel() {
	j.gen++
	if j.timer == nil {
		return
	}
	j.timer.Stop()
	j.timer = nil
	j.log.Debug("sco job cancelled", "attempts", j.attempts)
}

// Outstanding reports whether a check is scheduled.
func (j *Job) Outstanding() bool { return j.timer != nil }

// Attempts is the number of hardware commands issued by the current or last run.
func (j *Job) Attempts() int { return j.attempts }

// Deadline is when the current run gives up.
func (j *Job) Deadline() time.Time { return j.started.Add(j.timeout) }

func (j *Job) attempt() {
	j.attempts++
	j.log.Debug("sco attempt", "attempt", j.attempts)
	j.action()
	j.gen++
	gen := j.gen
	j.timer = j.loop.AfterFunc(j.interval, func() { j.check(gen) })
}

func (j *Job) check(gen uint64) {
	if gen != j.gen || j.timer == nil {
		return
	}
	j.timer = nil
	if elapsed := j.loop.Now().Sub(j.started); elapsed >= j.timeout {
		j.log.Debug("sco job timed out", "elapsed", elapsed, "attempts", j.attempts)
		j.onTimeout()
		return
	}
	j.attempt()
}
