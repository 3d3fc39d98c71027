package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/TutorPipe/internal/models"
	"github.com/BTreeMap/TutorPipe/internal/transcript"
)

// Endpointing defaults.
const (
	DefaultIdleSilence    = 2000 * time.Millisecond
	DefaultArmDelay       = 2500 * time.Millisecond
	DefaultGracePeriod    = 200 * time.Millisecond
	DefaultNoSpeechRetry  = 500 * time.Millisecond
	DefaultStopTimeout    = 5 * time.Second
	defaultOutcomeBufSize = 1
)

// Config holds the capture timings.
type Config struct {
	IdleSilence   time.Duration // silence required before endpointing
	ArmDelay      time.Duration // idle timer duration, re-armed on every fragment
	GracePeriod   time.Duration // wait after the recognizer ends for trailing finals
	NoSpeechRetry time.Duration // delay before the single automatic restart
	StopTimeout   time.Duration // how long to wait for EventEnd after Stop
}

// DefaultConfig returns the standard capture timings.
func DefaultConfig() Config {
	return Config{
		IdleSilence:   DefaultIdleSilence,
		ArmDelay:      DefaultArmDelay,
		GracePeriod:   DefaultGracePeriod,
		NoSpeechRetry: DefaultNoSpeechRetry,
		StopTimeout:   DefaultStopTimeout,
	}
}

// OutcomeKind is the terminal result of one capture.
type OutcomeKind string

const (
	OutcomeUtterance   OutcomeKind = "utterance"
	OutcomeNoUtterance OutcomeKind = "no_utterance"
	OutcomeError       OutcomeKind = "error"
)

// Outcome is delivered exactly once per successful Start.
type Outcome struct {
	Kind          OutcomeKind
	Text          string // trimmed utterance, OutcomeUtterance only
	LowConfidence bool   // some final fell below the advisory threshold
	Err           error  // OutcomeError only
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock injects the clock used for endpointing timers.
func WithClock(c Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithConfig overrides the capture timings.
func WithConfig(cfg Config) Option {
	return func(ctl *Controller) { ctl.cfg = cfg }
}

// WithPermissionGate sets the microphone permission gate. Without one, permission is assumed
// to be handled by the Capability.
func WithPermissionGate(g PermissionGate) Option {
	return func(ctl *Controller) { ctl.permission = g }
}

// WithPreviewHandler registers a callback for interim preview changes.
func WithPreviewHandler(fn func(string)) Option {
	return func(ctl *Controller) { ctl.onPreview = fn }
}

// Controller owns at most one capture at a time.
type Controller struct {
	capability Capability
	permission PermissionGate
	clock      Clock
	cfg        Config
	onPreview  func(string)

	mu        sync.Mutex
	capturing bool
	preview   string
	stopCh    chan struct{}
}

// NewController creates a capture controller over the host capability.
func NewController(capability Capability, opts ...Option) *Controller {
	ctl := &Controller{
		capability: capability,
		clock:      RealClock(),
		cfg:        DefaultConfig(),
	}
	for _, opt := range opts {
		opt(ctl)
	}
	return ctl
}

// Capturing reports whether a capture is in progress.
func (c *Controller) Capturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing
}

// Preview returns the current interim preview text.
func (c *Controller) Preview() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preview
}

// Start acquires permission, opens a recognition session and begins listening.
// The returned channel yields exactly one Outcome and is then closed.
func (c *Controller) Start(ctx context.Context, opts Options) (<-chan Outcome, error) {
	c.mu.Lock()
	if c.capturing {
		c.mu.Unlock()
		return nil, models.ErrAlreadyCapturing
	}
	if c.capability == nil {
		c.mu.Unlock()
		return nil, models.ErrUnsupportedCapability
	}
	c.capturing = true
	stopCh := make(chan struct{})
	c.stopCh = stopCh
	c.mu.Unlock()

	slog.Debug("Controller.Start: acquiring microphone", "locale", opts.Locale, "hints", len(opts.Hints))
	if c.permission != nil {
		if err := c.permission.Request(ctx); err != nil {
			c.release()
			if errors.Is(err, models.ErrPermissionDenied) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", models.ErrPermissionDenied, err)
		}
	}

	rec, err := c.capability.Open(ctx, opts)
	if err != nil {
		c.release()
		slog.Warn("Controller.Start: recognition failed to open", "error", err)
		if errors.Is(err, models.ErrUnsupportedCapability) || errors.Is(err, models.ErrPermissionDenied) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", models.ErrCaptureStart, err)
	}

	out := make(chan Outcome, defaultOutcomeBufSize)
	go c.run(ctx, rec, opts, stopCh, out)
	slog.Debug("Controller.Start: listening")
	return out, nil
}

// Stop ends the current capture. The outcome still arrives on the Start channel.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.capturing || c.stopCh == nil {
		return
	}
	close(c.stopCh)
	c.stopCh = nil
}

func (c *Controller) release() {
	c.mu.Lock()
	c.capturing = false
	c.stopCh = nil
	c.mu.Unlock()
}

func (c *Controller) setPreview(text string) {
	c.mu.Lock()
	changed := c.preview != text
	c.preview = text
	fn := c.onPreview
	c.mu.Unlock()
	if changed && fn != nil {
		fn(text)
	}
}

// captureState is the per-capture mutable state owned by the run goroutine.
type captureState struct {
	acc        transcript.Accumulator
	hasSpeech  bool
	lowConf    bool
	lastSpeech time.Time
	armedAt    time.Time
}

func (c *Controller) run(ctx context.Context, rec Recognition, opts Options, stopCh <-chan struct{}, out chan<- Outcome) {
	st := &captureState{lastSpeech: c.clock.Now()}
	events := rec.Events()

	var (
		idle, grace, restart, stopWait Timer
		stopping                       bool // Stop has been sent to the recognizer
		draining                       bool // recognizer ended, waiting out the grace period
		restarted                      bool // the single no-speech restart has been used
		restartPending                 bool
	)

	stopTimer := func(t *Timer) {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
	timerC := func(t Timer) <-chan time.Time {
		if t == nil {
			return nil
		}
		return t.C()
	}
	finish := func(o Outcome) {
		stopTimer(&idle)
		stopTimer(&grace)
		stopTimer(&restart)
		stopTimer(&stopWait)
		c.setPreview("")
		c.release()
		slog.Debug("Controller.run: emit", "kind", o.Kind, "text_length", len(o.Text), "error", o.Err)
		out <- o
		close(out)
	}
	requestStop := func(reason string) {
		if stopping || draining {
			return
		}
		stopping = true
		stopTimer(&idle)
		slog.Debug("Controller.run: stopping recognition", "reason", reason)
		if err := rec.Stop(); err != nil {
			slog.Warn("Controller.run: recognizer stop failed", "error", err)
		}
		stopWait = c.clock.NewTimer(c.cfg.StopTimeout)
	}
	beginDrain := func() {
		if draining {
			return
		}
		draining = true
		stopTimer(&idle)
		stopTimer(&stopWait)
		c.setPreview("")
		slog.Debug("Controller.run: drain", "grace", c.cfg.GracePeriod)
		grace = c.clock.NewTimer(c.cfg.GracePeriod)
	}

	for {
		select {
		case <-ctx.Done():
			_ = rec.Abort()
			finish(Outcome{Kind: OutcomeNoUtterance})
			return

		case <-stopCh:
			stopCh = nil
			if restartPending {
				// nothing is listening between a no-speech end and the restart
				restartPending = false
				stopTimer(&restart)
				beginDrain()
				continue
			}
			requestStop("requested")

		case ev, ok := <-events:
			if !ok {
				events = nil
				if !restartPending {
					beginDrain()
				}
				continue
			}
			switch ev.Kind {
			case EventStart:
				slog.Debug("Controller.run: recognizer started")
			case EventResult:
				update := st.acc.Apply(ev.Results)
				st.hasSpeech = true
				if update.LowConfidence {
					st.lowConf = true
					slog.Warn("Controller.run: low confidence final accepted", "text", update.FinalAppended)
				}
				if draining {
					continue
				}
				now := c.clock.Now()
				st.lastSpeech = now
				if update.Preview != "" {
					c.setPreview(update.Preview)
				}
				if !stopping {
					stopTimer(&idle)
					st.armedAt = now
					idle = c.clock.NewTimer(c.cfg.ArmDelay)
				}
			case EventError:
				err := ev.Error.Err()
				if errors.Is(err, models.ErrNoSpeechDetected) {
					if st.hasSpeech {
						slog.Debug("Controller.run: no-speech after speech ignored")
						continue
					}
					if !restarted && !stopping {
						restarted = true
						restartPending = true
						stopTimer(&idle)
						slog.Debug("Controller.run: no speech detected, scheduling restart", "delay", c.cfg.NoSpeechRetry)
						restart = c.clock.NewTimer(c.cfg.NoSpeechRetry)
						continue
					}
					slog.Debug("Controller.run: no speech detected again, giving up")
					continue
				}
				slog.Warn("Controller.run: recognition error", "kind", string(ev.Error), "error", err)
				_ = rec.Abort()
				finish(Outcome{Kind: OutcomeError, Err: err})
				return
			case EventEnd:
				if restartPending {
					slog.Debug("Controller.run: recognizer ended, waiting for restart")
					events = nil
					continue
				}
				beginDrain()
			}

		case <-timerC(idle):
			idle = nil
			now := c.clock.Now()
			if st.hasSpeech && now.Sub(st.lastSpeech) >= c.cfg.IdleSilence && now.Sub(st.armedAt) >= c.cfg.ArmDelay {
				requestStop("silence")
			}

		case <-timerC(restart):
			restart = nil
			restartPending = false
			if events != nil {
				_ = rec.Abort()
			}
			next, err := c.capability.Open(ctx, opts)
			if err != nil {
				slog.Warn("Controller.run: restart failed", "error", err)
				finish(Outcome{Kind: OutcomeError, Err: fmt.Errorf("%w: %v", models.ErrCaptureStart, err)})
				return
			}
			rec = next
			events = rec.Events()
			st.lastSpeech = c.clock.Now()
			slog.Debug("Controller.run: recognition restarted")

		case <-timerC(stopWait):
			stopWait = nil
			slog.Warn("Controller.run: recognizer did not end after stop, draining anyway")
			_ = rec.Abort()
			beginDrain()

		case <-timerC(grace):
			grace = nil
			text := st.acc.Utterance()
			if text != "" && st.hasSpeech {
				finish(Outcome{Kind: OutcomeUtterance, Text: text, LowConfidence: st.lowConf})
			} else {
				finish(Outcome{Kind: OutcomeNoUtterance})
			}
			return
		}
	}
}
