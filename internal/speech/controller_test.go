package speech

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/TutorPipe/internal/models"
	"github.com/BTreeMap/TutorPipe/internal/transcript"
)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	created map[time.Duration]int
}

type fakeTimer struct {
	clock    *fakeClock
	deadline time.Time
	ch       chan time.Time
	done     bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1000, 0), created: map[time.Duration]int{}}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), ch: make(chan time.Time, 1)}
	c.timers = append(c.timers, t)
	c.created[d]++
	return t
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.done
	t.done = true
	return active
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for _, t := range c.timers {
		if !t.done && !t.deadline.After(c.now) {
			t.done = true
			t.ch <- c.now
		}
	}
}

// waitCreated blocks until n timers of duration d have been created.
func (c *fakeClock) waitCreated(t *testing.T, d time.Duration, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := c.created[d]
		c.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d timers of %v", n, d)
}

type fakeRecognition struct {
	events   chan Event
	mu       sync.Mutex
	stops    int
	aborts   int
	endOnce  sync.Once
	finished chan struct{}
}

func newFakeRecognition() *fakeRecognition {
	return &fakeRecognition{events: make(chan Event), finished: make(chan struct{})}
}

func (r *fakeRecognition) Events() <-chan Event { return r.events }

func (r *fakeRecognition) Stop() error {
	r.mu.Lock()
	r.stops++
	r.mu.Unlock()
	r.endOnce.Do(func() {
		go func() {
			select {
			case r.events <- Event{Kind: EventEnd}:
			case <-r.finished:
			}
		}()
	})
	return nil
}

func (r *fakeRecognition) Abort() error {
	r.mu.Lock()
	r.aborts++
	r.mu.Unlock()
	return nil
}

func (r *fakeRecognition) stopCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}

func (r *fakeRecognition) send(t *testing.T, ev Event) {
	t.Helper()
	select {
	case r.events <- ev:
	case <-time.After(2 * time.Second):
		t.Fatalf("controller did not receive %v event", ev.Kind)
	}
}

type fakeCapability struct {
	mu    sync.Mutex
	recs  []*fakeRecognition
	opts  []Options
	err   error
	opens chan *fakeRecognition
}

func newFakeCapability() *fakeCapability {
	return &fakeCapability{opens: make(chan *fakeRecognition, 4)}
}

func (f *fakeCapability) Open(ctx context.Context, opts Options) (Recognition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	rec := newFakeRecognition()
	f.recs = append(f.recs, rec)
	f.opts = append(f.opts, opts)
	f.opens <- rec
	return rec, nil
}

func (f *fakeCapability) next(t *testing.T) *fakeRecognition {
	t.Helper()
	select {
	case rec := <-f.opens:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("recognition was not opened")
		return nil
	}
}

type fakeGate struct{ err error }

func (g fakeGate) Request(ctx context.Context) error { return g.err }

func finalResult(text string, confidence float64) []transcript.Result {
	return []transcript.Result{{IsFinal: true, Alternatives: []transcript.Alternative{{Transcript: text, Confidence: &confidence}}}}
}

func expectNoOutcome(t *testing.T, out <-chan Outcome) {
	t.Helper()
	select {
	case o := <-out:
		t.Fatalf("unexpected outcome %+v", o)
	case <-time.After(20 * time.Millisecond):
	}
}

func waitOutcome(t *testing.T, out <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o, ok := <-out:
		if !ok {
			t.Fatal("outcome channel closed without a value")
		}
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return Outcome{}
	}
}

func startController(t *testing.T, opts ...Option) (*Controller, *fakeCapability, *fakeClock, <-chan Outcome, *fakeRecognition) {
	t.Helper()
	clk := newFakeClock()
	capab := newFakeCapability()
	ctl := NewController(capab, append([]Option{WithClock(clk)}, opts...)...)
	out, err := ctl.Start(context.Background(), DefaultOptions())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return ctl, capab, clk, out, capab.next(t)
}

func TestEndpointingWaitsForSilenceAfterLastFragment(t *testing.T) {
	ctl, _, clk, out, rec := startController(t)
	if !ctl.Capturing() {
		t.Fatal("expected capturing after Start")
	}

	words := []string{"I went", " to the", " park", " yesterday"}
	for i, w := range words {
		rec.send(t, Event{Kind: EventResult, Results: finalResult(w, 0.9)})
		clk.waitCreated(t, DefaultArmDelay, i+1)
		if i < len(words)-1 {
			clk.Advance(500 * time.Millisecond)
		}
	}

	clk.Advance(DefaultArmDelay - time.Millisecond)
	expectNoOutcome(t, out)
	if rec.stopCount() != 0 {
		t.Fatal("recognizer stopped before the idle window elapsed")
	}

	clk.Advance(time.Millisecond)
	clk.waitCreated(t, DefaultGracePeriod, 1)
	if rec.stopCount() != 1 {
		t.Fatalf("expected one stop, got %d", rec.stopCount())
	}
	expectNoOutcome(t, out)

	clk.Advance(DefaultGracePeriod)
	o := waitOutcome(t, out)
	if o.Kind != OutcomeUtterance || o.Text != "I went to the park yesterday" {
		t.Fatalf("outcome = %+v", o)
	}
	if ctl.Capturing() {
		t.Error("capturing should be false after the outcome")
	}
	if _, ok := <-out; ok {
		t.Error("outcome channel should be closed after one value")
	}
}

func TestStopWithoutSpeechYieldsNoUtterance(t *testing.T) {
	ctl, _, clk, out, rec := startController(t)
	ctl.Stop()
	clk.waitCreated(t, DefaultGracePeriod, 1)
	if rec.stopCount() != 1 {
		t.Fatalf("expected recognizer stop, got %d", rec.stopCount())
	}
	clk.Advance(DefaultGracePeriod)
	if o := waitOutcome(t, out); o.Kind != OutcomeNoUtterance {
		t.Fatalf("outcome = %+v, want no utterance", o)
	}
}

func TestWhitespaceOnlyFinalsYieldNoUtterance(t *testing.T) {
	_, _, clk, out, rec := startController(t)
	rec.send(t, Event{Kind: EventResult, Results: finalResult("   ", 0.9)})
	rec.send(t, Event{Kind: EventEnd})
	clk.waitCreated(t, DefaultGracePeriod, 1)
	clk.Advance(DefaultGracePeriod)
	if o := waitOutcome(t, out); o.Kind != OutcomeNoUtterance {
		t.Fatalf("outcome = %+v, want no utterance", o)
	}
}

func TestLateFinalDuringGraceIsIncluded(t *testing.T) {
	_, _, clk, out, rec := startController(t)
	rec.send(t, Event{Kind: EventResult, Results: finalResult("hello", 0.9)})
	rec.send(t, Event{Kind: EventEnd})
	clk.waitCreated(t, DefaultGracePeriod, 1)
	rec.send(t, Event{Kind: EventResult, Results: finalResult(" there", 0.4)})
	clk.Advance(DefaultGracePeriod)
	o := waitOutcome(t, out)
	if o.Kind != OutcomeUtterance || o.Text != "hello there" {
		t.Fatalf("outcome = %+v", o)
	}
	if !o.LowConfidence {
		t.Error("expected low confidence flag")
	}
}

func TestPreviewFollowsInterimResults(t *testing.T) {
	var mu sync.Mutex
	var previews []string
	ctl, _, clk, out, rec := startController(t, WithPreviewHandler(func(p string) {
		mu.Lock()
		previews = append(previews, p)
		mu.Unlock()
	}))
	half := 0.2
	rec.send(t, Event{Kind: EventResult, Results: []transcript.Result{
		{Alternatives: []transcript.Alternative{{Transcript: "how are"}}},
		{Alternatives: []transcript.Alternative{{Transcript: " uh", Confidence: &half}}},
	}})
	clk.waitCreated(t, DefaultArmDelay, 1)
	if got := ctl.Preview(); got != "how are" {
		t.Errorf("Preview = %q", got)
	}
	rec.send(t, Event{Kind: EventEnd})
	clk.waitCreated(t, DefaultGracePeriod, 1)
	clk.Advance(DefaultGracePeriod)
	if o := waitOutcome(t, out); o.Kind != OutcomeNoUtterance {
		t.Fatalf("interim-only capture should give no utterance, got %+v", o)
	}
	if ctl.Preview() != "" {
		t.Error("preview should be cleared at the end")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(previews) < 2 || previews[0] != "how are" || previews[len(previews)-1] != "" {
		t.Errorf("previews = %q", previews)
	}
}

func TestNoSpeechRestartsOnce(t *testing.T) {
	_, capab, clk, out, rec := startController(t)
	rec.send(t, Event{Kind: EventError, Error: ErrorNoSpeech})
	rec.send(t, Event{Kind: EventEnd})
	clk.waitCreated(t, DefaultNoSpeechRetry, 1)
	expectNoOutcome(t, out)

	clk.Advance(DefaultNoSpeechRetry)
	second := capab.next(t)
	second.send(t, Event{Kind: EventError, Error: ErrorNoSpeech})
	second.send(t, Event{Kind: EventEnd})
	clk.waitCreated(t, DefaultGracePeriod, 1)
	clk.Advance(DefaultGracePeriod)
	if o := waitOutcome(t, out); o.Kind != OutcomeNoUtterance {
		t.Fatalf("outcome = %+v, want no utterance", o)
	}
	capab.mu.Lock()
	opened := len(capab.recs)
	capab.mu.Unlock()
	if opened != 2 {
		t.Errorf("expected exactly one restart, got %d opens", opened)
	}
	if clk.created[DefaultNoSpeechRetry] != 1 {
		t.Errorf("restart scheduled %d times", clk.created[DefaultNoSpeechRetry])
	}
}

func TestNoSpeechRestartCanStillProduceUtterance(t *testing.T) {
	_, capab, clk, out, rec := startController(t)
	rec.send(t, Event{Kind: EventError, Error: ErrorNoSpeech})
	clk.waitCreated(t, DefaultNoSpeechRetry, 1)
	clk.Advance(DefaultNoSpeechRetry)
	second := capab.next(t)
	second.send(t, Event{Kind: EventResult, Results: finalResult("good morning", 0.95)})
	second.send(t, Event{Kind: EventEnd})
	clk.waitCreated(t, DefaultGracePeriod, 1)
	clk.Advance(DefaultGracePeriod)
	if o := waitOutcome(t, out); o.Kind != OutcomeUtterance || o.Text != "good morning" {
		t.Fatalf("outcome = %+v", o)
	}
}

func TestRecognitionErrorsSurfaceAsOutcome(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want error
	}{
		{ErrorNetwork, models.ErrNetworkFailure},
		{ErrorNotAllowed, models.ErrPermissionDenied},
		{ErrorAudioCapture, models.ErrAudioCaptureFailure},
		{ErrorKind("aborted"), models.ErrUnclassifiedCapture},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			ctl, _, _, out, rec := startController(t)
			rec.send(t, Event{Kind: EventError, Error: tt.kind})
			o := waitOutcome(t, out)
			if o.Kind != OutcomeError || !errors.Is(o.Err, tt.want) {
				t.Fatalf("outcome = %+v, want error %v", o, tt.want)
			}
			if ctl.Capturing() {
				t.Error("capturing should be false after an error")
			}
		})
	}
}

func TestStartFailures(t *testing.T) {
	t.Run("permission denied", func(t *testing.T) {
		ctl := NewController(newFakeCapability(), WithPermissionGate(fakeGate{err: models.ErrPermissionDenied}))
		if _, err := ctl.Start(context.Background(), DefaultOptions()); !errors.Is(err, models.ErrPermissionDenied) {
			t.Fatalf("err = %v", err)
		}
		if ctl.Capturing() {
			t.Error("capturing should stay false")
		}
	})
	t.Run("no capability", func(t *testing.T) {
		ctl := NewController(nil)
		if _, err := ctl.Start(context.Background(), DefaultOptions()); !errors.Is(err, models.ErrUnsupportedCapability) {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("open failure", func(t *testing.T) {
		capab := newFakeCapability()
		capab.err = errors.New("recognizer busy")
		ctl := NewController(capab)
		if _, err := ctl.Start(context.Background(), DefaultOptions()); !errors.Is(err, models.ErrCaptureStart) {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("already capturing", func(t *testing.T) {
		ctl, _, _, _, _ := startController(t)
		if _, err := ctl.Start(context.Background(), DefaultOptions()); !errors.Is(err, models.ErrAlreadyCapturing) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestContextCancelEndsCapture(t *testing.T) {
	clk := newFakeClock()
	capab := newFakeCapability()
	ctl := NewController(capab, WithClock(clk))
	ctx, cancel := context.WithCancel(context.Background())
	out, err := ctl.Start(ctx, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	capab.next(t)
	cancel()
	if o := waitOutcome(t, out); o.Kind != OutcomeNoUtterance {
		t.Fatalf("outcome = %+v", o)
	}
}

func TestOptionsForFeature(t *testing.T) {
	opts := OptionsForFeature(models.FeatureVocabulary)
	if opts.Locale != "en-US" || opts.Continuous || !opts.InterimResults || opts.MaxAlternatives != 3 {
		t.Errorf("unexpected options %+v", opts)
	}
	want := "#JSGF V1.0; grammar hints; public <hint> = word | definition | meaning | example | synonym | antonym;"
	if opts.Grammar != want {
		t.Errorf("Grammar = %q", opts.Grammar)
	}
	if hints := HintsForFeature(models.FeatureFreeTalk); !strings.Contains(strings.Join(hints, ","), "thank you") {
		t.Errorf("freeTalk hints = %v", hints)
	}
	if JSGFGrammar(nil) != "" {
		t.Error("no hints should render no grammar")
	}
}
