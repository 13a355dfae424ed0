// Package execution drives a single test case run: a cosmetic progress ramp
// and the log feed, each on its own schedule, owned by one session.
package execution

import (
	"context"
	"sync"
	"time"

	"txsim-server/packages/common"
	"txsim-server/packages/simulator"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type State string

const (
	Idle    State = "idle"
	Running State = "running"
	Paused  State = "paused"
	Success State = "success"
	Error   State = "error"
)

// StreamStatus tracks the log feed independently of State. The progress
// ramp decides success, so a run can be "success" while logs still arrive.
type StreamStatus string

const (
	StreamIdle      StreamStatus = "idle"
	StreamStreaming StreamStatus = "streaming"
	StreamComplete  StreamStatus = "complete"
	StreamError     StreamStatus = "error"
)

// Feed is an open log stream. *simulator.Stream implements it, and so does
// the SSE client in packages/client.
type Feed interface {
	Events() <-chan simulator.Event
	Pause()
	Resume()
	// Cancel stops delivery and returns once no further events can arrive.
	Cancel()
	// Err reports why Events closed early, nil after a completion.
	Err() error
}

type Source interface {
	Open(ctx context.Context, testID int) (Feed, error)
}

// LocalSource feeds a controller straight from an in-process simulator.
type LocalSource struct {
	Sim *simulator.Simulator
}

func (l LocalSource) Open(ctx context.Context, testID int) (Feed, error) {
	st, err := l.Sim.Open(ctx, testID)
	if err != nil {
		return nil, err
	}
	return st, nil
}

type Options struct {
	ProgressTick time.Duration
	ProgressStep int
	// OnChange receives a snapshot after every state, progress or log
	// change. Calls are serialised and must not call back into the
	// controller.
	OnChange func(Snapshot)
}

type Snapshot struct {
	SessionID string        `json:"sessionId"`
	TestID    int           `json:"testId"`
	State     State         `json:"state"`
	Progress  int           `json:"progress"`
	Elapsed   time.Duration `json:"elapsed"`
	Logs      []string      `json:"logs"`
	Stream    StreamStatus  `json:"stream"`
	Err       string        `json:"error,omitempty"`
}

type session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	feed   Feed
	wg     sync.WaitGroup
}

// Controller is the run state machine for one test case:
//
//	idle -> running -> {success, error}
//	running <-> paused
//	any -> idle via Stop or Reset
type Controller struct {
	testID int
	source Source
	opts   Options
	log    *zap.Logger

	// opMu serialises transitions; mu guards the fields below and is the
	// only lock the session goroutines take.
	opMu     sync.Mutex
	notifyMu sync.Mutex

	mu       sync.Mutex
	state    State
	progress int
	ticks    int
	logs     []string
	stream   StreamStatus
	err      error
	session  *session
}

func NewController(testID int, source Source, opts Options, log *zap.Logger) *Controller {
	if opts.ProgressTick <= 0 {
		opts.ProgressTick = 100 * time.Millisecond
	}
	if opts.ProgressStep <= 0 {
		opts.ProgressStep = 2
	}
	return &Controller{
		testID: testID,
		source: source,
		opts:   opts,
		log:    log.With(zap.Int("test_id", testID)),
		state:  Idle,
		stream: StreamIdle,
	}
}

// Start begins a fresh run from any state but running. Progress, elapsed
// time and logs are reset, and any previous session is torn down first.
func (c *Controller) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.State() == Running {
		return errors.Wrap(common.ErrInvalidTransition, "start: already running")
	}
	c.endSession()

	sctx, cancel := context.WithCancel(ctx)
	s := &session{id: uuid.NewString(), ctx: sctx, cancel: cancel}

	feed, err := c.source.Open(sctx, c.testID)
	if err != nil {
		cancel()
		c.mu.Lock()
		c.reset()
		c.state = Error
		c.stream = StreamError
		c.err = err
		c.mu.Unlock()
		c.notify()
		c.log.Error("Failed to start test", zap.Error(err))
		return err
	}
	s.feed = feed

	c.mu.Lock()
	c.reset()
	c.session = s
	c.state = Running
	c.stream = StreamStreaming
	c.mu.Unlock()

	c.log.Info("Test started", zap.String("session_id", s.id))

	s.wg.Add(2)
	go c.ramp(s)
	go c.consume(s)
	c.notify()
	return nil
}

// Pause freezes the progress ramp and suspends the log feed.
func (c *Controller) Pause() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state != Running {
		state := c.state
		c.mu.Unlock()
		return errors.Wrapf(common.ErrInvalidTransition, "pause: test is %s", state)
	}
	c.state = Paused
	s := c.session
	c.mu.Unlock()

	if s != nil {
		s.feed.Pause()
	}
	c.notify()
	return nil
}

// Resume continues a paused run where it left off.
func (c *Controller) Resume() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state != Paused {
		state := c.state
		c.mu.Unlock()
		return errors.Wrapf(common.ErrInvalidTransition, "resume: test is %s", state)
	}
	c.state = Running
	s := c.session
	c.mu.Unlock()

	if s != nil {
		s.feed.Resume()
	}
	c.notify()
	return nil
}

// Stop cancels both schedules and clears the run back to idle.
func (c *Controller) Stop() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.endSession()
	c.mu.Lock()
	c.reset()
	c.state = Idle
	c.mu.Unlock()
	c.notify()
}

// Reset behaves exactly like Stop.
func (c *Controller) Reset() {
	c.Stop()
}

// CanGenerateReport gates the report view on a finished run.
func (c *Controller) CanGenerateReport() bool {
	state := c.State()
	return state == Success || state == Error
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

func (c *Controller) snapshot() Snapshot {
	snap := Snapshot{
		TestID:   c.testID,
		State:    c.state,
		Progress: c.progress,
		Elapsed:  time.Duration(c.ticks) * c.opts.ProgressTick,
		Logs:     append([]string{}, c.logs...),
		Stream:   c.stream,
	}
	if c.session != nil {
		snap.SessionID = c.session.id
	}
	if c.err != nil {
		snap.Err = c.err.Error()
	}
	return snap
}

// endSession must be called with opMu held and mu released.
func (c *Controller) endSession() {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	if s == nil {
		return
	}

	s.cancel()
	s.feed.Cancel()
	s.wg.Wait()
	c.log.Info("Test session ended", zap.String("session_id", s.id))
}

// reset must be called with mu held.
func (c *Controller) reset() {
	c.progress = 0
	c.ticks = 0
	c.logs = nil
	c.stream = StreamIdle
	c.err = nil
}

func (c *Controller) ramp(s *session) {
	defer s.wg.Done()

	ticker := time.NewTicker(c.opts.ProgressTick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if c.session != s {
			c.mu.Unlock()
			return
		}
		if c.state != Running {
			finished := c.state == Success || c.state == Error
			c.mu.Unlock()
			if finished {
				return
			}
			continue
		}

		c.ticks++
		if c.progress >= 100 {
			c.state = Success
			c.mu.Unlock()
			c.log.Info("Test succeeded", zap.String("session_id", s.id))
			c.notify()
			return
		}
		c.progress += c.opts.ProgressStep
		if c.progress > 100 {
			c.progress = 100
		}
		c.mu.Unlock()
		c.notify()
	}
}

func (c *Controller) consume(s *session) {
	defer s.wg.Done()

	for ev := range s.feed.Events() {
		c.mu.Lock()
		if c.session != s {
			c.mu.Unlock()
			return
		}
		if ev.Complete != nil {
			c.stream = StreamComplete
		} else if ev.Log != nil {
			c.logs = append(c.logs, ev.Log.Message)
		}
		c.mu.Unlock()
		c.notify()
	}

	if s.ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	if c.session != s || c.stream == StreamComplete {
		c.mu.Unlock()
		return
	}
	err := s.feed.Err()
	if err == nil {
		err = errors.Wrap(common.ErrStream, "log feed closed before completion")
	}
	c.stream = StreamError
	c.err = err
	if c.state == Running || c.state == Paused {
		c.state = Error
	}
	c.mu.Unlock()

	c.log.Error("Log feed failed", zap.String("session_id", s.id), zap.Error(err))
	c.notify()
}

func (c *Controller) notify() {
	if c.opts.OnChange == nil {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.opts.OnChange(c.Snapshot())
}
