// Package simulator replays the canned log lines of a test case on a timer,
// spacing them evenly across the test case's expected duration and finishing
// with a single completion event.
package simulator

import (
	"context"
	"time"

	"txsim-server/packages/common"
	"txsim-server/packages/store"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// TimestampFormat matches JavaScript's Date.toISOString.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// LogEvent is one emitted narrative line. ID is the zero-based sequence index.
type LogEvent struct {
	ID        int    `json:"id"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	TestID    int    `json:"testId"`
}

// Completion terminates a stream. It is sent exactly once, after the last
// LogEvent, and never after a cancellation.
type Completion struct {
	Type      string `json:"type"`
	TestID    int    `json:"testId"`
	Timestamp string `json:"timestamp"`
}

const CompletionType = "complete"

// Event carries either a Log or a Complete, never both.
type Event struct {
	Log      *LogEvent
	Complete *Completion
}

// Payload returns whichever half of the event is set, ready for encoding.
func (e Event) Payload() interface{} {
	if e.Complete != nil {
		return e.Complete
	}
	return e.Log
}

// Lookup resolves test cases. store.Store satisfies it.
type Lookup interface {
	Get(ctx context.Context, id int) (*store.TestCaseDetail, error)
}

type Simulator struct {
	lookup    Lookup
	log       *zap.Logger
	timeScale float64
	now       func() time.Time
}

type Option func(*Simulator)

// WithTimeScale stretches (>1) or compresses (<1) every interval.
func WithTimeScale(scale float64) Option {
	return func(s *Simulator) {
		if scale > 0 {
			s.timeScale = scale
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Simulator) {
		s.now = now
	}
}

func New(lookup Lookup, log *zap.Logger, opts ...Option) *Simulator {
	s := &Simulator{
		lookup:    lookup,
		log:       log,
		timeScale: 1,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Interval is expectedTime / len(logs).
func Interval(detail *store.TestCaseDetail) (time.Duration, error) {
	if len(detail.Logs) == 0 {
		return 0, errors.Wrapf(common.ErrInvalidConfiguration, "test case %d has no logs", detail.ID)
	}
	if detail.ExpectedTime <= 0 {
		return 0, errors.Wrapf(common.ErrInvalidConfiguration, "test case %d has expectedTime %d", detail.ID, detail.ExpectedTime)
	}
	return time.Duration(detail.ExpectedTime) * time.Millisecond / time.Duration(len(detail.Logs)), nil
}

// Open resolves testID and starts streaming it. The stream stops when ctx
// is cancelled, when Cancel is called, or after the completion event.
func (s *Simulator) Open(ctx context.Context, testID int) (*Stream, error) {
	detail, err := s.lookup.Get(ctx, testID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		return nil, errors.WithMessagef(common.ErrInternal, "load test case %d: %v", testID, err)
	}
	return s.Start(ctx, detail)
}

// Start streams an already resolved test case.
func (s *Simulator) Start(ctx context.Context, detail *store.TestCaseDetail) (*Stream, error) {
	interval, err := Interval(detail)
	if err != nil {
		return nil, err
	}
	interval = time.Duration(float64(interval) * s.timeScale)

	ctx, cancel := context.WithCancel(ctx)
	st := &Stream{
		TestID:   detail.ID,
		Interval: interval,
		events:   make(chan Event),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		cancel:   cancel,
		now:      s.now,
		log:      s.log.With(zap.Int("test_id", detail.ID)),
	}

	st.log.Info("Log stream opened",
		zap.Duration("interval", interval),
		zap.Int("events", len(detail.Logs)),
	)

	go st.run(ctx, append([]string(nil), detail.Logs...))
	return st, nil
}
