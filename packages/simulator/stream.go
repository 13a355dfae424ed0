package simulator

import (
	"context"
	"sync"
	"time"

	"txsim-server/packages/common"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Stream is a running emission schedule. Receive from Events until it is
// closed. Cancel is synchronous: once it returns the producer goroutine has
// exited and nothing further can be received.
type Stream struct {
	TestID   int
	Interval time.Duration

	events chan Event
	wake   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
	now    func() time.Time
	log    *zap.Logger

	mu      sync.Mutex
	paused  bool
	emitted int
	err     error
}

func (st *Stream) Events() <-chan Event {
	return st.events
}

// Done is closed when the producer has exited.
func (st *Stream) Done() <-chan struct{} {
	return st.done
}

// Cancel stops the schedule and waits for the producer to exit.
func (st *Stream) Cancel() {
	st.cancel()
	<-st.done
}

// Pause suspends the schedule. The time left until the next event is kept
// and honoured on Resume.
func (st *Stream) Pause() {
	st.setPaused(true)
}

func (st *Stream) Resume() {
	st.setPaused(false)
}

// Emitted is the number of LogEvents delivered so far.
func (st *Stream) Emitted() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.emitted
}

// Err is nil while running and after a normal completion. After a
// cancellation it wraps common.ErrStream.
func (st *Stream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

func (st *Stream) setPaused(p bool) {
	st.mu.Lock()
	st.paused = p
	st.mu.Unlock()

	select {
	case st.wake <- struct{}{}:
	default:
	}
}

func (st *Stream) isPaused() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.paused
}

func (st *Stream) run(ctx context.Context, logs []string) {
	defer close(st.done)
	defer close(st.events)
	defer st.cancel()

	deadline := time.Now().Add(st.Interval)
	timer := time.NewTimer(st.Interval)
	defer timer.Stop()

	for i := 0; i < len(logs); {
		select {
		case <-ctx.Done():
			st.stop(ctx.Err())
			return

		case <-st.wake:
			if !st.isPaused() {
				continue
			}
			if !timer.Stop() {
				<-timer.C
			}
			remaining := time.Until(deadline)
			st.log.Debug("Log stream paused", zap.Duration("remaining", remaining))
			if !st.waitResume(ctx) {
				st.stop(ctx.Err())
				return
			}
			if remaining < 0 {
				remaining = 0
			}
			deadline = time.Now().Add(remaining)
			timer.Reset(remaining)

		case <-timer.C:
			ev := Event{Log: &LogEvent{
				ID:        i,
				Message:   logs[i],
				Timestamp: st.timestamp(),
				TestID:    st.TestID,
			}}
			if !st.emit(ctx, ev) {
				st.stop(ctx.Err())
				return
			}
			i++

			// Keep the nominal schedule even when the consumer is slow.
			deadline = deadline.Add(st.Interval)
			next := time.Until(deadline)
			if next < 0 {
				next = 0
			}
			timer.Reset(next)
		}
	}

	done := Event{Complete: &Completion{
		Type:      CompletionType,
		TestID:    st.TestID,
		Timestamp: st.timestamp(),
	}}
	if !st.emit(ctx, done) {
		st.stop(ctx.Err())
		return
	}

	st.log.Info("Log stream completed", zap.Int("emitted", len(logs)))
}

func (st *Stream) waitResume(ctx context.Context) bool {
	for st.isPaused() {
		select {
		case <-ctx.Done():
			return false
		case <-st.wake:
		}
	}
	return true
}

func (st *Stream) emit(ctx context.Context, ev Event) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case st.events <- ev:
		if ev.Log != nil {
			st.mu.Lock()
			st.emitted++
			st.mu.Unlock()
		}
		return true
	case <-ctx.Done():
		return false
	}
}

func (st *Stream) stop(cause error) {
	st.mu.Lock()
	st.err = errors.WithMessagef(common.ErrStream, "stream for test case %d cancelled: %v", st.TestID, cause)
	emitted := st.emitted
	st.mu.Unlock()
	st.log.Info("Log stream cancelled", zap.Int("emitted", emitted))
}

func (st *Stream) timestamp() string {
	return st.now().UTC().Format(TimestampFormat)
}
