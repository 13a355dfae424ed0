package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"txsim-server/packages/common"
	"txsim-server/packages/simulator"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type FeedStatus string

const (
	FeedConnecting FeedStatus = "connecting"
	FeedConnected  FeedStatus = "connected"
	FeedComplete   FeedStatus = "complete"
	FeedError      FeedStatus = "error"
)

// frame is the union of the two payloads the server sends.
type frame struct {
	Type      string `json:"type"`
	ID        int    `json:"id"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	TestID    int    `json:"testId"`
}

// LogFeed is a log stream received over SSE. While paused the reader stops
// consuming the body, so frames queue up and arrive in order on Resume. The
// server keeps its own schedule.
type LogFeed struct {
	TestID int

	events chan simulator.Event
	wake   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
	log    *zap.Logger

	mu     sync.Mutex
	status FeedStatus
	paused bool
	err    error
}

// Open connects to GET /logs/{id}. Errors the server answers with before
// the stream starts are returned directly, mapped onto the common errors.
func (c *Client) Open(ctx context.Context, id int) (*LogFeed, error) {
	ctx, cancel := context.WithCancel(ctx)
	f := &LogFeed{
		TestID: id,
		events: make(chan simulator.Event),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		cancel: cancel,
		log:    c.log.With(zap.Int("test_id", id)),
		status: FeedConnecting,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/logs/%d", c.baseURL, id), nil)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, errors.WithMessagef(common.ErrStream, "connect to log stream: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := responseError(resp)
		resp.Body.Close()
		cancel()
		return nil, err
	}

	f.setStatus(FeedConnected)
	f.log.Info("Log stream connected")
	go f.run(ctx, resp.Body)
	return f, nil
}

func (f *LogFeed) Events() <-chan simulator.Event {
	return f.events
}

// Cancel closes the connection and waits for the reader to exit.
func (f *LogFeed) Cancel() {
	f.cancel()
	<-f.done
}

func (f *LogFeed) Pause() {
	f.setPaused(true)
}

func (f *LogFeed) Resume() {
	f.setPaused(false)
}

func (f *LogFeed) Status() FeedStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Err wraps common.ErrStream when the stream ended without a completion
// frame.
func (f *LogFeed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *LogFeed) setStatus(s FeedStatus) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

func (f *LogFeed) setPaused(p bool) {
	f.mu.Lock()
	f.paused = p
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *LogFeed) isPaused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *LogFeed) fail(err error) {
	f.mu.Lock()
	f.status = FeedError
	f.err = err
	f.mu.Unlock()
	f.log.Warn("Log stream failed", zap.Error(err))
}

func (f *LogFeed) run(ctx context.Context, body io.ReadCloser) {
	defer close(f.done)
	defer close(f.events)
	defer body.Close()
	defer f.cancel()

	r := bufio.NewReader(body)
	var data strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil {
				f.fail(errors.WithMessagef(common.ErrStream, "log stream cancelled: %v", ctx.Err()))
				return
			}
			if err == io.EOF {
				err = errors.New("stream closed before completion")
			}
			f.fail(errors.WithMessagef(common.ErrStream, "read log stream: %v", err))
			return
		}

		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			continue
		case line != "":
			// id:, event:, retry: and comments carry nothing we use.
			continue
		case data.Len() == 0:
			continue
		}

		ev, err := decodeFrame(data.String())
		data.Reset()
		if err != nil {
			f.fail(err)
			return
		}
		if !f.deliver(ctx, ev) {
			f.fail(errors.WithMessagef(common.ErrStream, "log stream cancelled: %v", ctx.Err()))
			return
		}
		if ev.Complete != nil {
			f.setStatus(FeedComplete)
			f.log.Info("Log stream completed")
			return
		}
	}
}

func decodeFrame(payload string) (simulator.Event, error) {
	var fr frame
	if err := json.Unmarshal([]byte(payload), &fr); err != nil {
		return simulator.Event{}, errors.WithMessagef(common.ErrStream, "malformed log event %q: %v", payload, err)
	}
	if fr.Type == simulator.CompletionType {
		return simulator.Event{Complete: &simulator.Completion{
			Type:      fr.Type,
			TestID:    fr.TestID,
			Timestamp: fr.Timestamp,
		}}, nil
	}
	return simulator.Event{Log: &simulator.LogEvent{
		ID:        fr.ID,
		Message:   fr.Message,
		Timestamp: fr.Timestamp,
		TestID:    fr.TestID,
	}}, nil
}

// deliver blocks while paused, then hands ev to the consumer.
func (f *LogFeed) deliver(ctx context.Context, ev simulator.Event) bool {
	for f.isPaused() {
		select {
		case <-ctx.Done():
			return false
		case <-f.wake:
		}
	}
	select {
	case f.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
