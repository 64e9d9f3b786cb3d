package client

import (
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/deftio/pocketdock"
	"github.com/deftio/pocketdock/client/connection"
)

// execStream is a single-pass iterator over a streaming run's output.
// Consuming it to io.EOF finalizes the ExecResult; Close cancels the
// stream and kills the exec best-effort.
type execStream struct {
	execID string
	c      *container
	ec     connection.ExecConn
	start  time.Time
	timer  *time.Timer

	mu       sync.Mutex
	stdout   strings.Builder
	stderr   strings.Builder
	result   *pocketdock.ExecResult
	timedOut bool
	done     bool
}

func newExecStream(c *container, execID string, ec connection.ExecConn, timeout time.Duration) *execStream {
	s := &execStream{
		execID: execID,
		c:      c,
		ec:     ec,
		start:  time.Now(),
	}
	if timeout > 0 {
		s.timer = time.AfterFunc(timeout, s.expire)
	}
	return s
}

func (s *execStream) Next() (pocketdock.StreamChunk, error) {
	kind, payload, err := s.ec.ReadFrame()
	if err == io.EOF {
		s.finalize()
		return pocketdock.StreamChunk{}, io.EOF
	}
	if err != nil {
		s.mu.Lock()
		timedOut := s.timedOut
		s.mu.Unlock()
		if timedOut {
			s.finalize()
			return pocketdock.StreamChunk{}, io.EOF
		}
		s.teardown()
		return pocketdock.StreamChunk{}, err
	}

	data := string(payload)
	s.mu.Lock()
	if kind == pocketdock.StderrStream {
		s.stderr.WriteString(data)
	} else {
		s.stdout.WriteString(data)
	}
	s.mu.Unlock()

	return pocketdock.StreamChunk{Stream: kind, Data: data}, nil
}

func (s *execStream) Result() (pocketdock.ExecResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return pocketdock.ExecResult{}, errors.New("result not available until the stream is consumed")
	}
	return *s.result, nil
}

// Close cancels the stream: the connection is closed, the exec is
// killed best-effort, and the iterator is deregistered.
func (s *execStream) Close() error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	s.done = true
	s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.ec.Close()
	s.c.killExec(s.execID)
	s.c.removeStream(s)
	return nil
}

// expire fires on the stream timeout: the connection closes, which
// wakes a blocked Next; the final result carries the timeout flags.
func (s *execStream) expire() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.timedOut = true
	s.mu.Unlock()

	s.ec.Close()
	s.c.killExec(s.execID)
}

func (s *execStream) finalize() {
	s.mu.Lock()
	if s.result != nil {
		s.mu.Unlock()
		return
	}
	timedOut := s.timedOut
	s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.ec.Close()

	exitCode := -1
	if !timedOut {
		if status, err := s.c.conn.ExecInspect(s.execID); err == nil {
			exitCode = status.ExitCode
		}
	}

	s.mu.Lock()
	s.result = &pocketdock.ExecResult{
		ExitCode: exitCode,
		Stdout:   s.stdout.String(),
		Stderr:   s.stderr.String(),
		Duration: time.Since(s.start),
		TimedOut: timedOut,
	}
	s.done = true
	s.mu.Unlock()

	s.c.removeStream(s)
}

// teardown releases the connection after a mid-stream error.
func (s *execStream) teardown() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.ec.Close()
	s.c.removeStream(s)
}
