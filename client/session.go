package client

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/lager/v3"

	"github.com/deftio/pocketdock"
	"github.com/deftio/pocketdock/client/connection"
)

var sentinelPattern = regexp.MustCompile(`__PD_([0-9a-f]+)_(\d+)_(\d+)__`)

// waiter is one SendAndWait in flight. The reader resolves it when the
// matching sentinel appears in the output stream.
type waiter struct {
	seq   int
	ch    chan waiterResult
	start time.Time
}

type waiterResult struct {
	exitCode int
	stdout   string
	stderr   string
}

// session is a persistent /bin/sh exec with stdin attached. A reader
// goroutine demultiplexes output into the accumulator, fires output
// callbacks, and scans stdout for command-boundary sentinels.
type session struct {
	execID string
	c      *container
	ec     connection.ExecConn
	token  string // 16 hex chars, fixed for the session's lifetime
	log    lager.Logger

	// outMu guards the accumulator and callbacks; waitMu guards the
	// waiter table, sequence counter, and per-command segment buffers.
	outMu    sync.Mutex
	output   strings.Builder
	onOutput []func(string)

	waitMu    sync.Mutex
	seq       int
	waiters   map[int]*waiter
	segStdout strings.Builder
	segStderr strings.Builder

	closeMu sync.Mutex
	closed  bool

	readerDone chan struct{}
}

func newSession(c *container, execID string, ec connection.ExecConn, token string) *session {
	s := &session{
		execID:     execID,
		c:          c,
		ec:         ec,
		token:      token,
		log:        c.log.Session("session", lager.Data{"exec": execID}),
		waiters:    map[int]*waiter{},
		readerDone: make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *session) ID() string {
	return s.execID
}

func (s *session) Send(command string) error {
	if s.isClosed() {
		return pocketdock.SessionClosedError{}
	}
	_, err := io.WriteString(s.ec, command+"\n")
	return err
}

// SendAndWait appends a sentinel print to the command; the shell
// substitutes $? so the sentinel carries the command's exit code. The
// reader resolves the matching waiter when the sentinel appears.
func (s *session) SendAndWait(command string, timeout time.Duration) (pocketdock.ExecResult, error) {
	if s.isClosed() {
		return pocketdock.ExecResult{}, pocketdock.SessionClosedError{}
	}

	s.waitMu.Lock()
	s.seq++
	w := &waiter{
		seq:   s.seq,
		ch:    make(chan waiterResult, 1),
		start: time.Now(),
	}
	s.waiters[w.seq] = w
	s.waitMu.Unlock()

	line := fmt.Sprintf("%s; printf \"\\n__PD_%s_%d_$?__\\n\"\n", command, s.token, w.seq)
	if _, err := io.WriteString(s.ec, line); err != nil {
		s.dropWaiter(w.seq)
		return pocketdock.ExecResult{}, err
	}

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case res := <-w.ch:
		return pocketdock.ExecResult{
			ExitCode: res.exitCode,
			Stdout:   res.stdout,
			Stderr:   res.stderr,
			Duration: time.Since(w.start),
		}, nil
	case <-timerC:
		s.dropWaiter(w.seq)
		s.waitMu.Lock()
		stdout := s.segStdout.String()
		stderr := s.segStderr.String()
		s.waitMu.Unlock()
		return pocketdock.ExecResult{
			ExitCode: -1,
			Stdout:   stdout,
			Stderr:   stderr,
			Duration: time.Since(w.start),
			TimedOut: true,
		}, nil
	}
}

// Read drains and returns the accumulated output.
func (s *session) Read() string {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	text := s.output.String()
	s.output.Reset()
	return text
}

func (s *session) OnOutput(fn func(data string)) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	s.onOutput = append(s.onOutput, fn)
}

func (s *session) Resize(height, width int) error {
	if s.isClosed() {
		return pocketdock.SessionClosedError{}
	}
	return s.c.conn.ExecResize(s.execID, height, width)
}

// Close terminates the shell exec and stops the reader. Idempotent.
func (s *session) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	s.ec.Close()
	<-s.readerDone
	s.c.removeSession(s)
	return nil
}

func (s *session) dropWaiter(seq int) {
	s.waitMu.Lock()
	delete(s.waiters, seq)
	s.waitMu.Unlock()
}

func (s *session) isClosed() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closed
}

func (s *session) readLoop() {
	defer close(s.readerDone)

	var lineBuf string
	for {
		kind, payload, err := s.ec.ReadFrame()
		if err != nil {
			if err != io.EOF && !s.isClosed() {
				s.log.Debug("session-stream-error", lager.Data{"error": err.Error()})
			}
			break
		}

		text := string(payload)
		if kind == pocketdock.StderrStream {
			s.emit(text, pocketdock.StderrStream)
			continue
		}

		lineBuf += text
		for {
			idx := strings.IndexByte(lineBuf, '\n')
			if idx < 0 {
				break
			}
			line := lineBuf[:idx]
			lineBuf = lineBuf[idx+1:]
			if s.consumeSentinel(line) {
				continue
			}
			s.emit(line+"\n", pocketdock.StdoutStream)
		}
	}

	if lineBuf != "" && !s.consumeSentinel(lineBuf) {
		s.emit(lineBuf, pocketdock.StdoutStream)
	}

	// The stream is gone: unblock every pending waiter.
	s.waitMu.Lock()
	pending := s.waiters
	s.waiters = map[int]*waiter{}
	stdout := s.segStdout.String()
	stderr := s.segStderr.String()
	s.segStdout.Reset()
	s.segStderr.Reset()
	s.waitMu.Unlock()

	for _, w := range pending {
		w.ch <- waiterResult{exitCode: -1, stdout: stdout, stderr: stderr}
	}
}

// consumeSentinel checks a stdout line for this session's sentinel.
// A matching line is swallowed; the waiter with the sentinel's
// sequence number gets the exit code plus the output segment since the
// previous sentinel. Sentinel-shaped text with a foreign token is
// ordinary output.
func (s *session) consumeSentinel(line string) bool {
	match := sentinelPattern.FindStringSubmatch(line)
	if match == nil || match[1] != s.token {
		return false
	}

	seq, err := strconv.Atoi(match[2])
	if err != nil {
		return false
	}
	exitCode, err := strconv.Atoi(match[3])
	if err != nil {
		return false
	}

	s.waitMu.Lock()
	w := s.waiters[seq]
	delete(s.waiters, seq)
	stdout := s.segStdout.String()
	stderr := s.segStderr.String()
	s.segStdout.Reset()
	s.segStderr.Reset()
	s.waitMu.Unlock()

	if w != nil {
		w.ch <- waiterResult{exitCode: exitCode, stdout: stdout, stderr: stderr}
	}
	return true
}

func (s *session) emit(text string, kind pocketdock.StreamKind) {
	s.waitMu.Lock()
	if len(s.waiters) > 0 {
		if kind == pocketdock.StderrStream {
			s.segStderr.WriteString(text)
		} else {
			s.segStdout.WriteString(text)
		}
	}
	s.waitMu.Unlock()

	s.outMu.Lock()
	s.output.WriteString(text)
	callbacks := make([]func(string), len(s.onOutput))
	copy(callbacks, s.onOutput)
	s.outMu.Unlock()

	for _, fn := range callbacks {
		s.invokeCallback(fn, text)
	}
}

func (s *session) invokeCallback(fn func(string), text string) {
	defer func() {
		if err := recover(); err != nil {
			s.log.Debug("output-callback-panicked", lager.Data{"error": err})
		}
	}()
	fn(text)
}
