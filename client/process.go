package client

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"code.cloudfoundry.org/lager/v3"

	"github.com/deftio/pocketdock"
	"github.com/deftio/pocketdock/client/connection"
)

const killGracePeriod = 500 * time.Millisecond

// process is a detached exec. A reaper goroutine reads the stream,
// feeds the ring buffer, fans out to the container's callbacks, and
// latches the final result on EOF.
type process struct {
	execID string
	c      *container
	ec     connection.ExecConn
	buffer *ringBuffer
	start  time.Time
	log    lager.Logger

	mu     sync.Mutex
	result pocketdock.ExecResult
	done   chan struct{}
}

func newProcess(c *container, execID string, ec connection.ExecConn, bufferCapacity int) *process {
	p := &process{
		execID: execID,
		c:      c,
		ec:     ec,
		buffer: newRingBuffer(bufferCapacity),
		start:  time.Now(),
		log:    c.log.Session("process", lager.Data{"exec": execID}),
		done:   make(chan struct{}),
	}
	go p.reap()
	return p
}

func (p *process) ID() string {
	return p.execID
}

func (p *process) IsRunning() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *process) Read() pocketdock.BufferSnapshot {
	return p.buffer.read()
}

func (p *process) Peek() pocketdock.BufferSnapshot {
	return p.buffer.peek()
}

func (p *process) BufferSize() int {
	return p.buffer.size()
}

func (p *process) BufferOverflow() bool {
	return p.buffer.overflowed()
}

// Kill sends a signal to the exec's root process via a side-channel
// exec. Asynchronous with respect to the reaper; Wait synchronizes
// with the final exit-code resolution.
func (p *process) Kill(signal int) error {
	if !p.IsRunning() {
		return nil
	}

	status, err := p.c.conn.ExecInspect(p.execID)
	if err != nil {
		return err
	}
	if status.Pid <= 0 {
		return nil
	}

	return p.c.execQuiet([]string{"kill", fmt.Sprintf("-%d", signal), strconv.Itoa(status.Pid)})
}

func (p *process) Wait(timeout time.Duration) (pocketdock.ExecResult, error) {
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-p.done:
		case <-timer.C:
			return pocketdock.ExecResult{}, errors.New("timed out waiting for detached process")
		}
	} else {
		<-p.done
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result, nil
}

func (p *process) reap() {
	var readErr error
	for {
		kind, payload, err := p.ec.ReadFrame()
		if err != nil {
			if err != io.EOF {
				readErr = err
			}
			break
		}

		p.buffer.write(kind, payload)
		p.c.callbacks.dispatchOutput(kind, p.c, string(payload))
	}

	p.ec.Close()

	exitCode := -1
	if status, err := p.c.conn.ExecInspect(p.execID); err == nil {
		exitCode = status.ExitCode
	} else {
		p.log.Debug("exec-inspect-failed", lager.Data{"error": err.Error()})
	}
	if readErr != nil {
		p.log.Debug("stream-ended-with-error", lager.Data{"error": readErr.Error()})
	}

	snapshot := p.buffer.peek()
	p.mu.Lock()
	p.result = pocketdock.ExecResult{
		ExitCode: exitCode,
		Stdout:   snapshot.Stdout,
		Stderr:   snapshot.Stderr,
		Duration: time.Since(p.start),
	}
	p.mu.Unlock()
	close(p.done)

	p.c.callbacks.dispatchExit(p.c, exitCode)
	p.c.removeProcess(p)
}

// stop is the shutdown path: signal, wait briefly, then drop the
// connection so the reaper unblocks.
func (p *process) stop() error {
	if !p.IsRunning() {
		return nil
	}

	killErr := p.Kill(15)

	timer := time.NewTimer(killGracePeriod)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}

	p.Kill(9)
	p.ec.Close()

	select {
	case <-p.done:
	case <-time.After(killGracePeriod):
	}
	return killErr
}
