package client

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/lager/v3"
	"github.com/google/uuid"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/deftio/pocketdock"
	"github.com/deftio/pocketdock/client/connection"
)

const stopTimeoutSeconds = 10

var errShuttingDown = errors.New("container is shutting down")

// container implements pocketdock.Container. It owns its active
// operations; operations hold a back-reference for callback dispatch
// and deregistration.
type container struct {
	conn connection.Connection
	log  lager.Logger

	spec      pocketdock.ContainerSpec // resolved: image and name filled in
	createdAt string

	mu        sync.Mutex
	id        string
	shutdown  bool
	streams   map[*execStream]struct{}
	processes map[*process]struct{}
	sessions  map[*session]struct{}
	conns     map[connection.ExecConn]struct{}

	callbacks *callbackRegistry
}

func newContainer(conn connection.Connection, logger lager.Logger, id string, spec pocketdock.ContainerSpec, createdAt string) *container {
	log := logger.Session("container", lager.Data{"name": spec.Name})
	return &container{
		conn:      conn,
		log:       log,
		spec:      spec,
		createdAt: createdAt,
		id:        id,
		streams:   map[*execStream]struct{}{},
		processes: map[*process]struct{}{},
		sessions:  map[*session]struct{}{},
		conns:     map[connection.ExecConn]struct{}{},
		callbacks: newCallbackRegistry(log),
	}
}

func (c *container) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *container) Name() string       { return c.spec.Name }
func (c *container) SocketPath() string { return c.conn.SocketPath() }
func (c *container) Persist() bool      { return c.spec.Persist }
func (c *container) Project() string    { return c.spec.Project }
func (c *container) DataPath() string   { return c.spec.DataPath }

// buildCommand wraps a user command for exec. A lang shorthand selects
// an interpreter; the default is a shell invocation.
func buildCommand(command, lang string) []string {
	switch lang {
	case "":
		return []string{"sh", "-c", command}
	case "python":
		return []string{"python3", "-c", command}
	default:
		return []string{lang, "-c", command}
	}
}

func (c *container) Run(spec pocketdock.ProcessSpec) (pocketdock.ExecResult, error) {
	start := time.Now()
	timeout := spec.Timeout
	if timeout == 0 {
		timeout = c.spec.Timeout
	}
	maxOutput := spec.MaxOutput
	if maxOutput == 0 {
		maxOutput = pocketdock.DefaultMaxOutput
	}

	execID, ec, err := c.startExec(buildCommand(spec.Command, spec.Lang), false)
	if err != nil {
		return pocketdock.ExecResult{}, err
	}
	if err := c.addConn(ec); err != nil {
		ec.Close()
		return pocketdock.ExecResult{}, err
	}
	defer c.removeConn(ec)
	defer ec.Close()

	done := make(chan accumResult, 1)
	go func() { done <- accumulate(ec, maxOutput) }()

	var res accumResult
	timedOut := false
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case res = <-done:
		case <-timer.C:
			timedOut = true
			ec.Close()
			c.killExec(execID)
			res = <-done
		}
	} else {
		res = <-done
	}

	if timedOut {
		return pocketdock.ExecResult{
			ExitCode:  -1,
			Stdout:    string(res.stdout),
			Stderr:    string(res.stderr),
			Duration:  time.Since(start),
			TimedOut:  true,
			Truncated: res.truncated,
		}, nil
	}
	if res.err != nil {
		return pocketdock.ExecResult{}, res.err
	}

	status, err := c.conn.ExecInspect(execID)
	if err != nil {
		return pocketdock.ExecResult{}, err
	}

	return pocketdock.ExecResult{
		ExitCode:  status.ExitCode,
		Stdout:    string(res.stdout),
		Stderr:    string(res.stderr),
		Duration:  time.Since(start),
		Truncated: res.truncated,
	}, nil
}

func (c *container) Stream(spec pocketdock.ProcessSpec) (pocketdock.ExecStream, error) {
	timeout := spec.Timeout
	if timeout == 0 {
		timeout = c.spec.Timeout
	}

	execID, ec, err := c.startExec(buildCommand(spec.Command, spec.Lang), false)
	if err != nil {
		return nil, err
	}

	s := newExecStream(c, execID, ec, timeout)
	if err := c.addStream(s); err != nil {
		ec.Close()
		return nil, err
	}
	return s, nil
}

func (c *container) Detach(spec pocketdock.ProcessSpec) (pocketdock.Process, error) {
	execID, ec, err := c.startExec(buildCommand(spec.Command, spec.Lang), false)
	if err != nil {
		return nil, err
	}

	capacity := int(spec.MaxOutput)
	if capacity == 0 {
		capacity = pocketdock.DefaultBufferCapacity
	}

	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		ec.Close()
		return nil, errShuttingDown
	}
	p := newProcess(c, execID, ec, capacity)
	c.processes[p] = struct{}{}
	c.mu.Unlock()

	return p, nil
}

func (c *container) Session() (pocketdock.Session, error) {
	execID, ec, err := c.startExecCmd(connection.ExecCreateRequest{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
		Cmd:          []string{"/bin/sh"},
	})
	if err != nil {
		return nil, err
	}

	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]

	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		ec.Close()
		return nil, errShuttingDown
	}
	s := newSession(c, execID, ec, token)
	c.sessions[s] = struct{}{}
	c.mu.Unlock()

	return s, nil
}

// startExec is the common prelude: exec-create without stdin, stdout
// and stderr attached, TTY off so the engine multiplexes.
func (c *container) startExec(cmd []string, attachStdin bool) (string, connection.ExecConn, error) {
	return c.startExecCmd(connection.ExecCreateRequest{
		AttachStdin:  attachStdin,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
		Cmd:          cmd,
	})
}

func (c *container) startExecCmd(req connection.ExecCreateRequest) (string, connection.ExecConn, error) {
	execID, err := c.conn.ExecCreate(c.ID(), req)
	if err != nil {
		return "", nil, c.gone(err)
	}
	ec, err := c.conn.ExecStart(execID, req.Tty)
	if err != nil {
		return "", nil, c.gone(err)
	}
	return execID, ec, nil
}

// gone rewrites a not-found into gone: this handle's id was known to
// exist, so a 404 means the container was removed externally. A bare
// not-running error gets the current status and exit code filled in
// from inspect.
func (c *container) gone(err error) error {
	var notFound pocketdock.ContainerNotFoundError
	if errors.As(err, &notFound) {
		return pocketdock.ContainerGoneError{Handle: c.spec.Name}
	}

	var notRunning pocketdock.ContainerNotRunningError
	if errors.As(err, &notRunning) && notRunning.Status == "" {
		if details, inspectErr := c.conn.InspectContainer(c.ID()); inspectErr == nil {
			notRunning.Status = details.State.Status
			notRunning.ExitCode = details.State.ExitCode
			return notRunning
		}
	}
	return err
}

// killExec signals an exec's root process from a side channel: SIGTERM
// first, SIGKILL after a grace period if it is still running.
func (c *container) killExec(execID string) {
	status, err := c.conn.ExecInspect(execID)
	if err != nil || status.Pid <= 0 {
		return
	}
	pid := strconv.Itoa(status.Pid)

	c.execQuiet([]string{"kill", "-15", pid})
	time.Sleep(killGracePeriod)
	if status, err := c.conn.ExecInspect(execID); err == nil && status.Running {
		c.execQuiet([]string{"kill", "-9", pid})
	}
}

// execQuiet runs a short command and discards its output.
func (c *container) execQuiet(cmd []string) error {
	execID, err := c.conn.ExecCreate(c.ID(), connection.ExecCreateRequest{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
	})
	if err != nil {
		return err
	}
	ec, err := c.conn.ExecStart(execID, false)
	if err != nil {
		return err
	}
	defer ec.Close()
	for {
		if _, _, err := ec.ReadFrame(); err != nil {
			return nil
		}
	}
}

func (c *container) WriteFile(path string, content []byte) error {
	dir, name := splitContainerPath(path)

	if result, err := c.Run(pocketdock.ProcessSpec{Command: "mkdir -p " + dir}); err != nil {
		return err
	} else if !result.Ok() {
		return fmt.Errorf("mkdir -p %s failed: %s", dir, strings.TrimSpace(result.Stderr))
	}

	tarData, err := connection.PackFileArchive(name, content)
	if err != nil {
		return err
	}
	return c.gone(c.conn.ArchivePut(c.ID(), dir, tarData))
}

func (c *container) ReadFile(path string) ([]byte, error) {
	tarData, err := c.conn.ArchiveGet(c.ID(), path)
	if err != nil {
		return nil, c.gone(err)
	}
	return connection.ExtractFileArchive(tarData)
}

func (c *container) ListFiles(path string) ([]string, error) {
	result, err := c.Run(pocketdock.ProcessSpec{Command: "ls -A " + path})
	if err != nil {
		return nil, err
	}
	if !result.Ok() {
		return nil, fmt.Errorf("ls %s failed: %s", path, strings.TrimSpace(result.Stderr))
	}

	entries := []string{}
	for _, line := range strings.Split(result.Stdout, "\n") {
		if line != "" {
			entries = append(entries, line)
		}
	}
	return entries, nil
}

func (c *container) Push(src, dst string) error {
	dir, name := splitContainerPath(dst)

	if result, err := c.Run(pocketdock.ProcessSpec{Command: "mkdir -p " + dir}); err != nil {
		return err
	} else if !result.Ok() {
		return fmt.Errorf("mkdir -p %s failed: %s", dir, strings.TrimSpace(result.Stderr))
	}

	tarData, err := connection.PackPathArchive(src, name)
	if err != nil {
		return err
	}
	return c.gone(c.conn.ArchivePut(c.ID(), dir, tarData))
}

func (c *container) Pull(src, dst string) error {
	tarData, err := c.conn.ArchiveGet(c.ID(), src)
	if err != nil {
		return c.gone(err)
	}
	return connection.ExtractArchive(tarData, dst)
}

// Info issues inspect, stats, and top concurrently and composes the
// snapshot. Stats and top are best-effort: a stopped container yields
// inspect data only.
func (c *container) Info() (pocketdock.ContainerInfo, error) {
	id := c.ID()

	var (
		wg      sync.WaitGroup
		details connection.ContainerDetails
		stats   connection.Stats
		top     connection.TopResponse

		inspectErr, statsErr, topErr error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		details, inspectErr = c.conn.InspectContainer(id)
	}()
	go func() {
		defer wg.Done()
		stats, statsErr = c.conn.ContainerStats(id)
	}()
	go func() {
		defer wg.Done()
		top, topErr = c.conn.ContainerTop(id)
	}()
	wg.Wait()

	if inspectErr != nil {
		return pocketdock.ContainerInfo{}, c.gone(inspectErr)
	}

	var statsPtr *connection.Stats
	if statsErr == nil {
		statsPtr = &stats
	}
	var topPtr *connection.TopResponse
	if topErr == nil {
		topPtr = &top
	}
	return buildContainerInfo(c.spec.Name, details, statsPtr, topPtr), nil
}

func (c *container) Reboot(fresh bool) error {
	if !fresh {
		return c.gone(c.conn.RestartContainer(c.ID(), stopTimeoutSeconds))
	}

	id := c.ID()
	if err := c.conn.StopContainer(id, stopTimeoutSeconds); err != nil && !ignorableTeardownError(err) {
		return err
	}
	if err := c.conn.RemoveContainer(id, true); err != nil && !ignorableTeardownError(err) {
		return err
	}

	req, err := buildCreateRequest(c.spec, buildLabels(c.spec, c.createdAt))
	if err != nil {
		return err
	}
	newID, err := c.conn.CreateContainer(req)
	if err != nil {
		return err
	}
	if err := c.conn.StartContainer(newID); err != nil {
		return err
	}

	c.mu.Lock()
	c.id = newID
	c.mu.Unlock()
	c.log.Info("fresh-reboot", lager.Data{"id": newID})
	return nil
}

func (c *container) Snapshot(imageName string) (string, error) {
	repo, tag := imageName, "latest"
	if idx := strings.LastIndexByte(imageName, ':'); idx > 0 {
		repo, tag = imageName[:idx], imageName[idx+1:]
	}
	imageID, err := c.conn.Commit(c.ID(), repo, tag)
	if err != nil {
		return "", c.gone(err)
	}
	return imageID, nil
}

func (c *container) OnStdout(fn pocketdock.OutputCallback) { c.callbacks.onStdout(fn) }
func (c *container) OnStderr(fn pocketdock.OutputCallback) { c.callbacks.onStderr(fn) }
func (c *container) OnExit(fn pocketdock.ExitCallback)     { c.callbacks.onExit(fn) }

// Shutdown drains the active-operation sets atomically, then tears
// down in order: detached processes, streams, sessions, container
// stop, container remove (unless persistent), remaining connections.
// Teardown continues past failures; the returned error aggregates
// them.
func (c *container) Shutdown() error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	procs := c.processes
	streams := c.streams
	sessions := c.sessions
	conns := c.conns
	c.processes = map[*process]struct{}{}
	c.streams = map[*execStream]struct{}{}
	c.sessions = map[*session]struct{}{}
	c.conns = map[connection.ExecConn]struct{}{}
	id := c.id
	c.mu.Unlock()

	var errs *multierror.Error

	for p := range procs {
		if err := p.stop(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("stopping detached process %s: %w", p.ID(), err))
		}
	}
	for s := range streams {
		if err := s.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("closing stream %s: %w", s.execID, err))
		}
	}
	for s := range sessions {
		if err := s.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("closing session %s: %w", s.ID(), err))
		}
	}

	if err := c.conn.StopContainer(id, stopTimeoutSeconds); err != nil && !ignorableTeardownError(err) {
		errs = multierror.Append(errs, fmt.Errorf("stopping container: %w", err))
	}

	if !c.spec.Persist {
		if err := c.conn.RemoveContainer(id, true); err != nil && !ignorableTeardownError(err) {
			errs = multierror.Append(errs, fmt.Errorf("removing container: %w", err))
		}
	}

	for conn := range conns {
		conn.Close()
	}

	if err := errs.ErrorOrNil(); err != nil {
		c.log.Error("shutdown-errors", err)
		return err
	}
	return nil
}

// ignorableTeardownError reports errors that mean the work is already
// done: the container is gone or already stopped.
func ignorableTeardownError(err error) bool {
	var notFound pocketdock.ContainerNotFoundError
	var notRunning pocketdock.ContainerNotRunningError
	var gone pocketdock.ContainerGoneError
	return errors.As(err, &notFound) || errors.As(err, &notRunning) || errors.As(err, &gone)
}

// Operation registry. Registration fails once shutdown has begun so
// late operations are rejected deterministically.

func (c *container) addStream(s *execStream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return errShuttingDown
	}
	c.streams[s] = struct{}{}
	return nil
}

func (c *container) removeStream(s *execStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.streams, s)
}

func (c *container) removeProcess(p *process) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.processes, p)
}

func (c *container) removeSession(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, s)
}

func (c *container) addConn(ec connection.ExecConn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return errShuttingDown
	}
	c.conns[ec] = struct{}{}
	return nil
}

func (c *container) removeConn(ec connection.ExecConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, ec)
}

// accumulate reads an exec stream to completion, capping accumulated
// output. Reading stops once the cap is hit; the truncated flag is
// set.
type accumResult struct {
	stdout    []byte
	stderr    []byte
	truncated bool
	err       error
}

func accumulate(ec connection.ExecConn, maxOutput int64) accumResult {
	var res accumResult
	var total int64
	for {
		kind, payload, err := ec.ReadFrame()
		if err == io.EOF {
			return res
		}
		if err != nil {
			res.err = err
			return res
		}

		if total+int64(len(payload)) > maxOutput {
			remaining := maxOutput - total
			if remaining > 0 {
				payload = payload[:remaining]
			} else {
				payload = nil
			}
			res.truncated = true
		}
		total += int64(len(payload))

		if kind == pocketdock.StderrStream {
			res.stderr = append(res.stderr, payload...)
		} else {
			res.stdout = append(res.stdout, payload...)
		}

		if res.truncated {
			return res
		}
	}
}

// splitContainerPath splits an absolute container path into its parent
// directory and basename.
func splitContainerPath(path string) (dir, name string) {
	trimmed := strings.TrimRight(path, "/")
	idx := strings.LastIndexByte(trimmed, '/')
	if idx <= 0 {
		return "/", strings.TrimPrefix(trimmed, "/")
	}
	return trimmed[:idx], trimmed[idx+1:]
}
