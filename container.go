package pocketdock

import "time"

// Container is a long-lived handle bound to one engine-side container.
//
// A Container may host any number of simultaneous operations; each
// operation owns its own connection to the engine socket, so a blocking
// Run never starves a concurrent Info or Stream.
type Container interface {
	// ID returns the full container id (hex) as reported by the engine.
	ID() string

	// Name returns the container name (e.g. "pd-a1b2c3d4").
	Name() string

	// SocketPath returns the engine socket this handle speaks to.
	SocketPath() string

	// Persist reports whether Shutdown stops the container instead of
	// removing it.
	Persist() bool

	// Project returns the project label value, or "".
	Project() string

	// DataPath returns the instance data directory, or "".
	DataPath() string

	// Run executes a command and blocks until it exits, the stream ends,
	// or the timeout expires. On timeout the result carries exit code -1,
	// TimedOut=true, and whatever output arrived before expiry.
	Run(spec ProcessSpec) (ExecResult, error)

	// Stream executes a command and returns a single-pass iterator over
	// its output chunks. Consuming the iterator runs the command to
	// completion; the final ExecResult is available afterwards.
	Stream(spec ProcessSpec) (ExecStream, error)

	// Detach executes a command in the background and returns a Process
	// handle whose output accumulates in a ring buffer and fans out to
	// the callbacks registered on this container.
	Detach(spec ProcessSpec) (Process, error)

	// Session opens a persistent shell with stdin attached. Commands sent
	// through the session share shell state (cwd, exported variables).
	Session() (Session, error)

	// WriteFile writes content to path inside the container, creating
	// parent directories as needed.
	WriteFile(path string, content []byte) error

	// ReadFile reads a file from inside the container.
	ReadFile(path string) ([]byte, error)

	// ListFiles lists the entries of a directory inside the container.
	ListFiles(path string) ([]string, error)

	// Push copies a host file or directory tree into the container.
	Push(src, dst string) error

	// Pull copies a container file or directory tree to the host.
	Pull(src, dst string) error

	// Info queries the engine for a live snapshot of container state and
	// resource usage. Never served from cache.
	Info() (ContainerInfo, error)

	// Reboot restarts the container in place. With fresh=true the
	// container is removed and recreated from the same spec; the handle's
	// id changes, the name and limits are retained.
	Reboot(fresh bool) error

	// Snapshot commits the container filesystem as a new image and
	// returns the image id.
	Snapshot(imageName string) (string, error)

	// OnStdout registers a callback invoked for every stdout chunk
	// produced by any detached process on this container.
	OnStdout(fn OutputCallback)

	// OnStderr registers a callback for detached stderr chunks.
	OnStderr(fn OutputCallback)

	// OnExit registers a callback invoked once per detached process exit.
	OnExit(fn ExitCallback)

	// Shutdown tears down every active stream, detached process, and
	// session, then stops the container and, unless Persist is set,
	// removes it. Teardown continues past individual failures; the
	// returned error aggregates them.
	Shutdown() error
}

// OutputCallback receives the container handle and one chunk of output.
// Callbacks run on the operation's reader goroutine; anything beyond
// posting to a queue should be offloaded by the callback itself.
type OutputCallback func(container Container, data string)

// ExitCallback receives the container handle and a process exit code.
type ExitCallback func(container Container, exitCode int)

// Process is a handle to a detached exec.
type Process interface {
	// ID returns the engine exec id.
	ID() string

	// IsRunning reports whether the process has not yet exited.
	IsRunning() bool

	// Read drains the ring buffer and returns the snapshot.
	Read() BufferSnapshot

	// Peek returns the buffered output without draining it.
	Peek() BufferSnapshot

	// BufferSize returns the current number of buffered bytes.
	BufferSize() int

	// BufferOverflow reports whether any output was evicted.
	BufferOverflow() bool

	// Kill sends a signal to the exec's root process.
	Kill(signal int) error

	// Wait blocks until the process exits or the timeout expires, then
	// returns the final result. A zero timeout waits indefinitely.
	Wait(timeout time.Duration) (ExecResult, error)
}

// ExecStream iterates over the output of a streaming run. It is finite
// and not restartable.
type ExecStream interface {
	// Next blocks until a chunk arrives, returning io.EOF when the
	// stream ends.
	Next() (StreamChunk, error)

	// Result returns the final ExecResult. It errors until the stream
	// has been consumed to EOF.
	Result() (ExecResult, error)

	// Close cancels the stream: the connection is closed and the exec is
	// killed best-effort.
	Close() error
}

// Session is a persistent shell inside the container.
//
// Commands that consume stdin themselves (cat with no arguments, less)
// swallow the sentinel bytes before the shell sees them; SendAndWait on
// such commands times out. This is a documented caveat, not detected.
type Session interface {
	// ID returns the engine exec id backing the session.
	ID() string

	// Send writes a command to the shell without waiting for completion.
	Send(command string) error

	// SendAndWait sends a command followed by a sentinel and blocks until
	// the sentinel appears in the output or the timeout expires. A zero
	// timeout waits indefinitely.
	SendAndWait(command string, timeout time.Duration) (ExecResult, error)

	// Read drains and returns accumulated output.
	Read() string

	// OnOutput registers a callback for session output.
	OnOutput(fn func(data string))

	// Resize resizes the session's terminal.
	Resize(height, width int) error

	// Close terminates the shell. Further calls fail with
	// SessionClosedError.
	Close() error
}
