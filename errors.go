package pocketdock

import (
	"fmt"
	"strings"
)

// EngineUnavailableError means socket auto-detection exhausted every
// candidate path without finding a responsive engine.
type EngineUnavailableError struct {
	Probed []string
	Hint   string
}

func (e EngineUnavailableError) Error() string {
	msg := "no container engine socket found"
	if len(e.Probed) > 0 {
		msg += "; probed: " + strings.Join(e.Probed, ", ")
	}
	if e.Hint != "" {
		msg += ". " + e.Hint
	}
	return msg
}

// SocketConnectionError means a specific socket path could not be
// connected to.
type SocketConnectionError struct {
	Path string
	Err  error
}

func (e SocketConnectionError) Error() string {
	return fmt.Sprintf("cannot connect to socket at %s: %s", e.Path, e.Err)
}

func (e SocketConnectionError) Unwrap() error { return e.Err }

// SocketCommunicationError means a protocol-level failure: malformed
// response, mid-stream disconnect, or an unexpected engine status.
type SocketCommunicationError struct {
	Op     string
	Detail string
}

func (e SocketCommunicationError) Error() string {
	if e.Op == "" {
		return "socket communication error: " + e.Detail
	}
	return fmt.Sprintf("socket communication error during %s: %s", e.Op, e.Detail)
}

// ContainerNotFoundError means the engine returned 404 for the
// container. Terminal for the handle: Reboot cannot recover it.
type ContainerNotFoundError struct {
	Handle string
}

func (e ContainerNotFoundError) Error() string {
	return fmt.Sprintf("container %s not found", e.Handle)
}

// ContainerNotRunningError means the engine returned 409 because the
// container is stopped. Recoverable by Reboot or resume.
type ContainerNotRunningError struct {
	Handle   string
	Status   string
	ExitCode int
}

func (e ContainerNotRunningError) Error() string {
	msg := fmt.Sprintf("container %s is not running", e.Handle)
	if e.Status != "" {
		msg += fmt.Sprintf(" (status %s, exit code %d)", e.Status, e.ExitCode)
	}
	return msg
}

// ContainerGoneError means a previously-valid handle's container was
// removed externally: an operation found a 404 where the id was known
// to exist.
type ContainerGoneError struct {
	Handle string
}

func (e ContainerGoneError) Error() string {
	return fmt.Sprintf("container %s was removed externally", e.Handle)
}

// ImageNotFoundError means create failed because the image is not
// present locally.
type ImageNotFoundError struct {
	Image string
}

func (e ImageNotFoundError) Error() string {
	return fmt.Sprintf("image not found: %s (try: pocketdock build)", e.Image)
}

// SessionClosedError means an operation was attempted on a closed
// session.
type SessionClosedError struct{}

func (SessionClosedError) Error() string {
	return "session is closed"
}

// ProjectNotInitializedError means a project-scoped operation ran
// outside a .pocketdock/ project.
type ProjectNotInitializedError struct{}

func (ProjectNotInitializedError) Error() string {
	return "no .pocketdock/ project found; run `pocketdock init` first"
}
