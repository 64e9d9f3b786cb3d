package connection

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/deftio/pocketdock"
)

// SocketEnv overrides socket auto-detection when set.
const SocketEnv = "POCKETDOCK_SOCKET"

// DetectSocket probes candidate engine sockets in order and returns the
// first one that answers GET /_ping. Probe order: $POCKETDOCK_SOCKET,
// rootless Podman, system Podman, Docker, then the platform-specific
// Podman-machine / Docker Desktop paths on macOS.
func DetectSocket() (string, error) {
	probed := []string{}
	for _, candidate := range candidateSockets() {
		probed = append(probed, candidate)
		if ping(candidate) == nil {
			return candidate, nil
		}
	}
	return "", pocketdock.EngineUnavailableError{
		Probed: probed,
		Hint:   platformHint(),
	}
}

func candidateSockets() []string {
	candidates := []string{}

	if explicit := os.Getenv(SocketEnv); explicit != "" {
		candidates = append(candidates, explicit)
	}

	xdg := os.Getenv("XDG_RUNTIME_DIR")
	if xdg == "" {
		xdg = fmt.Sprintf("/run/user/%d", os.Getuid())
	}
	candidates = append(candidates,
		filepath.Join(xdg, "podman", "podman.sock"),
		"/run/podman/podman.sock",
		"/var/run/docker.sock",
	)

	if runtime.GOOS == "darwin" {
		if home, err := os.UserHomeDir(); err == nil {
			candidates = append(candidates,
				filepath.Join(home, ".local", "share", "containers", "podman", "machine", "podman.sock"),
				filepath.Join(home, ".docker", "run", "docker.sock"),
			)
		}
	}

	return candidates
}

func ping(socketPath string) error {
	w, err := dialWire(socketPath)
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.writeRequest("GET", "/_ping", nil, ""); err != nil {
		return err
	}
	status, headers, err := w.readResponse()
	if err != nil {
		return err
	}
	if _, err := w.readBody(headers); err != nil {
		return err
	}
	if status != 200 {
		return pocketdock.SocketCommunicationError{
			Op:     "ping",
			Detail: fmt.Sprintf("HTTP %d", status),
		}
	}
	return nil
}

func platformHint() string {
	if runtime.GOOS == "darwin" {
		return "Is Podman or Docker running? Try: podman machine start, or start Docker Desktop"
	}
	return "Is Podman or Docker running? Try: systemctl --user start podman.socket"
}
