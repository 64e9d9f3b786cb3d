package connection

import (
	"net"
	"net/http"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/deftio/pocketdock"
)

var _ = Describe("socket detection", func() {
	var tmpDir string

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	serveFakeEngine := func(socketPath string) {
		listener, err := net.Listen("unix", socketPath)
		Expect(err).NotTo(HaveOccurred())

		mux := http.NewServeMux()
		mux.HandleFunc("/_ping", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		server := &http.Server{Handler: mux}
		go server.Serve(listener)
		DeferCleanup(server.Close)
	}

	Describe("candidateSockets", func() {
		It("probes the environment override first", func() {
			GinkgoT().Setenv(SocketEnv, "/custom/engine.sock")

			candidates := candidateSockets()
			Expect(candidates[0]).To(Equal("/custom/engine.sock"))
		})

		It("prefers rootless Podman, then system Podman, then Docker", func() {
			GinkgoT().Setenv(SocketEnv, "")
			GinkgoT().Setenv("XDG_RUNTIME_DIR", "/run/user/1234")

			candidates := candidateSockets()
			Expect(candidates).To(ContainElements(
				"/run/user/1234/podman/podman.sock",
				"/run/podman/podman.sock",
				"/var/run/docker.sock",
			))
			Expect(candidates[0]).To(Equal("/run/user/1234/podman/podman.sock"))
		})
	})

	Describe("DetectSocket", func() {
		It("returns the env-var socket when it answers /_ping", func() {
			socketPath := filepath.Join(tmpDir, "podman.sock")
			serveFakeEngine(socketPath)
			GinkgoT().Setenv(SocketEnv, socketPath)

			detected, err := DetectSocket()
			Expect(err).NotTo(HaveOccurred())
			Expect(detected).To(Equal(socketPath))
		})

		It("skips a dead env-var socket and finds the rootless Podman one", func() {
			GinkgoT().Setenv(SocketEnv, filepath.Join(tmpDir, "dead.sock"))
			GinkgoT().Setenv("XDG_RUNTIME_DIR", tmpDir)

			socketPath := filepath.Join(tmpDir, "podman", "podman.sock")
			Expect(os.MkdirAll(filepath.Dir(socketPath), 0o755)).To(Succeed())
			serveFakeEngine(socketPath)

			detected, err := DetectSocket()
			Expect(err).NotTo(HaveOccurred())
			Expect(detected).To(Equal(socketPath))
		})

		It("fails with the probed list and a platform hint when nothing answers", func() {
			if _, err := os.Stat("/var/run/docker.sock"); err == nil {
				Skip("a real Docker socket is present on this host")
			}
			if _, err := os.Stat("/run/podman/podman.sock"); err == nil {
				Skip("a real Podman socket is present on this host")
			}
			GinkgoT().Setenv(SocketEnv, filepath.Join(tmpDir, "missing.sock"))
			GinkgoT().Setenv("XDG_RUNTIME_DIR", tmpDir)

			_, err := DetectSocket()
			Expect(err).To(BeAssignableToTypeOf(pocketdock.EngineUnavailableError{}))

			unavailable := err.(pocketdock.EngineUnavailableError)
			Expect(unavailable.Probed).To(ContainElement(filepath.Join(tmpDir, "missing.sock")))
			Expect(unavailable.Hint).NotTo(BeEmpty())
			Expect(err.Error()).To(ContainSubstring("probed"))
		})
	})
})
