package connection_test

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"code.cloudfoundry.org/lager/v3"
	"code.cloudfoundry.org/lager/v3/lagertest"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/deftio/pocketdock"
	"github.com/deftio/pocketdock/client/connection"
)

func mkFrame(tag byte, payload string) []byte {
	header := make([]byte, 8)
	header[0] = tag
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	return append(header, payload...)
}

// chunked wraps raw bytes in chunked transfer encoding with the given
// split points.
func chunked(data []byte, sizes ...int) []byte {
	var out bytes.Buffer
	rest := data
	for _, size := range sizes {
		if size > len(rest) {
			size = len(rest)
		}
		fmt.Fprintf(&out, "%x\r\n", size)
		out.Write(rest[:size])
		out.WriteString("\r\n")
		rest = rest[size:]
	}
	if len(rest) > 0 {
		fmt.Fprintf(&out, "%x\r\n", len(rest))
		out.Write(rest)
		out.WriteString("\r\n")
	}
	out.WriteString("0\r\n\r\n")
	return out.Bytes()
}

var _ = Describe("Connection", func() {
	var (
		engine *dummyEngine
		logger lager.Logger
		conn   connection.Connection
	)

	BeforeEach(func() {
		engine = newDummyEngine()
		logger = lagertest.NewTestLogger("test")
		conn = connection.New(engine.socketPath, logger)
	})

	Describe("Ping", func() {
		It("succeeds against a live engine", func() {
			engine.handle("/_ping", func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "OK")
			})
			Expect(conn.Ping()).To(Succeed())
		})

		It("fails with a connection error when no socket exists", func() {
			dead := connection.New("/nonexistent/engine.sock", logger)
			err := dead.Ping()
			Expect(err).To(BeAssignableToTypeOf(pocketdock.SocketConnectionError{}))
		})
	})

	Describe("CreateContainer", func() {
		It("posts the create payload and returns the id", func() {
			engine.handleJSON("/containers/create", 201, `{"Id":"abc123"}`)

			id, err := conn.CreateContainer(connection.CreateContainerRequest{
				Image:  "pocketdock/minimal",
				Cmd:    []string{"sleep", "infinity"},
				Labels: map[string]string{"pocketdock.managed": "true"},
				HostConfig: &connection.HostConfig{
					Memory:   64 * 1024 * 1024,
					NanoCpus: 500_000_000,
				},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal("abc123"))

			var sent map[string]interface{}
			Expect(json.Unmarshal(engine.lastRequest().Body, &sent)).To(Succeed())
			Expect(sent["Image"]).To(Equal("pocketdock/minimal"))
			Expect(sent["HostConfig"]).To(HaveKeyWithValue("Memory", BeNumerically("==", 64*1024*1024)))
		})

		It("maps 404 to ImageNotFoundError", func() {
			engine.handleJSON("/containers/create", 404, `{"message":"no such image"}`)

			_, err := conn.CreateContainer(connection.CreateContainerRequest{Image: "missing:latest"})
			Expect(err).To(Equal(pocketdock.ImageNotFoundError{Image: "missing:latest"}))
		})
	})

	Describe("container lifecycle operations", func() {
		It("treats 204 and 304 as success for start and stop", func() {
			engine.handle("/containers/c1/start", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(304)
			})
			engine.handle("/containers/c1/stop", func(w http.ResponseWriter, r *http.Request) {
				Expect(r.URL.Query().Get("t")).To(Equal("5"))
				w.WriteHeader(204)
			})

			Expect(conn.StartContainer("c1")).To(Succeed())
			Expect(conn.StopContainer("c1", 5)).To(Succeed())
		})

		It("maps 404 to ContainerNotFoundError", func() {
			engine.handleJSON("/containers/gone/start", 404, `{}`)
			err := conn.StartContainer("gone")
			Expect(err).To(Equal(pocketdock.ContainerNotFoundError{Handle: "gone"}))
		})

		It("maps 409 to ContainerNotRunningError", func() {
			engine.handleJSON("/containers/stopped/exec", 409, `{}`)
			_, err := conn.ExecCreate("stopped", connection.ExecCreateRequest{Cmd: []string{"true"}})
			Expect(err).To(BeAssignableToTypeOf(pocketdock.ContainerNotRunningError{}))
		})

		It("maps Podman's 500 'container state improper' to ContainerNotRunningError", func() {
			engine.handleJSON("/containers/stopped/exec", 500, `{"cause":"container state improper"}`)
			_, err := conn.ExecCreate("stopped", connection.ExecCreateRequest{Cmd: []string{"true"}})
			Expect(err).To(BeAssignableToTypeOf(pocketdock.ContainerNotRunningError{}))
		})

		It("wraps other failures in SocketCommunicationError with the body", func() {
			engine.handleJSON("/containers/c1/restart", 500, `{"message":"engine exploded"}`)
			err := conn.RestartContainer("c1", 10)
			Expect(err).To(BeAssignableToTypeOf(pocketdock.SocketCommunicationError{}))
			Expect(err.Error()).To(ContainSubstring("engine exploded"))
		})
	})

	Describe("InspectContainer", func() {
		It("parses the state subset", func() {
			engine.handleJSON("/containers/c1/json", 200, `{
				"Id": "c1full",
				"Created": "2026-01-02T03:04:05Z",
				"State": {"Status": "running", "Running": true, "ExitCode": 0, "StartedAt": "2026-01-02T03:04:06Z"},
				"Config": {"Image": "img:1", "Labels": {"pocketdock.persist": "true"}},
				"HostConfig": {"Memory": 1024, "NanoCpus": 0},
				"NetworkSettings": {"IPAddress": "10.0.0.2"}
			}`)

			details, err := conn.InspectContainer("c1")
			Expect(err).NotTo(HaveOccurred())
			Expect(details.ID).To(Equal("c1full"))
			Expect(details.State.Running).To(BeTrue())
			Expect(details.Config.Labels).To(HaveKeyWithValue("pocketdock.persist", "true"))
			Expect(details.HostConfig.Memory).To(Equal(int64(1024)))
			Expect(details.NetworkSettings.IPAddress).To(Equal("10.0.0.2"))
		})
	})

	Describe("ListContainers", func() {
		It("requests all containers with a JSON label filter", func() {
			engine.handleJSON("/containers/json", 200, `[{"Id":"c1","Names":["/pd-1"],"State":"running"}]`)

			summaries, err := conn.ListContainers("pocketdock.managed=true")
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries).To(HaveLen(1))

			query, err := url.ParseQuery(engine.lastRequest().Query)
			Expect(err).NotTo(HaveOccurred())
			Expect(query.Get("all")).To(Equal("true"))

			var filters map[string][]string
			Expect(json.Unmarshal([]byte(query.Get("filters")), &filters)).To(Succeed())
			Expect(filters["label"]).To(ConsistOf("pocketdock.managed=true"))
		})
	})

	Describe("archives", func() {
		It("uploads tar bytes with the x-tar content type and path query", func() {
			engine.handle("/containers/c1/archive", func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Method).To(Equal("PUT"))
				Expect(r.Header.Get("Content-Type")).To(Equal("application/x-tar"))
				Expect(r.URL.Query().Get("path")).To(Equal("/tmp"))
				w.WriteHeader(200)
			})

			Expect(conn.ArchivePut("c1", "/tmp", []byte("tar-bytes"))).To(Succeed())
			Expect(engine.lastRequest().Body).To(Equal([]byte("tar-bytes")))
		})

		It("downloads tar bytes", func() {
			engine.handle("/containers/c1/archive", func(w http.ResponseWriter, r *http.Request) {
				Expect(r.URL.Query().Get("path")).To(Equal("/etc/hosts"))
				w.Write([]byte("tar-content"))
			})

			data, err := conn.ArchiveGet("c1", "/etc/hosts")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("tar-content")))
		})
	})

	Describe("exec streams", func() {
		It("creates an exec and reads a chunked multiplexed stream with misaligned frames", func() {
			engine.handleJSON("/containers/c1/exec", 201, `{"Id":"exec-1"}`)

			stream := append(mkFrame(1, "hello\n"), mkFrame(2, "warning\n")...)
			response := "HTTP/1.1 200 OK\r\nContent-Type: application/vnd.docker.raw-stream\r\nTransfer-Encoding: chunked\r\n\r\n"
			// Split mid-header and mid-payload.
			engine.handleExecStream("/exec/exec-1/start", response, chunked(stream, 3, 6, 10))

			execID, err := conn.ExecCreate("c1", connection.ExecCreateRequest{Cmd: []string{"sh", "-c", "echo hello"}})
			Expect(err).NotTo(HaveOccurred())

			ec, err := conn.ExecStart(execID, false)
			Expect(err).NotTo(HaveOccurred())
			defer ec.Close()

			kind, payload, err := ec.ReadFrame()
			Expect(err).NotTo(HaveOccurred())
			Expect(kind).To(Equal(pocketdock.StdoutStream))
			Expect(string(payload)).To(Equal("hello\n"))

			kind, payload, err = ec.ReadFrame()
			Expect(err).NotTo(HaveOccurred())
			Expect(kind).To(Equal(pocketdock.StderrStream))
			Expect(string(payload)).To(Equal("warning\n"))

			_, _, err = ec.ReadFrame()
			Expect(err).To(Equal(io.EOF))
		})

		It("reads a 101-upgraded raw framed stream", func() {
			response := "HTTP/1.1 101 UPGRADED\r\nConnection: Upgrade\r\nUpgrade: tcp\r\n\r\n"
			engine.handleExecStream("/exec/exec-2/start", response, mkFrame(1, "upgraded\n"))

			ec, err := conn.ExecStart("exec-2", false)
			Expect(err).NotTo(HaveOccurred())
			defer ec.Close()

			kind, payload, err := ec.ReadFrame()
			Expect(err).NotTo(HaveOccurred())
			Expect(kind).To(Equal(pocketdock.StdoutStream))
			Expect(string(payload)).To(Equal("upgraded\n"))
		})

		It("falls through to raw stdout when the engine does not multiplex", func() {
			response := "HTTP/1.1 200 OK\r\n\r\n"
			engine.handleExecStream("/exec/exec-3/start", response, []byte("plain podman output\n"))

			ec, err := conn.ExecStart("exec-3", false)
			Expect(err).NotTo(HaveOccurred())
			defer ec.Close()

			var all bytes.Buffer
			for {
				kind, payload, err := ec.ReadFrame()
				if err == io.EOF {
					break
				}
				Expect(err).NotTo(HaveOccurred())
				Expect(kind).To(Equal(pocketdock.StdoutStream))
				all.Write(payload)
			}
			Expect(all.String()).To(Equal("plain podman output\n"))
		})

		It("surfaces exec-start failures with the response body", func() {
			engine.handleJSON("/exec/exec-4/start", 500, `{"message":"cannot start"}`)

			_, err := conn.ExecStart("exec-4", false)
			Expect(err).To(BeAssignableToTypeOf(pocketdock.SocketCommunicationError{}))
			Expect(err.Error()).To(ContainSubstring("cannot start"))
		})

		It("reads the exit code from exec inspect", func() {
			engine.handleJSON("/exec/exec-5/json", 200, `{"Running": false, "ExitCode": 3, "Pid": 0}`)

			status, err := conn.ExecInspect("exec-5")
			Expect(err).NotTo(HaveOccurred())
			Expect(status.ExitCode).To(Equal(3))
			Expect(status.Running).To(BeFalse())
		})
	})

	Describe("Commit", func() {
		It("posts the container, repo, and tag as query parameters", func() {
			engine.handleJSON("/commit", 201, `{"Id":"sha256:deadbeef"}`)

			imageID, err := conn.Commit("c1", "myrepo", "v1")
			Expect(err).NotTo(HaveOccurred())
			Expect(imageID).To(Equal("sha256:deadbeef"))

			query, err := url.ParseQuery(engine.lastRequest().Query)
			Expect(err).NotTo(HaveOccurred())
			Expect(query.Get("container")).To(Equal("c1"))
			Expect(query.Get("repo")).To(Equal("myrepo"))
			Expect(query.Get("tag")).To(Equal("v1"))
		})
	})
})
