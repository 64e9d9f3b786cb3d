package connection

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"code.cloudfoundry.org/lager/v3"
	"github.com/tedsuo/rata"

	"github.com/deftio/pocketdock"
	"github.com/deftio/pocketdock/routes"
)

// Connection speaks the Docker-compatible REST protocol to one engine
// socket. Every call opens its own connection; nothing is pooled.
type Connection interface {
	SocketPath() string

	Ping() error

	CreateContainer(req CreateContainerRequest) (string, error)
	StartContainer(id string) error
	StopContainer(id string, timeout int) error
	RestartContainer(id string, timeout int) error
	RemoveContainer(id string, force bool) error
	InspectContainer(id string) (ContainerDetails, error)
	ContainerStats(id string) (Stats, error)
	ContainerTop(id string) (TopResponse, error)
	ListContainers(labelFilters ...string) ([]ContainerSummary, error)
	Commit(id, repo, tag string) (string, error)

	ExecCreate(containerID string, req ExecCreateRequest) (string, error)
	ExecStart(execID string, tty bool) (ExecConn, error)
	ExecInspect(execID string) (ExecStatus, error)
	ExecResize(execID string, height, width int) error

	ArchiveGet(containerID, path string) ([]byte, error)
	ArchivePut(containerID, destDir string, tarData []byte) error

	ListImages() ([]ImageSummary, error)
	BuildImage(tag string, buildContext []byte) (string, error)
	ExportImage(name string, w io.Writer) error
	ImportImage(r io.Reader) error
}

type connection struct {
	socketPath string
	req        *rata.RequestGenerator
	log        lager.Logger
}

// New returns a Connection for the given socket path.
func New(socketPath string, logger lager.Logger) Connection {
	return &connection{
		socketPath: socketPath,
		req:        rata.NewRequestGenerator("http://engine", routes.Routes),
		log:        logger.Session("connection", lager.Data{"socket": socketPath}),
	}
}

func (c *connection) SocketPath() string {
	return c.socketPath
}

func (c *connection) Ping() error {
	return ping(c.socketPath)
}

func (c *connection) CreateContainer(req CreateContainerRequest) (string, error) {
	status, body, err := c.do(routes.CreateContainer, nil, nil, req)
	if err != nil {
		return "", err
	}
	if status == 404 {
		return "", pocketdock.ImageNotFoundError{Image: req.Image}
	}
	if status >= 400 {
		return "", commError("create container", status, body)
	}

	var res idResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", commError("create container", status, body)
	}
	return res.ID, nil
}

func (c *connection) StartContainer(id string) error {
	status, body, err := c.do(routes.StartContainer, rata.Params{"id": id}, nil, nil)
	if err != nil {
		return err
	}
	// 304 = already started.
	if status == 204 || status == 304 {
		return nil
	}
	return c.checkContainerStatus("start container", status, body, id)
}

func (c *connection) StopContainer(id string, timeout int) error {
	query := url.Values{"t": []string{strconv.Itoa(timeout)}}
	status, body, err := c.do(routes.StopContainer, rata.Params{"id": id}, query, nil)
	if err != nil {
		return err
	}
	// 304 = already stopped.
	if status == 204 || status == 304 {
		return nil
	}
	return c.checkContainerStatus("stop container", status, body, id)
}

func (c *connection) RestartContainer(id string, timeout int) error {
	query := url.Values{"t": []string{strconv.Itoa(timeout)}}
	status, body, err := c.do(routes.RestartContainer, rata.Params{"id": id}, query, nil)
	if err != nil {
		return err
	}
	if status == 204 {
		return nil
	}
	return c.checkContainerStatus("restart container", status, body, id)
}

func (c *connection) RemoveContainer(id string, force bool) error {
	query := url.Values{"force": []string{strconv.FormatBool(force)}}
	status, body, err := c.do(routes.RemoveContainer, rata.Params{"id": id}, query, nil)
	if err != nil {
		return err
	}
	if status == 200 || status == 204 {
		return nil
	}
	return c.checkContainerStatus("remove container", status, body, id)
}

func (c *connection) InspectContainer(id string) (ContainerDetails, error) {
	status, body, err := c.do(routes.InspectContainer, rata.Params{"id": id}, nil, nil)
	if err != nil {
		return ContainerDetails{}, err
	}
	if err := c.checkContainerStatus("inspect container", status, body, id); err != nil {
		return ContainerDetails{}, err
	}

	var details ContainerDetails
	if err := json.Unmarshal(body, &details); err != nil {
		return ContainerDetails{}, commError("inspect container", status, body)
	}
	return details, nil
}

func (c *connection) ContainerStats(id string) (Stats, error) {
	query := url.Values{
		"stream":   []string{"false"},
		"one-shot": []string{"true"},
	}
	status, body, err := c.do(routes.ContainerStats, rata.Params{"id": id}, query, nil)
	if err != nil {
		return Stats{}, err
	}
	if err := c.checkContainerStatus("container stats", status, body, id); err != nil {
		return Stats{}, err
	}

	var stats Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		return Stats{}, commError("container stats", status, body)
	}
	return stats, nil
}

func (c *connection) ContainerTop(id string) (TopResponse, error) {
	status, body, err := c.do(routes.ContainerTop, rata.Params{"id": id}, nil, nil)
	if err != nil {
		return TopResponse{}, err
	}
	if err := c.checkContainerStatus("container top", status, body, id); err != nil {
		return TopResponse{}, err
	}

	var top TopResponse
	if err := json.Unmarshal(body, &top); err != nil {
		return TopResponse{}, commError("container top", status, body)
	}
	return top, nil
}

func (c *connection) ListContainers(labelFilters ...string) ([]ContainerSummary, error) {
	query := url.Values{"all": []string{"true"}}
	if len(labelFilters) > 0 {
		filters, err := json.Marshal(map[string][]string{"label": labelFilters})
		if err != nil {
			return nil, err
		}
		query.Set("filters", string(filters))
	}

	status, body, err := c.do(routes.ListContainers, nil, query, nil)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, commError("list containers", status, body)
	}

	var summaries []ContainerSummary
	if err := json.Unmarshal(body, &summaries); err != nil {
		return nil, commError("list containers", status, body)
	}
	return summaries, nil
}

func (c *connection) Commit(id, repo, tag string) (string, error) {
	query := url.Values{
		"container": []string{id},
		"repo":      []string{repo},
		"tag":       []string{tag},
	}
	status, body, err := c.do(routes.Commit, nil, query, nil)
	if err != nil {
		return "", err
	}
	if err := c.checkContainerStatus("commit container", status, body, id); err != nil {
		return "", err
	}

	var res idResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", commError("commit container", status, body)
	}
	return res.ID, nil
}

func (c *connection) ExecCreate(containerID string, req ExecCreateRequest) (string, error) {
	status, body, err := c.do(routes.ExecCreate, rata.Params{"id": containerID}, nil, req)
	if err != nil {
		return "", err
	}
	if err := c.checkContainerStatus("exec create", status, body, containerID); err != nil {
		return "", err
	}

	var res idResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", commError("exec create", status, body)
	}
	return res.ID, nil
}

// ExecStart starts an exec instance and returns the upgraded stream.
// The returned ExecConn owns the connection; closing it closes the
// socket.
func (c *connection) ExecStart(execID string, tty bool) (ExecConn, error) {
	method, path, err := c.buildRequest(routes.ExecStart, rata.Params{"id": execID}, nil)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(execStartRequest{Detach: false, Tty: tty})
	if err != nil {
		return nil, err
	}

	w, err := dialWire(c.socketPath)
	if err != nil {
		return nil, err
	}

	if err := w.writeUpgradeRequest(method, path, body); err != nil {
		w.Close()
		return nil, err
	}
	status, headers, err := w.readResponse()
	if err != nil {
		w.Close()
		return nil, err
	}
	if status >= 400 {
		respBody, _ := w.readBody(headers)
		w.Close()
		return nil, commError("exec start", status, respBody)
	}

	// 101 hands back the raw stream; 200 leaves the body subject to
	// the response's transfer encoding.
	var stream io.Reader = w.br
	if status != 101 && strings.EqualFold(headers["transfer-encoding"], "chunked") {
		stream = newChunkedReader(w.br)
	}

	c.log.Debug("exec-stream-open", lager.Data{"exec": execID, "status": status})
	return &execConn{wire: w, frames: newFrameReader(stream)}, nil
}

func (c *connection) ExecInspect(execID string) (ExecStatus, error) {
	status, body, err := c.do(routes.ExecInspect, rata.Params{"id": execID}, nil, nil)
	if err != nil {
		return ExecStatus{}, err
	}
	if status >= 400 {
		return ExecStatus{}, commError("exec inspect", status, body)
	}

	var res ExecStatus
	if err := json.Unmarshal(body, &res); err != nil {
		return ExecStatus{}, commError("exec inspect", status, body)
	}
	return res, nil
}

func (c *connection) ExecResize(execID string, height, width int) error {
	query := url.Values{
		"h": []string{strconv.Itoa(height)},
		"w": []string{strconv.Itoa(width)},
	}
	status, body, err := c.do(routes.ExecResize, rata.Params{"id": execID}, query, nil)
	if err != nil {
		return err
	}
	if status >= 400 {
		return commError("exec resize", status, body)
	}
	return nil
}

func (c *connection) ArchiveGet(containerID, path string) ([]byte, error) {
	query := url.Values{"path": []string{path}}
	status, body, err := c.do(routes.ArchiveGet, rata.Params{"id": containerID}, query, nil)
	if err != nil {
		return nil, err
	}
	if status == 404 {
		return nil, fmt.Errorf("path not found in container: %s", path)
	}
	if err := c.checkContainerStatus("archive get", status, body, containerID); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *connection) ArchivePut(containerID, destDir string, tarData []byte) error {
	query := url.Values{"path": []string{destDir}}
	status, body, err := c.doRaw(routes.ArchivePut, rata.Params{"id": containerID}, query, tarData, "application/x-tar")
	if err != nil {
		return err
	}
	if status == 404 {
		return fmt.Errorf("destination path not found in container: %s", destDir)
	}
	return c.checkContainerStatus("archive put", status, body, containerID)
}

func (c *connection) ListImages() ([]ImageSummary, error) {
	status, body, err := c.do(routes.ListImages, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, commError("list images", status, body)
	}

	var images []ImageSummary
	if err := json.Unmarshal(body, &images); err != nil {
		return nil, commError("list images", status, body)
	}
	return images, nil
}

// BuildImage posts a tar build context and returns the accumulated
// build log.
func (c *connection) BuildImage(tag string, buildContext []byte) (string, error) {
	query := url.Values{
		"t":          []string{tag},
		"dockerfile": []string{"Dockerfile"},
	}
	status, body, err := c.doRaw(routes.BuildImage, nil, query, buildContext, "application/x-tar")
	if err != nil {
		return "", err
	}
	if status >= 400 {
		return "", commError("build image", status, body)
	}

	// The response is a stream of JSON lines.
	var log strings.Builder
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var line buildLogLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Error != "" {
			return log.String(), pocketdock.SocketCommunicationError{Op: "build image", Detail: line.Error}
		}
		log.WriteString(line.Stream)
	}
	return log.String(), nil
}

func (c *connection) ExportImage(name string, dst io.Writer) error {
	method, path, err := c.buildRequest(routes.ExportImage, rata.Params{"name": name}, nil)
	if err != nil {
		return err
	}

	w, err := dialWire(c.socketPath)
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.writeRequest(method, path, nil, ""); err != nil {
		return err
	}
	status, headers, err := w.readResponse()
	if err != nil {
		return err
	}
	if status == 404 {
		w.readBody(headers)
		return pocketdock.ImageNotFoundError{Image: name}
	}
	if status >= 400 {
		body, _ := w.readBody(headers)
		return commError("export image", status, body)
	}

	if _, err := io.Copy(dst, w.bodyReader(headers)); err != nil {
		return pocketdock.SocketCommunicationError{Op: "export image", Detail: err.Error()}
	}
	return nil
}

func (c *connection) ImportImage(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	status, body, err := c.doRaw(routes.ImportImage, nil, nil, data, "application/x-tar")
	if err != nil {
		return err
	}
	if status >= 400 {
		return commError("import image", status, body)
	}
	return nil
}

// do performs a full JSON request/response exchange on a fresh
// connection.
func (c *connection) do(handler string, params rata.Params, query url.Values, body interface{}) (int, []byte, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
	}
	return c.doRaw(handler, params, query, bodyBytes, "application/json")
}

func (c *connection) doRaw(handler string, params rata.Params, query url.Values, body []byte, contentType string) (int, []byte, error) {
	method, path, err := c.buildRequest(handler, params, query)
	if err != nil {
		return 0, nil, err
	}

	w, err := dialWire(c.socketPath)
	if err != nil {
		return 0, nil, err
	}
	defer w.Close()

	if err := w.writeRequest(method, path, body, contentType); err != nil {
		return 0, nil, err
	}
	status, headers, err := w.readResponse()
	if err != nil {
		return 0, nil, err
	}
	respBody, err := w.readBody(headers)
	if err != nil {
		return 0, nil, err
	}
	return status, respBody, nil
}

// buildRequest resolves a route name into its method and request path
// (with query) via the rata generator.
func (c *connection) buildRequest(handler string, params rata.Params, query url.Values) (string, string, error) {
	request, err := c.req.CreateRequest(handler, params, nil)
	if err != nil {
		return "", "", err
	}
	if query != nil {
		request.URL.RawQuery = query.Encode()
	}
	return request.Method, request.URL.RequestURI(), nil
}

func (c *connection) checkContainerStatus(op string, status int, body []byte, id string) error {
	if status < 400 {
		return nil
	}
	switch {
	case status == 404:
		return pocketdock.ContainerNotFoundError{Handle: id}
	case status == 409:
		return pocketdock.ContainerNotRunningError{Handle: id}
	// Podman reports a stopped container as 500 "container state
	// improper" on exec create.
	case status == 500 && bytes.Contains(body, []byte("container state improper")):
		return pocketdock.ContainerNotRunningError{Handle: id}
	default:
		return commError(op, status, body)
	}
}

func commError(op string, status int, body []byte) error {
	return pocketdock.SocketCommunicationError{
		Op:     op,
		Detail: fmt.Sprintf("HTTP %d: %s", status, bytes.TrimSpace(body)),
	}
}

// ExecConn is an exec attach stream: frames out, stdin bytes in.
// Closing it releases the underlying connection.
type ExecConn interface {
	// ReadFrame returns the next demultiplexed frame. io.EOF marks the
	// end of the exec's output.
	ReadFrame() (pocketdock.StreamKind, []byte, error)

	// Write sends bytes to the exec's stdin.
	Write(p []byte) (int, error)

	// Close releases the connection. Safe to call more than once.
	Close() error
}

type execConn struct {
	wire   *wire
	frames *frameReader

	mu     sync.Mutex
	closed bool
}

func (e *execConn) ReadFrame() (pocketdock.StreamKind, []byte, error) {
	return e.frames.Next()
}

func (e *execConn) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, io.ErrClosedPipe
	}
	return e.wire.Write(p)
}

func (e *execConn) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.wire.Close()
}
