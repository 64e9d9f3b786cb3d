package connection

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/deftio/pocketdock"
)

const dialTimeout = 2 * time.Second

// wire is one HTTP/1.1 exchange over a Unix socket. The engine's exec
// protocol needs the raw connection after the response headers (the
// stream upgrades to a bidirectional byte pipe), so the exchange is
// written directly on the conn rather than through net/http.
type wire struct {
	socketPath string
	conn       net.Conn
	br         *bufio.Reader
}

func dialWire(socketPath string) (*wire, error) {
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return nil, pocketdock.SocketConnectionError{Path: socketPath, Err: err}
	}
	return &wire{
		socketPath: socketPath,
		conn:       conn,
		br:         bufio.NewReader(conn),
	}, nil
}

func (w *wire) writeRequest(method, requestURI string, body []byte, contentType string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", method, requestURI)
	b.WriteString("Host: localhost\r\n")
	if body != nil {
		if contentType == "" {
			contentType = "application/json"
		}
		fmt.Fprintf(&b, "Content-Type: %s\r\n", contentType)
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	}
	b.WriteString("Connection: close\r\n\r\n")

	if _, err := io.WriteString(w.conn, b.String()); err != nil {
		return pocketdock.SocketCommunicationError{Detail: "writing request: " + err.Error()}
	}
	if body != nil {
		if _, err := w.conn.Write(body); err != nil {
			return pocketdock.SocketCommunicationError{Detail: "writing request body: " + err.Error()}
		}
	}
	return nil
}

// writeUpgradeRequest is writeRequest with the exec-attach upgrade
// headers. Docker answers 101 and hands back the raw stream; engines
// that ignore the upgrade answer 200 with chunked transfer encoding.
func (w *wire) writeUpgradeRequest(method, requestURI string, body []byte) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", method, requestURI)
	b.WriteString("Host: localhost\r\n")
	if body != nil {
		b.WriteString("Content-Type: application/json\r\n")
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	}
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString("Upgrade: tcp\r\n\r\n")

	if _, err := io.WriteString(w.conn, b.String()); err != nil {
		return pocketdock.SocketCommunicationError{Detail: "writing request: " + err.Error()}
	}
	if body != nil {
		if _, err := w.conn.Write(body); err != nil {
			return pocketdock.SocketCommunicationError{Detail: "writing request body: " + err.Error()}
		}
	}
	return nil
}

// readResponse reads the status line and headers. Header keys are
// lowercased.
func (w *wire) readResponse() (int, map[string]string, error) {
	line, err := w.br.ReadString('\n')
	if err != nil {
		return 0, nil, pocketdock.SocketCommunicationError{Detail: "reading status line: " + err.Error()}
	}
	parts := strings.SplitN(strings.TrimSpace(line), " ", 3)
	if len(parts) < 2 {
		return 0, nil, pocketdock.SocketCommunicationError{Detail: fmt.Sprintf("malformed status line: %q", line)}
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, nil, pocketdock.SocketCommunicationError{Detail: fmt.Sprintf("malformed status code: %q", parts[1])}
	}

	headers := map[string]string{}
	for {
		line, err := w.br.ReadString('\n')
		if err != nil {
			return 0, nil, pocketdock.SocketCommunicationError{Detail: "reading headers: " + err.Error()}
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			break
		}
		if key, value, found := strings.Cut(trimmed, ":"); found {
			headers[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
		}
	}
	return status, headers, nil
}

// bodyReader returns a reader over the response body: dechunked when the
// response uses chunked transfer encoding, length-limited when it
// carries Content-Length, and read-to-EOF otherwise.
func (w *wire) bodyReader(headers map[string]string) io.Reader {
	if strings.EqualFold(headers["transfer-encoding"], "chunked") {
		return newChunkedReader(w.br)
	}
	if cl, ok := headers["content-length"]; ok {
		if length, err := strconv.ParseInt(cl, 10, 64); err == nil {
			return io.LimitReader(w.br, length)
		}
	}
	return w.br
}

func (w *wire) readBody(headers map[string]string) ([]byte, error) {
	body, err := io.ReadAll(w.bodyReader(headers))
	if err != nil {
		return nil, pocketdock.SocketCommunicationError{Detail: "reading body: " + err.Error()}
	}
	return body, nil
}

func (w *wire) Write(p []byte) (int, error) {
	return w.conn.Write(p)
}

func (w *wire) Close() error {
	return w.conn.Close()
}

// chunkedReader decodes chunked transfer encoding into a plain byte
// stream. The demultiplexer layers frame parsing over this reader, so
// HTTP chunk boundaries are invisible to frame reassembly.
type chunkedReader struct {
	br        *bufio.Reader
	remaining int
	done      bool
}

func newChunkedReader(br *bufio.Reader) *chunkedReader {
	return &chunkedReader{br: br}
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.done {
		return 0, io.EOF
	}

	if c.remaining == 0 {
		size, err := c.readChunkSize()
		if err != nil {
			return 0, err
		}
		if size == 0 {
			// Consume the trailer's terminating CRLF.
			c.br.ReadString('\n')
			c.done = true
			return 0, io.EOF
		}
		c.remaining = size
	}

	n := len(p)
	if n > c.remaining {
		n = c.remaining
	}
	read, err := c.br.Read(p[:n])
	c.remaining -= read
	if c.remaining == 0 && err == nil {
		// Consume the CRLF after the chunk data.
		c.br.ReadString('\n')
	}
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return read, err
}

func (c *chunkedReader) readChunkSize() (int, error) {
	for {
		line, err := c.br.ReadString('\n')
		if err != nil {
			return 0, err
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		// Chunk extensions after ";" are ignored.
		if idx := strings.IndexByte(trimmed, ';'); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		size, err := strconv.ParseInt(trimmed, 16, 32)
		if err != nil {
			return 0, fmt.Errorf("malformed chunk size %q", trimmed)
		}
		return int(size), nil
	}
}
