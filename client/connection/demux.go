package connection

import (
	"encoding/binary"
	"io"

	"github.com/deftio/pocketdock"
)

const (
	frameHeaderSize = 8

	// maxFramePayload bounds a decoded frame length; anything larger
	// means the header bytes were not a frame header.
	maxFramePayload = 32 * 1024 * 1024

	rawReadSize = 32 * 1024
)

type demuxMode int

const (
	modeUndecided demuxMode = iota
	modeFramed
	modeRaw
)

// frameReader yields multiplexed stream frames from an exec attach
// stream. Docker frames the stream with 8-byte headers; Podman can
// return the bytes raw when the exec was not multiplexed. The first
// header decides the mode: a valid stream tag with zeroed reserved
// bytes and a plausible length selects framed parsing, anything else
// makes the whole stream stdout.
//
// The underlying reader is a plain byte stream (already dechunked), so
// frames split across HTTP chunk boundaries reassemble here without
// special handling.
type frameReader struct {
	r    io.Reader
	mode demuxMode
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: r}
}

// Next returns the next frame. io.EOF marks a clean end of stream; a
// truncated frame surfaces as a SocketCommunicationError so readers
// terminate deterministically on mid-stream disconnects.
func (fr *frameReader) Next() (pocketdock.StreamKind, []byte, error) {
	switch fr.mode {
	case modeUndecided:
		return fr.sniff()
	case modeFramed:
		return fr.nextFrame()
	default:
		return fr.nextRaw()
	}
}

func (fr *frameReader) sniff() (pocketdock.StreamKind, []byte, error) {
	header := make([]byte, frameHeaderSize)
	n, err := io.ReadFull(fr.r, header)
	if n == 0 {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, streamError(err)
	}
	if err != nil {
		// Fewer than 8 bytes total: can't be a framed stream.
		fr.mode = modeRaw
		return pocketdock.StdoutStream, header[:n], nil
	}

	if !plausibleHeader(header) {
		fr.mode = modeRaw
		return pocketdock.StdoutStream, header, nil
	}

	fr.mode = modeFramed
	kind, payload, err := fr.readPayload(header)
	if err == nil && len(payload) == 0 {
		return fr.nextFrame()
	}
	return kind, payload, err
}

func (fr *frameReader) nextFrame() (pocketdock.StreamKind, []byte, error) {
	header := make([]byte, frameHeaderSize)
	for {
		n, err := io.ReadFull(fr.r, header)
		if n == 0 && err == io.EOF {
			return 0, nil, io.EOF
		}
		if err != nil {
			return 0, nil, streamError(err)
		}

		kind, payload, err := fr.readPayload(header)
		if err != nil {
			return 0, nil, err
		}
		if len(payload) == 0 {
			continue
		}
		return kind, payload, nil
	}
}

func (fr *frameReader) readPayload(header []byte) (pocketdock.StreamKind, []byte, error) {
	kind := pocketdock.StreamKind(header[0])
	length := binary.BigEndian.Uint32(header[4:frameHeaderSize])
	if length == 0 {
		return kind, nil, nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return 0, nil, streamError(err)
	}
	if kind == pocketdock.StdinStream {
		kind = pocketdock.StdoutStream
	}
	return kind, payload, nil
}

func (fr *frameReader) nextRaw() (pocketdock.StreamKind, []byte, error) {
	buf := make([]byte, rawReadSize)
	n, err := fr.r.Read(buf)
	if n > 0 {
		return pocketdock.StdoutStream, buf[:n], nil
	}
	if err == io.EOF {
		return 0, nil, io.EOF
	}
	return 0, nil, streamError(err)
}

func plausibleHeader(header []byte) bool {
	if header[0] > uint8(pocketdock.StderrStream) {
		return false
	}
	if header[1] != 0 || header[2] != 0 || header[3] != 0 {
		return false
	}
	return binary.BigEndian.Uint32(header[4:frameHeaderSize]) <= maxFramePayload
}

func streamError(err error) error {
	if err == nil {
		return nil
	}
	return pocketdock.SocketCommunicationError{
		Op:     "reading exec stream",
		Detail: err.Error(),
	}
}
