// Package codec implements the length-framed request/response wire format
// spoken over a worker process's standard input and output.
//
// A frame is one or more ASCII header lines terminated by CRLF, a blank
// line, then exactly Content-Length bytes of UTF-8 encoded JSON. Header
// names are case-insensitive. The codec is a pure transform: it has no
// knowledge of processes or pools and never retries.
package codec

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
)

// MaxFrameSize bounds a single frame's body. Larger Content-Length values
// are treated as protocol violations rather than allocation requests.
const MaxFrameSize = 256 << 20

const contentLengthHeader = "Content-Length"

// WriteFrame encodes v as JSON and writes one framed message.
func WriteFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return zerr.Wrap(err, "failed to marshal frame body")
	}

	header := fmt.Sprintf("%s: %d\r\n\r\n", contentLengthHeader, len(body))
	if _, err := io.WriteString(w, header); err != nil {
		return zerr.Wrap(ErrWrite(err), "failed to write frame header")
	}
	if _, err := w.Write(body); err != nil {
		return zerr.Wrap(ErrWrite(err), "failed to write frame body")
	}
	return nil
}

// ErrWrite maps a transport write error into the protocol taxonomy.
// A broken pipe mid-frame leaves the stream unusable either way.
func ErrWrite(err error) error {
	return zerr.With(zerr.Wrap(domain.ErrProtocol, "stream write failed"), "cause", err.Error())
}

// ReadFrame reads one framed message body from r.
//
// A clean EOF before any header byte is returned as io.EOF so callers can
// distinguish an orderly stream close from a truncated frame; every other
// malformation wraps domain.ErrProtocol.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	tp := textproto.NewReader(r)
	header, err := tp.ReadMIMEHeader()
	if err != nil {
		if errors.Is(err, io.EOF) && len(header) == 0 {
			return nil, io.EOF
		}
		return nil, zerr.With(zerr.Wrap(domain.ErrProtocol, "malformed frame header"), "cause", err.Error())
	}

	// MIME header lookup is case-insensitive, which is load-bearing here:
	// workers are free to emit "content-length".
	raw := header.Get(contentLengthHeader)
	if raw == "" {
		return nil, zerr.Wrap(domain.ErrProtocol, "missing Content-Length header")
	}

	length, err := strconv.Atoi(raw)
	if err != nil || length < 0 {
		return nil, zerr.With(zerr.Wrap(domain.ErrProtocol, "invalid Content-Length value"), "value", raw)
	}
	if length > MaxFrameSize {
		return nil, zerr.With(zerr.Wrap(domain.ErrProtocol, "frame exceeds maximum size"), "length", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrProtocol, "truncated frame body"), "cause", err.Error())
	}
	return body, nil
}

// ReadRequest reads and decodes one request frame.
func ReadRequest(r *bufio.Reader) (*Request, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrProtocol, "malformed request body"), "cause", err.Error())
	}
	return &req, nil
}

// ReadResponse reads and decodes one response frame.
func ReadResponse(r *bufio.Reader) (*Response, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrProtocol, "malformed response body"), "cause", err.Error())
	}
	return &resp, nil
}
