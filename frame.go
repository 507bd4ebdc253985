package lsprpc

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// The base protocol frames every message as a header part and a content
// part. The header is ASCII, terminated by \r\n\r\n, and the only header
// this client emits is Content-Length. Content-Type is tolerated on input
// but never required.
const contentLengthHeader = "Content-Length: "

var headerDelimiter = []byte("\r\n\r\n")

// encodeFrame wraps a message body in the base protocol framing.
func encodeFrame(body []byte) []byte {
	buf := make([]byte, 0, len(contentLengthHeader)+len(headerDelimiter)+len(body)+20)
	buf = append(buf, contentLengthHeader...)
	buf = strconv.AppendInt(buf, int64(len(body)), 10)
	buf = append(buf, headerDelimiter...)
	buf = append(buf, body...)
	return buf
}

// readFrame reads one framed message from r and returns its body, leaving r
// positioned at the start of the next frame. The header block is consumed
// line by line until the accumulated bytes end in \r\n\r\n, then exactly
// Content-Length bytes are read as the body.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var header []byte
	for !bytes.HasSuffix(header, headerDelimiter) {
		line, err := r.ReadBytes('\n')
		header = append(header, line...)
		if err != nil {
			if err == io.EOF && len(header) == 0 {
				return nil, io.EOF
			}
			return nil, &FramingError{Reason: "stream ended before header delimiter", Err: err}
		}
	}

	length := -1
	for _, line := range strings.Split(string(header), "\n") {
		rest, ok := strings.CutPrefix(line, contentLengthHeader)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimRight(rest, "\r"))
		if err != nil || n < 0 {
			return nil, &FramingError{Reason: fmt.Sprintf("invalid Content-Length %q", strings.TrimRight(rest, "\r")), Err: err}
		}
		length = n
		break
	}
	if length < 0 {
		return nil, &FramingError{Reason: "missing Content-Length header"}
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, &FramingError{Reason: "stream ended mid-body", Err: err}
	}
	return body, nil
}
