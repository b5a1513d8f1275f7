package hello

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	// ErrNoRequestLine is returned when the peer closes before sending anything.
	ErrNoRequestLine = errors.New("connection closed before a request line arrived")

	// ErrInvalidRequestLine is returned for a line that is not valid UTF-8.
	ErrInvalidRequestLine = errors.New("request line is not valid UTF-8")
)

// ReadRequestLine reads the first line from r without its line terminator.
// A final line with no newline still counts. A line that is not valid UTF-8
// yields ErrInvalidRequestLine.
func ReadRequestLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read request line: %w", err)
		}
		if line == "" {
			return "", ErrNoRequestLine
		}
	}
	if !utf8.ValidString(line) {
		return "", fmt.Errorf("read request line: %w", ErrInvalidRequestLine)
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

// ComposeResponse builds "<status>\r\nContent-Length: <n>\r\n\r\n<body>".
func ComposeResponse(status string, body []byte) []byte {
	length := strconv.Itoa(len(body))
	buf := make([]byte, 0, len(status)+len(length)+22+len(body))
	buf = append(buf, status...)
	buf = append(buf, "\r\nContent-Length: "...)
	buf = append(buf, length...)
	buf = append(buf, "\r\n\r\n"...)
	return append(buf, body...)
}
