package singleinstance

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Wire format, one exchange per connection:
//
//	client: HELLO manga-dissector\n          resident: READY\n   (liveness probe, then close)
//	client: ACTIVATE|WAIT [JSON]\n           resident: OK\n<body> | ERR\n<message>, then close
const (
	residentHost = "127.0.0.1"
	helloLine    = "HELLO manga-dissector\n"
	readyLine    = "READY\n"
	okLine       = "OK\n"
	errLine      = "ERR\n"
)

func (r Request) line() string {
	mode := r.Mode
	if mode == "" {
		mode = ModeActivate
	}
	if r.JSON {
		return string(mode) + " JSON\n"
	}
	return string(mode) + "\n"
}

func parseRequest(line string) (Request, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 || len(fields) > 2 || !strings.HasSuffix(line, "\n") {
		return Request{}, false
	}
	req := Request{Mode: Mode(fields[0])}
	if req.Mode != ModeActivate && req.Mode != ModeWait {
		return Request{}, false
	}
	if len(fields) == 2 {
		if fields[1] != "JSON" {
			return Request{}, false
		}
		req.JSON = true
	}
	return req, true
}

var errBadReply = errors.New("resident sent a malformed reply")

// readReply consumes a status line and the body that follows it up to EOF.
func readReply(br *bufio.Reader) (string, error) {
	status, err := br.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading reply: %w", err)
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return "", fmt.Errorf("reading reply body: %w", err)
	}
	switch status {
	case okLine:
		return string(body), nil
	case errLine:
		return "", errors.New(string(body))
	}
	return "", errBadReply
}
