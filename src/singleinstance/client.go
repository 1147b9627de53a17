package singleinstance

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

const defaultProbeTimeout = 300 * time.Millisecond

type tcpClient struct {
	probeTimeout time.Duration
}

func (c *tcpClient) TryActivate(ctx context.Context, req Request) (bool, string, error) {
	port, ok := scan(ctx, c.probeTimeout)
	if !ok {
		return false, "", ctx.Err()
	}
	addr := net.JoinHostPort(residentHost, strconv.Itoa(port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false, "", fmt.Errorf("connecting to resident on %s: %w", addr, err)
	}
	defer conn.Close()
	// Closing the socket is the only way to abandon a blocked read.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if _, err := conn.Write([]byte(req.line())); err != nil {
		return true, "", fmt.Errorf("sending request: %w", err)
	}
	text, err := readReply(bufio.NewReader(conn))
	if err != nil && ctx.Err() != nil {
		return true, "", ctx.Err()
	}
	return true, text, err
}

// DetectResidentPort probes the range and returns the first port whose
// listener answers the handshake.
func DetectResidentPort(ctx context.Context) (int, bool) {
	return scan(ctx, defaultProbeTimeout)
}

func scan(ctx context.Context, timeout time.Duration) (int, bool) {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 && d < timeout {
			timeout = d
		}
	}
	r := PortRangeFromEnv()
	for port := r.Start; port <= r.End; port++ {
		if ctx.Err() != nil {
			return 0, false
		}
		if probe(net.JoinHostPort(residentHost, strconv.Itoa(port)), timeout) {
			return port, true
		}
	}
	return 0, false
}

func probe(addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write([]byte(helloLine)); err != nil {
		return false
	}
	resp, err := bufio.NewReader(conn).ReadString('\n')
	return err == nil && resp == readyLine
}
