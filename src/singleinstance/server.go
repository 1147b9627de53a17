package singleinstance

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"strconv"
	"sync"
	"time"
)

var ErrServerClosed = errors.New("singleinstance: server closed")

const handshakeTimeout = 3 * time.Second

type tcpServer struct {
	lis      net.Listener
	port     int
	incoming chan *tcpConn
	done     chan struct{}
	once     sync.Once
}

// Start binds only the first port of the range, so a second resident fails
// here instead of quietly taking the next port.
func (s *tcpServer) Start(ctx context.Context) error {
	if s.lis != nil {
		return nil
	}
	addr := net.JoinHostPort(residentHost, strconv.Itoa(PortRangeFromEnv().Start))
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		log.Printf("singleinstance: failed to bind %s: %v", addr, err)
		return err
	}
	s.lis = lis
	s.port = lis.Addr().(*net.TCPAddr).Port
	s.done = make(chan struct{})
	log.Printf("singleinstance: listening on %s", addr)
	go s.accept(ctx)
	return nil
}

func (s *tcpServer) Port() int { return s.port }

func (s *tcpServer) accept(ctx context.Context) {
	for {
		c, err := s.lis.Accept()
		if err != nil {
			return
		}
		go s.handshake(ctx, c)
	}
}

// handshake reads the single request line. Probes are answered here; real
// requests are queued for Next.
func (s *tcpServer) handshake(ctx context.Context, c net.Conn) {
	remote := c.RemoteAddr().String()
	_ = c.SetDeadline(time.Now().Add(handshakeTimeout))
	br := bufio.NewReader(c)
	bw := bufio.NewWriter(c)
	line, err := br.ReadString('\n')
	if err != nil {
		log.Printf("singleinstance: %s hung up before a request: %v", remote, err)
		_ = c.Close()
		return
	}
	if line == helloLine {
		_, _ = bw.WriteString(readyLine)
		_ = bw.Flush()
		_ = c.Close()
		return
	}
	req, ok := parseRequest(line)
	if !ok {
		log.Printf("singleinstance: unknown request %q from %s", line, remote)
		_, _ = bw.WriteString(errLine + "unknown request")
		_ = bw.Flush()
		_ = c.Close()
		return
	}
	// WAIT clients stay connected for the whole cycle.
	_ = c.SetDeadline(time.Time{})
	log.Printf("singleinstance: %s from %s (json=%v)", req.Mode, remote, req.JSON)
	select {
	case s.incoming <- &tcpConn{c: c, r: req, w: bw}:
	case <-s.done:
		_ = c.Close()
	case <-ctx.Done():
		_ = c.Close()
	}
}

func (s *tcpServer) Next(ctx context.Context) (Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrServerClosed
	case tc := <-s.incoming:
		return tc, nil
	}
}

func (s *tcpServer) Close() error {
	var err error
	s.once.Do(func() {
		if s.done != nil {
			close(s.done)
		}
		if s.lis != nil {
			err = s.lis.Close()
		}
		// Anyone still queued gets told instead of left hanging.
		for {
			select {
			case tc := <-s.incoming:
				_ = tc.RespondError("resident shutting down")
				_ = tc.Close()
			default:
				return
			}
		}
	})
	return err
}

type tcpConn struct {
	c net.Conn
	r Request
	w *bufio.Writer
}

func (tc *tcpConn) Request() Request { return tc.r }

func (tc *tcpConn) RespondSuccess(text string) error { return tc.respond(okLine, text) }
func (tc *tcpConn) RespondError(msg string) error    { return tc.respond(errLine, msg) }

func (tc *tcpConn) respond(status, body string) error {
	if _, err := tc.w.WriteString(status + body); err != nil {
		return err
	}
	return tc.w.Flush()
}

func (tc *tcpConn) Close() error { return tc.c.Close() }
