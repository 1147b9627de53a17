package singleinstance

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func usePort(t *testing.T, port int) {
	t.Helper()
	t.Setenv(PortStartEnvVar, fmt.Sprint(port))
	t.Setenv(PortEndEnvVar, fmt.Sprint(port))
}

func startServer(t *testing.T, ctx context.Context, port int) Server {
	t.Helper()
	usePort(t, port)
	srv := NewServer()
	if err := srv.Start(ctx); err != nil {
		t.Skipf("loopback port unavailable in this environment: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

type reply struct {
	delegated bool
	text      string
	err       error
}

func activateAsync(ctx context.Context, req Request) <-chan reply {
	done := make(chan reply, 1)
	go func() {
		delegated, text, err := NewClient().TryActivate(ctx, req)
		done <- reply{delegated, text, err}
	}()
	return done
}

func TestServerClientRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv := startServer(t, ctx, 49537)

	if port, ok := DetectResidentPort(ctx); !ok || port != srv.Port() {
		t.Fatalf("DetectResidentPort = %d, %v; want %d", port, ok, srv.Port())
	}

	done := activateAsync(ctx, Request{Mode: ModeWait, JSON: true})
	conn, err := srv.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if req := conn.Request(); req.Mode != ModeWait || !req.JSON {
		t.Errorf("unexpected request %+v", req)
	}
	if err := conn.RespondSuccess(`{"translation":"ok"}`); err != nil {
		t.Fatalf("respond: %v", err)
	}
	_ = conn.Close()

	r := <-done
	if r.err != nil || !r.delegated || r.text != `{"translation":"ok"}` {
		t.Fatalf("client got %+v", r)
	}
}

func TestErrorResponse(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv := startServer(t, ctx, 49538)

	done := activateAsync(ctx, Request{})
	conn, err := srv.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if conn.Request().Mode != ModeActivate {
		t.Errorf("empty mode should default to activate, got %q", conn.Request().Mode)
	}
	_ = conn.RespondError("Busy, please retry")
	_ = conn.Close()
	if r := <-done; !r.delegated || r.err == nil || r.err.Error() != "Busy, please retry" {
		t.Fatalf("client got %+v", r)
	}
}

func TestWaitAbandonedByContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv := startServer(t, ctx, 49539)

	clientCtx, abandon := context.WithCancel(ctx)
	done := activateAsync(clientCtx, Request{Mode: ModeWait})
	conn, err := srv.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	abandon()
	select {
	case r := <-done:
		if !errors.Is(r.err, context.Canceled) {
			t.Fatalf("client got %+v, want context.Canceled", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client still blocked after cancel")
	}
}

func TestCloseAnswersQueuedClients(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv := startServer(t, ctx, 49540)

	done := activateAsync(ctx, Request{Mode: ModeWait})
	// Give the handshake time to queue the request without consuming it.
	deadline := time.Now().Add(2 * time.Second)
	for len(srv.(*tcpServer).incoming) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("request never queued")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if r := <-done; r.err == nil || r.err.Error() != "resident shutting down" {
		t.Fatalf("client got %+v", r)
	}
	if _, err := srv.Next(ctx); !errors.Is(err, ErrServerClosed) {
		t.Fatalf("Next after Close = %v", err)
	}
}

func TestParseRequest(t *testing.T) {
	for _, req := range []Request{{Mode: ModeActivate}, {Mode: ModeActivate, JSON: true}, {Mode: ModeWait}, {Mode: ModeWait, JSON: true}} {
		got, ok := parseRequest(req.line())
		if !ok || got != req {
			t.Errorf("parseRequest(%q) = %+v, %v", req.line(), got, ok)
		}
	}
	for _, bad := range []string{"STDOUT\n", "WAIT", "WAIT XML\n", "WAIT JSON EXTRA\n", "\n", helloLine} {
		if _, ok := parseRequest(bad); ok {
			t.Errorf("parseRequest(%q) accepted", bad)
		}
	}
}

func TestPortRangeFromEnv(t *testing.T) {
	tests := []struct {
		start, end string
		want       PortRange
	}{
		{"", "", PortRange{49500, 49550}},
		{"50000", "50010", PortRange{50000, 50010}},
		{"50010", "50000", PortRange{50000, 50010}},
		{"80", "90", PortRange{1024, 1024}},
		{"60000", "70000", PortRange{60000, 65535}},
		{"junk", "49600", PortRange{49500, 49600}},
	}
	for _, tt := range tests {
		t.Run(tt.start+"-"+tt.end, func(t *testing.T) {
			t.Setenv(PortStartEnvVar, tt.start)
			t.Setenv(PortEndEnvVar, tt.end)
			if got := PortRangeFromEnv(); got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNoResident(t *testing.T) {
	usePort(t, 49549)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	delegated, _, err := NewClient().TryActivate(ctx, Request{Mode: ModeActivate})
	if err != nil || delegated {
		t.Fatalf("delegated=%v err=%v with no resident", delegated, err)
	}
}
