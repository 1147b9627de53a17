package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"manga-dissector/src/singleinstance"
)

func TestNewRootCmdDefaults(t *testing.T) {
	opts := &stressOptions{}
	cmd := newRootCmd(opts, singleinstance.NewClient, &bytes.Buffer{})
	if err := cmd.ParseFlags([]string{}); err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}
	if opts.n != 50 {
		t.Fatalf("Expected default n=50, got %d", opts.n)
	}
	if opts.mode != "activate" {
		t.Fatalf("Expected default mode=activate, got %q", opts.mode)
	}
	if opts.deadline != 5*time.Second {
		t.Fatalf("Expected default deadline=5s, got %v", opts.deadline)
	}
}

func TestNewRootCmdCustomFlags(t *testing.T) {
	opts := &stressOptions{}
	cmd := newRootCmd(opts, singleinstance.NewClient, &bytes.Buffer{})
	if err := cmd.ParseFlags([]string{"--n", "3", "--mode", "wait", "--deadline", "7s"}); err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}
	if opts.n != 3 || opts.mode != "wait" || opts.deadline != 7*time.Second {
		t.Fatalf("Unexpected options %+v", opts)
	}
}

// firstWins delegates the first request and refuses the rest as busy.
type firstWins struct {
	calls *int32
	modes chan singleinstance.Mode
}

func (f firstWins) TryActivate(ctx context.Context, req singleinstance.Request) (bool, string, error) {
	f.modes <- req.Mode
	if atomic.AddInt32(f.calls, 1) == 1 {
		return true, "", nil
	}
	return true, "", errors.New("Busy, please retry")
}

func TestBurstCountsOutcomes(t *testing.T) {
	var calls int32
	modes := make(chan singleinstance.Mode, 5)
	s := burst(5, singleinstance.ModeWait, time.Second, func() singleinstance.Client {
		return firstWins{calls: &calls, modes: modes}
	})
	if s.ok != 1 || s.busy != 4 || s.failed != 0 || s.notRunning != 0 {
		t.Fatalf("summary = %s", s)
	}
	close(modes)
	for m := range modes {
		if m != singleinstance.ModeWait {
			t.Fatalf("mode = %s", m)
		}
	}
}

type noResident struct{}

func (noResident) TryActivate(ctx context.Context, req singleinstance.Request) (bool, string, error) {
	return false, "", nil
}

func TestCommandReportsSummary(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd(&stressOptions{}, func() singleinstance.Client { return noResident{} }, &out)
	cmd.SetArgs([]string{"--n", "2"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "launched=2 ok=0 busy=0 not-running=2 err=0") {
		t.Fatalf("output = %q", out.String())
	}

	cmd = newRootCmd(&stressOptions{}, func() singleinstance.Client { return noResident{} }, &out)
	cmd.SetArgs([]string{"--mode", "clip"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected unknown mode error")
	}
}
