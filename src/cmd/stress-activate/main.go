package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"manga-dissector/src/singleinstance"
)

type stressOptions struct {
	n        int
	mode     string
	deadline time.Duration
}

// summary counts how the resident answered a burst of activations. Requests
// arriving while a cycle is pending come back busy.
type summary struct {
	launched   int
	ok         int32
	busy       int32
	notRunning int32
	failed     int32
	elapsed    time.Duration
}

func (s *summary) String() string {
	return fmt.Sprintf("launched=%d ok=%d busy=%d not-running=%d err=%d elapsed=%s",
		s.launched, s.ok, s.busy, s.notRunning, s.failed, s.elapsed)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opts := &stressOptions{}
	cmd := newRootCmd(opts, singleinstance.NewClient, os.Stdout)
	return cmd.Execute()
}

func newRootCmd(opts *stressOptions, newClient func() singleinstance.Client, out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stress-activate",
		Short:         "Fire concurrent activation requests at the resident",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := parseMode(opts.mode)
			if err != nil {
				return err
			}
			s := burst(opts.n, mode, opts.deadline, newClient)
			fmt.Fprintln(out, s)
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.n, "n", 50, "number of clients to launch")
	cmd.Flags().StringVar(&opts.mode, "mode", "activate", "activate|wait: answer on arm, or on cycle completion")
	cmd.Flags().DurationVar(&opts.deadline, "deadline", 5*time.Second, "per-client dial timeout")

	return cmd
}

func parseMode(s string) (singleinstance.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "activate":
		return singleinstance.ModeActivate, nil
	case "wait":
		return singleinstance.ModeWait, nil
	}
	return "", fmt.Errorf("unknown mode %q (want activate or wait)", s)
}

func burst(n int, mode singleinstance.Mode, deadline time.Duration, newClient func() singleinstance.Client) *summary {
	s := &summary{launched: n}
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), deadline)
			defer cancel()
			delegated, _, err := newClient().TryActivate(ctx, singleinstance.Request{Mode: mode})
			switch {
			case err != nil && isBusy(err):
				atomic.AddInt32(&s.busy, 1)
			case err != nil:
				atomic.AddInt32(&s.failed, 1)
			case !delegated:
				atomic.AddInt32(&s.notRunning, 1)
			default:
				atomic.AddInt32(&s.ok, 1)
			}
		}()
	}
	wg.Wait()
	s.elapsed = time.Since(start)
	return s
}

func isBusy(err error) bool {
	var msg string
	for e := err; e != nil; e = errors.Unwrap(e) {
		msg = e.Error()
	}
	return strings.Contains(strings.ToLower(msg), "busy")
}
