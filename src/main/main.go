package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"manga-dissector/src/config"
	"manga-dissector/src/eventloop"
	"manga-dissector/src/hotkey"
	"manga-dissector/src/notification"
	"manga-dissector/src/popup"
	"manga-dissector/src/runtimeinit"
	"manga-dissector/src/session"
	"manga-dissector/src/settings"
	"manga-dissector/src/singleinstance"
	"manga-dissector/src/tray"
)

var errNoResident = errors.New("Manga Dissector is not running")

type mainOptions struct {
	apiKeyPath string
	envFile    string
	wait       bool
	jsonOutput bool
}

func (o *mainOptions) loadOptions() config.LoadOptions {
	return config.LoadOptions{APIKeyPathOverride: o.apiKeyPath, EnvFileOverride: o.envFile}
}

func main() {
	// systray and fyne both want the main OS thread.
	runtime.LockOSThread()

	opts := &mainOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(normalizeLegacyArgs(os.Args)[1:])
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(opts *mainOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "manga-dissector",
		Short:         "Translate Japanese text in a dragged browser region",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResident(opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.apiKeyPath, "api-key-path", "", "Path to API key file (highest precedence)")
	root.PersistentFlags().StringVar(&opts.envFile, "env", "", "Path to a .env file")

	activate := &cobra.Command{
		Use:   "activate",
		Short: "Ask the running instance to start a selection",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load .env early so SINGLEINSTANCE_PORT_* apply to the scan.
			_, _ = config.LoadWithOptions(opts.loadOptions())
			return runActivate(cmd.Context(), singleinstance.NewClient(), notification.Desktop{}, opts, cmd.OutOrStdout())
		},
	}
	activate.Flags().BoolVar(&opts.wait, "wait", false, "Wait for the translation and print it")
	activate.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the full analysis as JSON (with --wait)")

	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Open the API key window",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := runtimeinit.Bootstrap(runtimeinit.Options{LoadOptions: opts.loadOptions()})
			if err != nil {
				return err
			}
			settings.Show(settings.Form{Store: rt.Credentials, Validator: rt.Client})
			return nil
		},
	}

	root.AddCommand(activate, settingsCmd)
	return root
}

func runResident(opts *mainOptions) error {
	enableDPIAwareness()

	// Load .env early so SINGLEINSTANCE_PORT_* are available for the pre-flight.
	_, _ = config.LoadWithOptions(opts.loadOptions())
	probe, cancelProbe := context.WithTimeout(context.Background(), 300*time.Millisecond)
	port, running := singleinstance.DetectResidentPort(probe)
	cancelProbe()
	if running {
		log.Printf("Pre-flight: resident already answers on port %d", port)
		return fmt.Errorf("one is already running on port %d", port)
	}

	rt, err := runtimeinit.Bootstrap(runtimeinit.Options{LoadOptions: opts.loadOptions(), ShowBlockingError: true})
	if err != nil {
		return err
	}
	cfg := rt.Config

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sess, err := rt.Attach(ctx, true)
	if err != nil {
		return err
	}
	defer sess.Close()

	toaster := popup.New(sess, popup.DefaultDuration)
	defer toaster.Close()

	var clip session.ResultTarget
	if cfg.CopyTranslation {
		clip = session.ClipboardTarget{}
	}

	loop := eventloop.New(eventloop.Deps{
		Overlay:     sess.Overlay(),
		Surface:     sess.Panel(),
		Capture:     sess,
		Transformer: rt.Transformer,
		Analyzer:    rt.Client,
		Credentials: rt.Credentials,
		Toaster:     toaster,
		PageEvents:  sess.Events(),
		Clipboard:   clip,
		Status:      tray.UpdateTooltip,
	}, eventloop.OptionsFromConfig(cfg))

	// The page shortcut still works when the global hook is unavailable.
	if err := hotkey.Listen(cfg.Hotkey, loop.Activate, loop.Cancel); err != nil {
		log.Printf("Global hotkey %q unavailable: %v", cfg.Hotkey, err)
	}
	defer hotkey.Stop()

	log.Printf("Manga Dissector initialized")
	log.Printf("Hotkey: %s", cfg.Hotkey)
	log.Printf("Analyze deadline: %s", cfg.AnalyzeDeadline)

	done := make(chan error, 1)
	go func() {
		err := loop.Run(ctx)
		tray.Quit()
		done <- err
	}()

	tray.SetAboutExtra("press " + cfg.Hotkey)
	tray.Run(tray.Actions{
		Select: loop.Activate,
		Settings: func() {
			if err := settings.Spawn(opts.apiKeyPath, opts.envFile); err != nil {
				log.Printf("Failed to open settings: %v", err)
			}
		},
		Quit: cancel,
	}, cancel)

	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("event loop stopped: %w", err)
	}
	return nil
}

// notifier reports activation problems when there is no console to read.
type notifier interface {
	ShowToast(id int, msg string) error
}

func runActivate(ctx context.Context, client singleinstance.Client, n notifier, opts *mainOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req := singleinstance.Request{Mode: singleinstance.ModeActivate, JSON: opts.jsonOutput}
	if opts.wait {
		req.Mode = singleinstance.ModeWait
	}
	// A WAIT client stays connected until the user finishes the cycle.
	if !opts.wait {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	delegated, text, err := client.TryActivate(ctx, req)
	if err != nil {
		if delegated {
			return err
		}
		return fmt.Errorf("activation failed: %w", err)
	}
	if !delegated {
		_ = n.ShowToast(0, errNoResident.Error())
		return errNoResident
	}
	if text != "" {
		fmt.Fprintln(out, text)
	}
	return nil
}

// normalizeLegacyArgs accepts Go-style single-dash long flags.
func normalizeLegacyArgs(args []string) []string {
	if len(args) == 0 {
		return []string{"manga-dissector"}
	}
	normalized := make([]string, len(args))
	copy(normalized, args)
	for i := 1; i < len(normalized); i++ {
		arg := normalized[i]
		for _, name := range []string{"api-key-path", "env", "wait", "json"} {
			switch {
			case arg == "-"+name:
				normalized[i] = "--" + name
			case strings.HasPrefix(arg, "-"+name+"="):
				normalized[i] = "-" + arg
			}
		}
	}
	return normalized
}
