package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"manga-dissector/src/config"
	"manga-dissector/src/events"
	"manga-dissector/src/logutil"
	"manga-dissector/src/runtimeinit"
	"manga-dissector/src/screenshot"
	"manga-dissector/src/session"
	"manga-dissector/src/tooltip"
	"manga-dissector/src/transform"
)

const (
	maxFileSizeMB = 10
	maxFileSize   = maxFileSizeMB * 1024 * 1024
)

type cliOptions struct {
	filePath   string
	screen     int
	rect       string
	viewport   string
	jsonOutput bool
	htmlOutput bool
	verbose    bool
	apiKeyPath string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return runWithArgs(normalizeLegacyArgs(os.Args), os.Stdin, os.Stdout)
}

func runWithArgs(args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		args = []string{"dissect"}
	}

	opts := &cliOptions{}
	cmd := newRootCmd(opts, stdin, stdout)
	cmd.SetArgs(args[1:])
	return cmd.Execute()
}

func newRootCmd(opts *cliOptions, stdin io.Reader, stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dissect",
		Short:         "Crop a saved screenshot and translate the Japanese text in it",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithOptions(cmd.Context(), *opts, stdin, stdout)
		},
	}

	cmd.Flags().StringVar(&opts.filePath, "file", "", "Path to the screenshot (PNG, JPEG, WebP or BMP; '-' for stdin)")
	cmd.Flags().IntVar(&opts.screen, "screen", -1, "Capture this display instead of reading a file")
	cmd.Flags().StringVar(&opts.rect, "rect", "", "Selection as left,top,width,height in CSS pixels (default: whole viewport)")
	cmd.Flags().StringVar(&opts.viewport, "viewport", "", "Viewport as WxH or a viewport JSON object (default: image size, unzoomed)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the full analysis as JSON")
	cmd.Flags().BoolVar(&opts.htmlOutput, "html", false, "Output the sanitized tooltip markup")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output to stderr")
	cmd.Flags().StringVar(&opts.apiKeyPath, "api-key-path", "", "Path to API key file (highest precedence)")

	return cmd
}

func runWithOptions(ctx context.Context, opts cliOptions, stdin io.Reader, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.filePath == "" && opts.screen < 0 {
		return errors.New("one of --file or --screen is required")
	}
	if opts.jsonOutput && opts.htmlOutput {
		return errors.New("--json and --html are mutually exclusive")
	}

	rt, err := runtimeinit.Bootstrap(runtimeinit.Options{
		LoadOptions: config.LoadOptions{APIKeyPathOverride: opts.apiKeyPath},
		SetupLogging: func(cfg *config.Config) {
			// Logging must never reach stdout; the result goes there.
			if opts.verbose {
				log.SetOutput(os.Stderr)
				return
			}
			logutil.Setup(cfg.EnableFileLogging, cfg.LogDir)
		},
	})
	if err != nil {
		return err
	}
	log.Printf("dissect: model %s, key file %s", rt.Client.Model(), rt.Config.APIKeyPath)

	source, err := openSource(ctx, opts, stdin)
	if err != nil {
		return err
	}
	vp, err := source.Viewport(ctx)
	if err != nil {
		return fmt.Errorf("failed to read viewport: %w", err)
	}
	sel, err := parseRect(opts.rect, vp)
	if err != nil {
		return err
	}

	panel := &tooltip.Headless{}
	var target session.ResultTarget = session.StdoutTarget{Writer: stdout, JSON: opts.jsonOutput}
	if opts.htmlOutput {
		target = nil
	}
	m := session.New(session.Options{
		Capture:     source,
		Transformer: rt.Transformer,
		Analyzer:    rt.Client,
		Credentials: rt.Credentials,
		Tooltip:     tooltip.New(events.NewRegistry(), panel, tooltip.DefaultOptions()),
		Target:      target,
		Deadline:    rt.Config.AnalyzeDeadline,
	})

	state, err := m.RunCycle(ctx, sel)
	if opts.htmlOutput && state != nil {
		fmt.Fprintln(stdout, panel.HTML)
	}
	if err != nil {
		log.Printf("dissect: cycle failed: %v", err)
		return errors.New(session.UserMessage(err))
	}
	return nil
}

// openSource returns a replayable capture source: the named file, stdin or a
// live display.
func openSource(ctx context.Context, opts cliOptions, stdin io.Reader) (screenshot.Source, error) {
	if opts.screen >= 0 {
		d := screenshot.Desktop{Display: opts.screen}
		if opts.viewport == "" {
			return d, nil
		}
		data, err := d.CaptureTab(ctx)
		if err != nil {
			return nil, err
		}
		return staticSource(data, opts.viewport)
	}

	data, err := readInput(opts.filePath, stdin)
	if err != nil {
		return nil, err
	}
	return staticSource(data, opts.viewport)
}

func staticSource(data []byte, viewport string) (screenshot.Source, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("input is not a supported image: %w", err)
	}
	log.Printf("dissect: %s image %dx%d", format, cfg.Width, cfg.Height)

	vp := screenshot.FlatViewport(cfg.Width, cfg.Height)
	if viewport != "" {
		if vp, err = parseViewport(viewport); err != nil {
			return nil, err
		}
	}
	return screenshot.Static{Data: data, State: vp}, nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(io.LimitReader(stdin, maxFileSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		info, statErr := os.Stat(path)
		if statErr != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", path, statErr)
		}
		if info.Size() > maxFileSize {
			return nil, fmt.Errorf("input file exceeds maximum size of %d MB", maxFileSizeMB)
		}
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", path, err)
		}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("input file is empty")
	}
	if len(data) > maxFileSize {
		return nil, fmt.Errorf("input file exceeds maximum size of %d MB", maxFileSizeMB)
	}
	return data, nil
}

// parseRect reads "left,top,width,height". Empty selects the whole layout viewport.
func parseRect(s string, vp transform.ViewportState) (transform.SelectionRect, error) {
	if strings.TrimSpace(s) == "" {
		return transform.SelectionRect{Width: vp.LayoutWidth, Height: vp.LayoutHeight}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return transform.SelectionRect{}, fmt.Errorf("invalid --rect %q: want left,top,width,height", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return transform.SelectionRect{}, fmt.Errorf("invalid --rect %q: %w", s, err)
		}
		v[i] = f
	}
	if v[2] <= 0 || v[3] <= 0 {
		return transform.SelectionRect{}, fmt.Errorf("invalid --rect %q: width and height must be positive", s)
	}
	return transform.SelectionRect{Left: v[0], Top: v[1], Width: v[2], Height: v[3]}, nil
}

// parseViewport reads "WxH" (unzoomed, DPR 1) or a viewport JSON object as
// the page companion reports it.
func parseViewport(s string) (transform.ViewportState, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		var vp transform.ViewportState
		if err := json.Unmarshal([]byte(s), &vp); err != nil {
			return vp, fmt.Errorf("invalid --viewport JSON: %w", err)
		}
		if vp.DevicePixelRatio <= 0 {
			vp.DevicePixelRatio = 1
		}
		if vp.VisualScale <= 0 {
			vp.VisualScale = 1
		}
		if vp.VisualWidth <= 0 {
			vp.VisualWidth = vp.LayoutWidth
		}
		if vp.VisualHeight <= 0 {
			vp.VisualHeight = vp.LayoutHeight
		}
		if vp.LayoutWidth <= 0 || vp.LayoutHeight <= 0 {
			return vp, errors.New("invalid --viewport JSON: layoutWidth and layoutHeight are required")
		}
		return vp, nil
	}
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return transform.ViewportState{}, fmt.Errorf("invalid --viewport %q: want WxH or JSON", s)
	}
	wi, errW := strconv.Atoi(strings.TrimSpace(w))
	hi, errH := strconv.Atoi(strings.TrimSpace(h))
	if errW != nil || errH != nil || wi <= 0 || hi <= 0 {
		return transform.ViewportState{}, fmt.Errorf("invalid --viewport %q: want WxH or JSON", s)
	}
	return screenshot.FlatViewport(wi, hi), nil
}

func normalizeLegacyArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}

	normalized := make([]string, len(args))
	copy(normalized, args)

	for i := 1; i < len(normalized); i++ {
		arg := normalized[i]
		for _, name := range []string{"file", "screen", "rect", "viewport", "json", "html", "verbose", "api-key-path"} {
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
