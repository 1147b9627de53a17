package runtimeinit

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"manga-dissector/src/browser"
	"manga-dissector/src/clipboard"
	"manga-dissector/src/config"
	"manga-dissector/src/credential"
	"manga-dissector/src/llm"
	"manga-dissector/src/logutil"
	"manga-dissector/src/notification"
	"manga-dissector/src/transform"
)

type Options struct {
	LoadOptions config.LoadOptions
	// SetupLogging overrides logutil.Setup, e.g. to keep the CLI quiet.
	SetupLogging      func(cfg *config.Config)
	ShowBlockingError bool
}

// Runtime is everything the entry points share once configuration is loaded.
type Runtime struct {
	Config      *config.Config
	Client      *llm.Client
	Credentials credential.FileStore
	Transformer *transform.Transformer
}

func Bootstrap(opts Options) (*Runtime, error) {
	cfg, err := config.LoadWithOptions(opts.LoadOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if opts.SetupLogging != nil {
		opts.SetupLogging(cfg)
	} else {
		logutil.Setup(cfg.EnableFileLogging, cfg.LogDir)
	}

	rt := &Runtime{
		Config: cfg,
		Client: llm.New(llm.Config{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.AnalyzeDeadline,
		}),
		Credentials: credential.FileStore{
			Path:     cfg.APIKeyPath,
			Fallback: strings.TrimSpace(os.Getenv(config.APIKeyEnvVar)),
		},
		Transformer: transform.New(TransformOptions(cfg), diagnostics(cfg)),
	}

	// A missing key is not fatal: the tooltip tells the user where to set it.
	if cfg.APIKey == "" {
		log.Printf("No API key yet. Checked key file %s and %s env var", cfg.APIKeyPath, config.APIKeyEnvVar)
	} else {
		log.Printf("API key %s loaded", logutil.RedactKey(cfg.APIKey))
	}
	log.Printf("Using model: %s at %s", rt.Client.Model(), cfg.BaseURL)

	if cfg.CopyTranslation {
		if err := clipboard.Init(); err != nil {
			log.Printf("Clipboard unavailable, translations will not be copied: %v", err)
		}
	}
	return rt, nil
}

// TransformOptions maps the crop settings onto transform options.
func TransformOptions(cfg *config.Config) transform.Options {
	return transform.Options{
		Padding:      cfg.CropPadding,
		MinDimension: cfg.MinCanvasDim,
		MaxDimension: cfg.MaxCanvasDim,
		Quality:      cfg.JPEGQuality,
	}
}

func diagnostics(cfg *config.Config) transform.Diagnostics {
	if cfg.DebugCropDir == "" {
		return transform.Nop{}
	}
	log.Printf("Crop diagnostics enabled: %s", cfg.DebugCropDir)
	return transform.NewDirDiagnostics(cfg.DebugCropDir)
}

// Attach connects to the configured browser and installs the page companion.
func (rt *Runtime) Attach(ctx context.Context, showBlockingError bool) (*browser.Session, error) {
	sess, err := browser.Launch(ctx, browser.Config{
		ControlURL: rt.Config.BrowserURL,
		StartURL:   rt.Config.BrowserStartURL,
		Headless:   rt.Config.BrowserHeadless,
	})
	if err != nil {
		if showBlockingError {
			notification.ShowBlockingError("Browser unavailable", fmt.Sprintf("Could not attach to the browser: %v\n\nCheck BROWSER_URL or install Chrome.", err))
		}
		return nil, fmt.Errorf("failed to attach browser: %w", err)
	}
	return sess, nil
}
