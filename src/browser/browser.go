// Package browser attaches to a Chromium tab over the DevTools protocol and
// hosts the page companion: the overlay, the tooltip panel and the toast are
// drawn in the page, and page events are forwarded to the event loop.
package browser

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"manga-dissector/src/events"
)

//go:embed companion.js
var companionJS string

const bindingName = "__mangaDissectorEmit"

// ErrClosed is returned by page operations after Close.
var ErrClosed = errors.New("browser session closed")

type Config struct {
	// ControlURL is the DevTools WebSocket URL of a running browser.
	// Empty launches a local one.
	ControlURL string
	// StartURL is opened when no page is available.
	StartURL string
	Headless bool
}

// Session is one attached tab.
type Session struct {
	browser *rod.Browser
	page    *rod.Page
	lnch    *launcher.Launcher

	events chan events.Event
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// Launch connects to (or starts) the browser, picks the active tab and
// installs the companion.
func Launch(ctx context.Context, cfg Config) (*Session, error) {
	s := &Session{events: make(chan events.Event, 64)}

	wsURL := cfg.ControlURL
	if wsURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		s.lnch = l
		log.Printf("browser: launched local chrome at %s", wsURL)
	} else {
		log.Printf("browser: connecting to %s", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	s.browser = b

	page, err := pickPage(b, cfg.StartURL)
	if err != nil {
		s.cleanup()
		return nil, err
	}
	s.page = page

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	if err := s.install(loopCtx); err != nil {
		s.cleanup()
		return nil, err
	}
	return s, nil
}

func pickPage(b *rod.Browser, startURL string) (*rod.Page, error) {
	pages, err := b.Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: list pages: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err == nil && string(info.Type) == "page" {
			return p, nil
		}
	}
	page, err := b.Page(proto.TargetCreateTarget{URL: startURL})
	if err != nil {
		return nil, fmt.Errorf("browser: open page: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		log.Printf("browser: wait load %s: %v", startURL, err)
	}
	return page, nil
}

// install adds the binding and the companion script to the current document
// and every future one.
func (s *Session) install(ctx context.Context) error {
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(s.page); err != nil {
		log.Printf("browser: addBinding failed (may already exist): %v", err)
	}
	go s.listenBinding(ctx)

	if _, err := s.page.EvalOnNewDocument(companionJS); err != nil {
		return fmt.Errorf("browser: register companion: %w", err)
	}
	if _, err := s.page.Eval(`() => {` + companionJS + `}`); err != nil {
		return fmt.Errorf("browser: inject companion: %w", err)
	}
	log.Printf("browser: companion installed")
	return nil
}

func (s *Session) listenBinding(ctx context.Context) {
	s.page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		ev, ok := decodeEvent(e.Payload)
		if !ok {
			log.Printf("browser: dropping undecodable page event %q", e.Payload)
			return
		}
		select {
		case s.events <- ev:
		default:
			log.Printf("browser: event queue full, dropping %s", ev.Kind)
		}
	})()
}

// Events delivers page events in arrival order. The event loop dispatches
// them into its registry.
func (s *Session) Events() <-chan events.Event { return s.events }

// Page is the attached tab.
func (s *Session) Page() *rod.Page { return s.page }

func (s *Session) eval(js string, args ...interface{}) (*proto.RuntimeRemoteObject, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return s.page.Eval(js, args...)
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.cleanup()
	return nil
}

func (s *Session) cleanup() {
	if s.cancel != nil {
		s.cancel()
	}
	// A browser we attached to keeps running; one we launched goes away with us.
	if s.lnch != nil {
		if s.browser != nil {
			_ = s.browser.Close()
		}
		s.lnch.Cleanup()
		s.lnch = nil
	}
	s.browser = nil
}
