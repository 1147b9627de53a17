package browser

import (
	"context"
	"fmt"
	"log"

	"github.com/go-rod/rod/lib/proto"

	"manga-dissector/src/screenshot"
	"manga-dissector/src/tooltip"
	"manga-dissector/src/transform"
)

// CaptureTab takes one PNG screenshot of the visible part of the tab.
func (s *Session) CaptureTab(ctx context.Context) ([]byte, error) {
	if _, err := s.eval(`() => true`); err != nil {
		return nil, err
	}
	data, err := s.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	if len(data) == 0 {
		return nil, screenshot.ErrNoData
	}
	return data, nil
}

// Viewport reads every viewport metric in one evaluation.
func (s *Session) Viewport(ctx context.Context) (transform.ViewportState, error) {
	if _, err := s.eval(`() => true`); err != nil {
		return transform.ViewportState{}, err
	}
	res, err := s.page.Context(ctx).Eval(`() => window.__md.viewport()`)
	if err != nil {
		return transform.ViewportState{}, fmt.Errorf("browser: viewport: %w", err)
	}
	return decodeViewport(res.Value)
}

// Overlay draws the selection layer in the page.
type Overlay struct{ s *Session }

func (s *Session) Overlay() *Overlay { return &Overlay{s: s} }

func (o *Overlay) Show() error {
	_, err := o.s.eval(`() => window.__md.showOverlay()`)
	return err
}

func (o *Overlay) Box(r transform.SelectionRect) {
	if _, err := o.s.eval(`(l, t, w, h) => window.__md.box(l, t, w, h)`, r.Left, r.Top, r.Width, r.Height); err != nil {
		log.Printf("browser: overlay box: %v", err)
	}
}

func (o *Overlay) Conceal() {
	if _, err := o.s.eval(`() => window.__md.concealOverlay()`); err != nil {
		log.Printf("browser: overlay conceal: %v", err)
	}
}

func (o *Overlay) Remove() {
	if _, err := o.s.eval(`() => window.__md.removeOverlay()`); err != nil {
		log.Printf("browser: overlay remove: %v", err)
	}
}

// Panel is the tooltip surface in the page.
type Panel struct{ s *Session }

func (s *Session) Panel() *Panel { return &Panel{s: s} }

func (p *Panel) Open(html string, scale float64) (tooltip.Size, error) {
	res, err := p.s.eval(`(html, scale) => window.__md.openPanel(html, scale)`, html, scale)
	if err != nil {
		return tooltip.Size{}, err
	}
	return tooltip.Size{
		Width:  num(res.Value, "width"),
		Height: num(res.Value, "height"),
	}, nil
}

func (p *Panel) SetContent(html string) (tooltip.Size, error) {
	res, err := p.s.eval(`(html) => window.__md.setContent(html)`, html)
	if err != nil {
		return tooltip.Size{}, err
	}
	return tooltip.Size{
		Width:  num(res.Value, "width"),
		Height: num(res.Value, "height"),
	}, nil
}

func (p *Panel) Move(pt tooltip.Point) error {
	_, err := p.s.eval(`(x, y) => window.__md.movePanel(x, y)`, pt.X, pt.Y)
	return err
}

func (p *Panel) Resize(sz tooltip.Size) error {
	_, err := p.s.eval(`(w, h) => window.__md.resizePanel(w, h)`, sz.Width, sz.Height)
	return err
}

func (p *Panel) Close() error {
	_, err := p.s.eval(`() => window.__md.closePanel()`)
	return err
}

// ShowToast and HideToast draw the transient page toast.
func (s *Session) ShowToast(id int, msg string) error {
	_, err := s.eval(`(id, msg) => window.__md.showToast(id, msg)`, id, msg)
	return err
}

func (s *Session) HideToast(id int) error {
	_, err := s.eval(`(id) => window.__md.hideToast(id)`, id)
	return err
}
