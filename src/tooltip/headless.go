package tooltip

// Headless is a Surface with no page behind it. The offline CLI uses it to
// get at the rendered panel markup.
type Headless struct {
	Width, Height float64
	HTML          string
	Visible       bool
}

func (h *Headless) Open(html string, scale float64) (Size, error) {
	h.HTML, h.Visible = html, true
	if h.Width == 0 || h.Height == 0 {
		h.Width, h.Height = 300, 200
	}
	return Size{h.Width, h.Height}, nil
}

func (h *Headless) SetContent(html string) (Size, error) {
	h.HTML = html
	return Size{h.Width, h.Height}, nil
}

func (h *Headless) Move(Point) error    { return nil }
func (h *Headless) Resize(s Size) error { h.Width, h.Height = s.Width, s.Height; return nil }
func (h *Headless) Close() error        { h.Visible = false; return nil }
