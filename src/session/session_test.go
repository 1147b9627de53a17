package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"manga-dissector/src/credential"
	"manga-dissector/src/events"
	"manga-dissector/src/llm"
	"manga-dissector/src/overlay"
	"manga-dissector/src/screenshot"
	"manga-dissector/src/selection"
	"manga-dissector/src/singleinstance"
	"manga-dissector/src/tooltip"
	"manga-dissector/src/transform"
)

type surface struct {
	opened, closed int
	html           string
}

func (s *surface) Open(html string, scale float64) (tooltip.Size, error) {
	s.opened++
	s.html = html
	return tooltip.Size{Width: 300, Height: 200}, nil
}
func (s *surface) SetContent(html string) (tooltip.Size, error) {
	s.html = html
	return tooltip.Size{Width: 300, Height: 200}, nil
}
func (s *surface) Move(tooltip.Point) error  { return nil }
func (s *surface) Resize(tooltip.Size) error { return nil }
func (s *surface) Close() error              { s.closed++; return nil }

type countingSource struct {
	screenshot.Static
	captures int
}

func (c *countingSource) CaptureTab(ctx context.Context) ([]byte, error) {
	c.captures++
	return c.Static.CaptureTab(ctx)
}

type fakeAnalyzer struct {
	calls  int
	keys   []string
	result *llm.Analysis
	err    error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, apiKey, imageDataURL string) (*llm.Analysis, error) {
	f.calls++
	f.keys = append(f.keys, apiKey)
	if !strings.HasPrefix(imageDataURL, "data:image/jpeg;base64,") {
		return nil, errors.New("not a jpeg data URL")
	}
	if f.err != nil {
		return nil, f.err
	}
	a := *f.result
	return &a, nil
}

type toasts []string

func (t *toasts) Toast(msg string) { *t = append(*t, msg) }

type harness struct {
	reg      *events.Registry
	sel      *selection.Controller
	tip      *tooltip.Manager
	surface  *surface
	source   *countingSource
	analyzer *fakeAnalyzer
	creds    *credential.MemoryStore
	toasts   *toasts
	m        *Machine
	clock    time.Time
	selected []transform.SelectionRect
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 0x80, 0xff})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		reg:      events.NewRegistry(),
		surface:  &surface{},
		analyzer: &fakeAnalyzer{result: &llm.Analysis{OriginalText: "こんにちは", Translation: "Hello"}},
		creds:    credential.NewMemoryStore("sk-test"),
		toasts:   &toasts{},
		clock:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.source = &countingSource{Static: screenshot.Static{
		Data:  testPNG(t, 400, 300),
		State: screenshot.FlatViewport(400, 300),
	}}
	h.sel = selection.New(h.reg, &overlay.Logging{}, 0)
	h.tip = tooltip.New(h.reg, h.surface, tooltip.DefaultOptions())
	h.m = New(Options{
		Capture:      h.source,
		Transformer:  transform.New(transform.DefaultOptions(), transform.Nop{}),
		Analyzer:     h.analyzer,
		Credentials:  h.creds,
		Selection:    h.sel,
		Tooltip:      h.tip,
		Toast:        h.toasts,
		ReleaseDelay: 500 * time.Millisecond,
	})
	h.m.now = func() time.Time { return h.clock }
	h.tip.SetGuard(h.m.KeepOpen)
	h.tip.OnClose(h.m.TooltipClosed)
	h.sel.OnSelect(func(r transform.SelectionRect) { h.selected = append(h.selected, r) })
	return h
}

func (h *harness) drag(t *testing.T, x0, y0, x1, y1 float64) {
	t.Helper()
	if err := h.sel.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	h.reg.Dispatch(events.Event{Kind: events.PointerDown, Target: events.TargetOverlay, X: x0, Y: y0})
	h.reg.Dispatch(events.Event{Kind: events.PointerUp, Target: events.TargetOverlay, X: x1, Y: y1})
}

// cycle drags a selection and runs whatever the machine hands out.
func (h *harness) cycle(t *testing.T, x0, y0, x1, y1 float64) {
	t.Helper()
	n := len(h.selected)
	h.drag(t, x0, y0, x1, y1)
	if len(h.selected) == n {
		return
	}
	job, err := h.m.Begin(h.selected[len(h.selected)-1])
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if aj := h.m.CaptureDone(job.Run(context.Background())); aj != nil {
		h.m.AnalyzeDone(aj.Run(context.Background()))
	}
}

func TestSuccessfulCycle(t *testing.T) {
	h := newHarness(t)
	h.cycle(t, 20, 20, 120, 80)

	if h.m.Phase() != ShowingResult {
		t.Fatalf("phase = %s, want showingResult", h.m.Phase())
	}
	if h.tip.State() != tooltip.Result || !strings.Contains(h.surface.html, "Hello") {
		t.Fatalf("tooltip state=%s html=%q", h.tip.State(), h.surface.html)
	}
	s := h.m.Session()
	if s == nil || s.ID != 1 || s.Result.Translation != "Hello" {
		t.Fatalf("session = %+v", s)
	}
	if s.Crop.SrcWidth != 110 || s.Crop.SrcHeight != 70 {
		t.Errorf("crop = %+v, want 110x70 with padding", s.Crop)
	}
	if h.sel.ListenerCount() != 0 {
		t.Errorf("selection listeners left after capture: %d", h.sel.ListenerCount())
	}
	if h.analyzer.keys[0] != "sk-test" {
		t.Errorf("analyzer got key %q", h.analyzer.keys[0])
	}

	h.m.Close()
	if h.reg.Count() != 0 {
		t.Errorf("%d listener(s) left after close", h.reg.Count())
	}
	if h.m.Session() != nil || h.m.Phase() != Closed {
		t.Errorf("session not disposed: %+v %s", h.m.Session(), h.m.Phase())
	}
}

func TestUndersizedSelectionNeverCaptures(t *testing.T) {
	h := newHarness(t)
	h.cycle(t, 20, 20, 30, 200)
	if h.source.captures != 0 || h.analyzer.calls != 0 {
		t.Fatalf("captures=%d analyses=%d, want none", h.source.captures, h.analyzer.calls)
	}
	if h.tip.IsOpen() || h.reg.Count() != 0 {
		t.Fatalf("tooltip open=%v listeners=%d", h.tip.IsOpen(), h.reg.Count())
	}
}

func TestMissingCredential(t *testing.T) {
	h := newHarness(t)
	_ = h.creds.Set("")
	h.cycle(t, 0, 0, 100, 100)

	if h.analyzer.calls != 0 {
		t.Fatalf("analyzer called %d time(s) without a key", h.analyzer.calls)
	}
	if h.m.Phase() != ShowingError || Classify(h.m.Session().Err) != KindCredentialMissing {
		t.Fatalf("phase=%s err=%v", h.m.Phase(), h.m.Session().Err)
	}
	if !strings.Contains(h.surface.html, "API key not configured") {
		t.Errorf("tooltip html = %q", h.surface.html)
	}
}

func TestRemoteMessageShownVerbatim(t *testing.T) {
	h := newHarness(t)
	h.analyzer.err = &llm.RemoteError{Status: 429, Message: "rate limited"}
	h.cycle(t, 0, 0, 100, 100)

	if h.m.Phase() != ShowingError || h.tip.State() != tooltip.Error {
		t.Fatalf("phase=%s tooltip=%s", h.m.Phase(), h.tip.State())
	}
	if !strings.Contains(h.surface.html, "rate limited") {
		t.Errorf("tooltip html = %q", h.surface.html)
	}
	h.m.Close()
	if h.reg.Count() != 0 {
		t.Errorf("%d listener(s) left after error cycle", h.reg.Count())
	}
}

func TestSecondSelectionReplacesSession(t *testing.T) {
	h := newHarness(t)
	h.cycle(t, 0, 0, 100, 100)
	h.clock = h.clock.Add(time.Second)
	h.cycle(t, 50, 50, 150, 150)

	if h.surface.opened != 2 || h.surface.closed != 1 {
		t.Fatalf("opened=%d closed=%d, want 2 and 1", h.surface.opened, h.surface.closed)
	}
	if s := h.m.Session(); s == nil || s.ID != 2 {
		t.Fatalf("session = %+v, want id 2", s)
	}
	if h.tip.ListenerCount() == 0 || h.sel.ListenerCount() != 0 {
		t.Errorf("tooltip listeners=%d selection listeners=%d", h.tip.ListenerCount(), h.sel.ListenerCount())
	}
}

func TestBusyRefusesSecondSelection(t *testing.T) {
	h := newHarness(t)
	h.drag(t, 0, 0, 100, 100)
	job, err := h.m.Begin(h.selected[0])
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.m.Begin(transform.SelectionRect{Width: 50, Height: 50}); !errors.Is(err, ErrBusy) {
		t.Fatalf("Begin while capturing = %v, want ErrBusy", err)
	}
	if aj := h.m.CaptureDone(job.Run(context.Background())); aj == nil {
		t.Fatal("no analysis job")
	}
	if _, err := h.m.Begin(transform.SelectionRect{Width: 50, Height: 50}); !errors.Is(err, ErrBusy) {
		t.Fatalf("Begin while analyzing = %v, want ErrBusy", err)
	}
}

func TestStaleResultsAreDropped(t *testing.T) {
	h := newHarness(t)
	h.drag(t, 0, 0, 100, 100)
	job, _ := h.m.Begin(h.selected[0])
	res := job.Run(context.Background())
	res.ID = 99
	if h.m.CaptureDone(res) != nil || h.m.Phase() != Capturing {
		t.Fatalf("stale capture result was consumed, phase %s", h.m.Phase())
	}
	res.ID = job.ID
	aj := h.m.CaptureDone(res)
	h.m.AnalyzeDone(AnalyzeResult{ID: 7, Err: errors.New("old")})
	if h.m.Phase() != Analyzing {
		t.Fatalf("stale analysis result was consumed, phase %s", h.m.Phase())
	}
	h.m.AnalyzeDone(aj.Run(context.Background()))
	if h.m.Phase() != ShowingResult {
		t.Fatalf("phase = %s", h.m.Phase())
	}
}

func TestCaptureFailureToasts(t *testing.T) {
	h := newHarness(t)
	h.source.Data = nil
	h.cycle(t, 0, 0, 100, 100)

	if h.m.Phase() != Closed || h.tip.IsOpen() {
		t.Fatalf("phase=%s tooltip open=%v", h.m.Phase(), h.tip.IsOpen())
	}
	if len(*h.toasts) != 1 || (*h.toasts)[0] != "Failed to capture screenshot" {
		t.Fatalf("toasts = %v", *h.toasts)
	}
	if h.reg.Count() != 0 || h.analyzer.calls != 0 {
		t.Fatalf("listeners=%d analyses=%d", h.reg.Count(), h.analyzer.calls)
	}
}

func TestCloseDuringAnalysisDropsResult(t *testing.T) {
	h := newHarness(t)
	h.drag(t, 0, 0, 100, 100)
	job, _ := h.m.Begin(h.selected[0])
	aj := h.m.CaptureDone(job.Run(context.Background()))
	if !h.tip.IsOpen() || h.tip.State() != tooltip.Loading {
		t.Fatalf("loading tooltip not open")
	}
	h.tip.Close()
	if h.m.Phase() != Analyzing {
		t.Fatalf("closing the tooltip must not abort the cycle, phase %s", h.m.Phase())
	}
	h.m.AnalyzeDone(aj.Run(context.Background()))
	if h.m.Phase() != Closed || h.m.Session() != nil || h.surface.opened != 1 {
		t.Fatalf("phase=%s session=%+v opened=%d", h.m.Phase(), h.m.Session(), h.surface.opened)
	}
}

func TestKeepOpen(t *testing.T) {
	h := newHarness(t)
	if h.m.KeepOpen() {
		t.Fatal("idle machine keeps open")
	}
	_ = h.sel.Activate()
	if !h.m.KeepOpen() {
		t.Fatal("armed selection should keep the tooltip open")
	}
	h.sel.Cancel()

	h.cycle(t, 0, 0, 100, 100)
	if !h.m.KeepOpen() {
		t.Fatal("result just rendered; release delay not honoured")
	}
	h.clock = h.clock.Add(499 * time.Millisecond)
	if !h.m.KeepOpen() {
		t.Fatal("released early")
	}
	h.clock = h.clock.Add(time.Millisecond)
	if h.m.KeepOpen() {
		t.Fatal("still guarded after release delay")
	}
}

func TestCaptureJobHonoursContext(t *testing.T) {
	h := newHarness(t)
	h.m.opts.SettleDelay = time.Hour
	h.drag(t, 0, 0, 100, 100)
	job, _ := h.m.Begin(h.selected[0])
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := job.Run(ctx)
	if !errors.Is(res.Err, context.Canceled) || h.source.captures != 0 {
		t.Fatalf("err=%v captures=%d", res.Err, h.source.captures)
	}
}

func TestRunCycle(t *testing.T) {
	h := newHarness(t)
	var out bytes.Buffer
	h.m.opts.Target = StdoutTarget{Writer: &out}
	s, err := h.m.RunCycle(context.Background(), transform.SelectionRect{Left: 10, Top: 10, Width: 60, Height: 60})
	if err != nil {
		t.Fatal(err)
	}
	if s.Result.OriginalText != "こんにちは" || out.String() != "Hello\n" {
		t.Fatalf("result=%+v out=%q", s.Result, out.String())
	}
}

func TestCaptureMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{screenshot.ErrNoData, "Failed to capture screenshot"},
		{context.Canceled, "Capture cancelled"},
		{ErrBusy, ErrBusy.Error()},
		{fmt.Errorf("failed to read viewport: %w", errors.New("session closed")), "Failed to capture region: failed to read viewport: session closed"},
		{errors.New("image: unknown format"), "Failed to capture region: image: unknown format"},
	}
	for _, tt := range tests {
		if got := captureMessage(tt.err); got != tt.want {
			t.Errorf("captureMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestClassifyAndUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		kind ErrorKind
		msg  string
	}{
		{llm.ErrCredentialMissing, KindCredentialMissing, llm.ErrCredentialMissing.Error()},
		{&llm.RemoteError{Status: 429, Message: "rate limited"}, KindRemote, "rate limited"},
		{&llm.RemoteError{Status: 502}, KindRemote, "API request failed: 502"},
		{&llm.MalformedError{Message: "No response from API"}, KindMalformed, "No response from API"},
		{&llm.TransportError{Err: errors.New("connection refused")}, KindTransport, "Network error: connection refused"},
		{&llm.TransportError{Err: context.DeadlineExceeded}, KindTransport, "Request timed out"},
		{screenshot.ErrNoData, KindCapture, "Failed to capture screenshot"},
		{errors.New("boom"), KindUnknown, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := Classify(tt.err); got != tt.kind {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.kind)
			}
			if got := UserMessage(tt.err); got != tt.msg {
				t.Errorf("UserMessage(%v) = %q, want %q", tt.err, got, tt.msg)
			}
		})
	}
}

type fakeConn struct {
	req     singleinstance.Request
	ok, bad []string
	closed  bool
}

func (c *fakeConn) Request() singleinstance.Request  { return c.req }
func (c *fakeConn) RespondSuccess(text string) error { c.ok = append(c.ok, text); return nil }
func (c *fakeConn) RespondError(msg string) error    { c.bad = append(c.bad, msg); return nil }
func (c *fakeConn) Close() error                     { c.closed = true; return nil }

func TestTargets(t *testing.T) {
	a := &llm.Analysis{OriginalText: "猫", Translation: "cat"}

	conn := &fakeConn{req: singleinstance.Request{Mode: singleinstance.ModeWait}}
	if err := (DelegatedTarget{Conn: conn}).OnSuccess(a); err != nil {
		t.Fatal(err)
	}
	if len(conn.ok) != 1 || conn.ok[0] != "cat" || !conn.closed {
		t.Fatalf("conn = %+v", conn)
	}

	conn = &fakeConn{req: singleinstance.Request{Mode: singleinstance.ModeWait, JSON: true}}
	_ = (DelegatedTarget{Conn: conn}).OnSuccess(a)
	if len(conn.ok) != 1 || !strings.Contains(conn.ok[0], `"originalText": "猫"`) {
		t.Fatalf("json reply = %v", conn.ok)
	}

	conn = &fakeConn{}
	_ = (DelegatedTarget{Conn: conn}).OnFailure(&llm.RemoteError{Status: 401, Message: "Invalid API key"})
	if len(conn.bad) != 1 || conn.bad[0] != "Invalid API key" || !conn.closed {
		t.Fatalf("error reply = %+v", conn)
	}

	var copied []string
	ct := ClipboardTarget{Copy: func(s string) error { copied = append(copied, s); return nil }}
	_ = Targets{ct, nil}.OnSuccess(a)
	_ = ct.OnSuccess(&llm.Analysis{NoText: true})
	_ = ct.OnSuccess(&llm.Analysis{OriginalText: "犬"})
	if len(copied) != 2 || copied[0] != "cat" || copied[1] != "犬" {
		t.Fatalf("copied = %v", copied)
	}
}
