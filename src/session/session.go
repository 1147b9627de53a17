package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"manga-dissector/src/credential"
	"manga-dissector/src/llm"
	"manga-dissector/src/screenshot"
	"manga-dissector/src/tooltip"
	"manga-dissector/src/transform"
)

var (
	// ErrBusy is returned by Begin while a capture or analysis is in flight.
	ErrBusy = errors.New("Busy, please retry")
	// ErrSelectionCancelled reports a gesture that ended without a selection.
	ErrSelectionCancelled = errors.New("selection cancelled")
)

type Phase int

const (
	Closed Phase = iota
	Capturing
	Analyzing
	ShowingResult
	ShowingError
)

func (p Phase) String() string {
	switch p {
	case Closed:
		return "closed"
	case Capturing:
		return "capturing"
	case Analyzing:
		return "analyzing"
	case ShowingResult:
		return "showingResult"
	case ShowingError:
		return "showingError"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Pending reports whether a cycle is in flight.
func (p Phase) Pending() bool { return p == Capturing || p == Analyzing }

// Selection is the part of the selection controller the machine drives.
type Selection interface {
	Active() bool
	Conceal()
	Release()
}

// Tooltip is the part of the tooltip manager the machine drives.
type Tooltip interface {
	Open(sel transform.SelectionRect, vp transform.ViewportState, c tooltip.Content) error
	Render(c tooltip.Content) error
	Close()
	IsOpen() bool
}

type Transformer interface {
	Transform(screenshot []byte, sel transform.SelectionRect, vp transform.ViewportState) (*transform.Output, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, apiKey, imageDataURL string) (*llm.Analysis, error)
}

// Toaster shows a transient message outside the tooltip.
type Toaster interface {
	Toast(msg string)
}

type Options struct {
	Capture     screenshot.Source
	Transformer Transformer
	Analyzer    Analyzer
	Credentials credential.Store
	Selection   Selection
	Tooltip     Tooltip
	Toast       Toaster
	// Target receives every finished cycle. Optional.
	Target ResultTarget

	SettleDelay  time.Duration
	ReleaseDelay time.Duration
	Deadline     time.Duration
}

// State is the one tooltip session. It is created when a capture succeeds
// and disposed when the tooltip closes or a new selection replaces it.
type State struct {
	ID        int
	Selection transform.SelectionRect
	Viewport  transform.ViewportState
	Crop      transform.CropSpec
	Display   tooltip.DisplayState
	Result    *llm.Analysis
	Err       error
	StartedAt time.Time
}

// Machine sequences capture, analysis and display. Its methods must be
// called from the event-loop goroutine; the jobs it hands out run elsewhere
// and come back through CaptureDone and AnalyzeDone.
type Machine struct {
	opts Options
	now  func() time.Time

	phase     Phase
	cycle     int
	pending   transform.SelectionRect
	startedAt time.Time
	session   *State
	releaseAt time.Time
}

func New(opts Options) *Machine {
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if opts.Deadline <= 0 {
		opts.Deadline = 30 * time.Second
	}
	return &Machine{opts: opts, now: time.Now}
}

func (m *Machine) Phase() Phase { return m.phase }

// Session returns the current tooltip session, or nil.
func (m *Machine) Session() *State { return m.session }

// KeepOpen is the guard the tooltip consults before click-outside dismissal.
func (m *Machine) KeepOpen() bool {
	if m.opts.Selection != nil && m.opts.Selection.Active() {
		return true
	}
	if m.phase.Pending() {
		return true
	}
	return m.now().Before(m.releaseAt)
}

// CaptureJob is the asynchronous half of the capturing phase.
type CaptureJob struct {
	ID     int
	Sel    transform.SelectionRect
	settle time.Duration
	source screenshot.Source
	tr     Transformer
}

type CaptureResult struct {
	ID       int
	Sel      transform.SelectionRect
	Viewport transform.ViewportState
	Output   *transform.Output
	Err      error
}

// Run waits the settle delay, then reads the viewport and the screenshot and crops it.
func (j *CaptureJob) Run(ctx context.Context) CaptureResult {
	res := CaptureResult{ID: j.ID, Sel: j.Sel}
	if j.settle > 0 {
		t := time.NewTimer(j.settle)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			res.Err = ctx.Err()
			return res
		}
	}
	vp, err := j.source.Viewport(ctx)
	if err != nil {
		res.Err = fmt.Errorf("failed to read viewport: %w", err)
		return res
	}
	res.Viewport = vp
	shot, err := j.source.CaptureTab(ctx)
	if err != nil {
		res.Err = err
		return res
	}
	if len(shot) == 0 {
		res.Err = screenshot.ErrNoData
		return res
	}
	out, err := j.tr.Transform(shot, j.Sel, vp)
	if err != nil {
		res.Err = err
		return res
	}
	res.Output = out
	return res
}

// AnalyzeJob is the asynchronous half of the analyzing phase.
type AnalyzeJob struct {
	ID       int
	key      string
	dataURL  string
	started  time.Time
	deadline time.Duration
	analyzer Analyzer
}

type AnalyzeResult struct {
	ID       int
	Analysis *llm.Analysis
	Err      error
}

func (j *AnalyzeJob) Run(ctx context.Context) AnalyzeResult {
	ctx, cancel := context.WithTimeout(ctx, j.deadline)
	defer cancel()
	a, err := j.analyzer.Analyze(ctx, j.key, j.dataURL)
	if err != nil {
		return AnalyzeResult{ID: j.ID, Err: err}
	}
	a.Timing.TotalMs = time.Since(j.started).Milliseconds()
	log.Printf("session: timing api=%dms image=%dKB total=%dms", a.Timing.APIMs, a.Timing.ImageKB, a.Timing.TotalMs)
	return AnalyzeResult{ID: j.ID, Analysis: a}
}

// Begin starts a cycle for a validated selection. Any open tooltip session is
// disposed first so sessions never stack.
func (m *Machine) Begin(sel transform.SelectionRect) (*CaptureJob, error) {
	if m.phase.Pending() {
		log.Printf("session: refusing selection while %s", m.phase)
		if m.opts.Selection != nil {
			m.opts.Selection.Release()
		}
		return nil, ErrBusy
	}
	m.dispose()

	if m.opts.Selection != nil {
		m.opts.Selection.Conceal()
	}
	m.cycle++
	m.phase = Capturing
	m.pending = sel
	m.startedAt = m.now()
	m.releaseAt = time.Time{}
	log.Printf("session: cycle %d capturing (%.0f,%.0f %.0fx%.0f)", m.cycle, sel.Left, sel.Top, sel.Width, sel.Height)
	return &CaptureJob{
		ID:     m.cycle,
		Sel:    sel,
		settle: m.opts.SettleDelay,
		source: m.opts.Capture,
		tr:     m.opts.Transformer,
	}, nil
}

// CaptureDone consumes a capture result. It returns the analysis job, or nil
// when the cycle ended here.
func (m *Machine) CaptureDone(res CaptureResult) *AnalyzeJob {
	if res.ID != m.cycle || m.phase != Capturing {
		log.Printf("session: dropping stale capture result %d (cycle %d, %s)", res.ID, m.cycle, m.phase)
		return nil
	}
	if m.opts.Selection != nil {
		m.opts.Selection.Release()
	}

	if res.Err != nil {
		log.Printf("session: capture failed: %v", res.Err)
		m.phase = Closed
		if m.opts.Toast != nil {
			m.opts.Toast.Toast(captureMessage(res.Err))
		}
		m.deliver(nil, res.Err)
		return nil
	}
	log.Printf("session: crop %dx%d -> %dx%d (%dKB)", res.Output.Crop.SrcWidth, res.Output.Crop.SrcHeight, res.Output.Width, res.Output.Height, res.Output.SizeKB())

	m.session = &State{
		ID:        res.ID,
		Selection: res.Sel,
		Viewport:  res.Viewport,
		Crop:      res.Output.Crop,
		Display:   tooltip.Loading,
		StartedAt: m.startedAt,
	}
	m.phase = Analyzing
	if err := m.opts.Tooltip.Open(res.Sel, res.Viewport, tooltip.LoadingContent()); err != nil {
		log.Printf("session: %v", err)
	}

	key, err := m.opts.Credentials.Get()
	if err != nil {
		log.Printf("session: credential store: %v", err)
	}
	if key == "" {
		m.AnalyzeDone(AnalyzeResult{ID: res.ID, Err: llm.ErrCredentialMissing})
		return nil
	}
	return &AnalyzeJob{
		ID:       res.ID,
		key:      key,
		dataURL:  res.Output.DataURL(),
		started:  m.startedAt,
		deadline: m.opts.Deadline,
		analyzer: m.opts.Analyzer,
	}
}

// AnalyzeDone renders the result or error and starts the release grace period.
func (m *Machine) AnalyzeDone(res AnalyzeResult) {
	if res.ID != m.cycle || m.phase != Analyzing || m.session == nil {
		log.Printf("session: dropping stale analysis result %d (cycle %d, %s)", res.ID, m.cycle, m.phase)
		return
	}
	s := m.session
	var content tooltip.Content
	if res.Err != nil {
		log.Printf("session: analysis failed (%s): %v", Classify(res.Err), res.Err)
		s.Display, s.Result, s.Err = tooltip.Error, nil, res.Err
		m.phase = ShowingError
		content = tooltip.ErrorContent(UserMessage(res.Err))
	} else {
		s.Display, s.Result, s.Err = tooltip.Result, res.Analysis, nil
		m.phase = ShowingResult
		content = tooltip.ResultContent(res.Analysis)
	}
	m.releaseAt = m.now().Add(m.opts.ReleaseDelay)

	if m.opts.Tooltip.IsOpen() {
		if err := m.opts.Tooltip.Render(content); err != nil {
			log.Printf("session: %v", err)
		}
	} else {
		log.Printf("session: tooltip closed before the result arrived")
		m.session = nil
		m.phase = Closed
	}
	m.deliver(res.Analysis, res.Err)
}

// Close closes the tooltip explicitly.
func (m *Machine) Close() {
	if m.opts.Tooltip.IsOpen() {
		m.opts.Tooltip.Close()
	}
	m.TooltipClosed()
}

// TooltipClosed records that the tooltip went away, by close control or click outside.
func (m *Machine) TooltipClosed() {
	if m.phase.Pending() {
		// The cycle still completes; AnalyzeDone notices the closed tooltip.
		return
	}
	if m.session != nil {
		log.Printf("session: %d disposed", m.session.ID)
	}
	m.session = nil
	m.phase = Closed
}

func (m *Machine) dispose() {
	if m.session == nil && !m.opts.Tooltip.IsOpen() {
		return
	}
	if m.opts.Tooltip.IsOpen() {
		m.opts.Tooltip.Close()
	}
	m.session = nil
	m.phase = Closed
}

func (m *Machine) deliver(a *llm.Analysis, err error) {
	if m.opts.Target == nil {
		return
	}
	if err != nil {
		if terr := m.opts.Target.OnFailure(err); terr != nil {
			log.Printf("session: result target: %v", terr)
		}
		return
	}
	if terr := m.opts.Target.OnSuccess(a); terr != nil {
		log.Printf("session: result target: %v", terr)
	}
}

// RunCycle drives one cycle to completion on the calling goroutine.
func (m *Machine) RunCycle(ctx context.Context, sel transform.SelectionRect) (*State, error) {
	job, err := m.Begin(sel)
	if err != nil {
		return nil, err
	}
	cres := job.Run(ctx)
	if aj := m.CaptureDone(cres); aj != nil {
		m.AnalyzeDone(aj.Run(ctx))
	}
	if cres.Err != nil {
		return nil, cres.Err
	}
	if m.session == nil {
		return nil, errors.New("tooltip closed before the result arrived")
	}
	return m.session, m.session.Err
}
