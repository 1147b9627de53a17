package eventloop

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"manga-dissector/src/config"
	"manga-dissector/src/credential"
	"manga-dissector/src/events"
	"manga-dissector/src/llm"
	"manga-dissector/src/overlay"
	"manga-dissector/src/screenshot"
	"manga-dissector/src/selection"
	"manga-dissector/src/session"
	"manga-dissector/src/singleinstance"
	"manga-dissector/src/tooltip"
	"manga-dissector/src/transform"
	"manga-dissector/src/worker"
)

// Deps are the collaborators the loop drives. Overlay, Surface, Capture,
// Transformer, Analyzer and Credentials are required.
type Deps struct {
	Overlay     overlay.Overlay
	Surface     tooltip.Surface
	Capture     screenshot.Source
	Transformer session.Transformer
	Analyzer    session.Analyzer
	Credentials credential.Store
	Toaster     session.Toaster
	// PageEvents are forwarded DOM events. Optional.
	PageEvents <-chan events.Event
	// Clipboard receives every successful result. Optional.
	Clipboard session.ResultTarget
	// Server answers run-once clients. Nil starts the TCP server.
	Server singleinstance.Server
	// Status shows a one-line state, normally the tray tooltip. Optional.
	Status func(string)
}

type Options struct {
	MinSelection float64
	Tooltip      tooltip.Options
	SettleDelay  time.Duration
	ReleaseDelay time.Duration
	Deadline     time.Duration
	Workers      int
}

// OptionsFromConfig maps the loaded configuration onto loop options.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{Tooltip: tooltip.DefaultOptions(), Deadline: 30 * time.Second, ReleaseDelay: 500 * time.Millisecond, SettleDelay: 50 * time.Millisecond}
	if cfg == nil {
		return opts
	}
	opts.MinSelection = cfg.MinSelection
	opts.SettleDelay = cfg.SettleDelay
	opts.ReleaseDelay = cfg.ReleaseDelay
	if cfg.DismissDelay > 0 {
		opts.Tooltip.DismissDelay = cfg.DismissDelay
	}
	if cfg.AnalyzeDeadline > 0 {
		opts.Deadline = cfg.AnalyzeDeadline
	}
	return opts
}

// Loop is the single goroutine that owns the registry, the selection
// controller, the tooltip and the session machine. Everything else talks to
// it through channels.
type Loop struct {
	reg     *events.Registry
	sel     *selection.Controller
	tip     *tooltip.Manager
	machine *session.Machine
	pool    *worker.Pool
	srv     singleinstance.Server

	toaster   session.Toaster
	clipboard session.ResultTarget
	status    func(string)

	pageEvents <-chan events.Event
	activateCh chan struct{}
	cancelCh   chan struct{}
	calls      chan func()
	captureCh  chan session.CaptureResult
	analyzeCh  chan session.AnalyzeResult

	ctx     context.Context
	waiting []singleinstance.Conn
	busy    bool
}

func New(deps Deps, opts Options) *Loop {
	l := &Loop{
		reg:        events.NewRegistry(),
		pool:       worker.New(opts.Workers),
		srv:        deps.Server,
		toaster:    deps.Toaster,
		clipboard:  deps.Clipboard,
		status:     deps.Status,
		pageEvents: deps.PageEvents,
		activateCh: make(chan struct{}, 4),
		cancelCh:   make(chan struct{}, 4),
		calls:      make(chan func()),
		captureCh:  make(chan session.CaptureResult, 1),
		analyzeCh:  make(chan session.AnalyzeResult, 1),
	}
	if l.srv == nil {
		l.srv = singleinstance.NewServer()
	}
	l.sel = selection.New(l.reg, deps.Overlay, opts.MinSelection)
	l.tip = tooltip.New(l.reg, deps.Surface, opts.Tooltip)
	l.machine = session.New(session.Options{
		Capture:      deps.Capture,
		Transformer:  deps.Transformer,
		Analyzer:     deps.Analyzer,
		Credentials:  deps.Credentials,
		Selection:    l.sel,
		Tooltip:      l.tip,
		Toast:        deps.Toaster,
		Target:       loopTarget{l},
		SettleDelay:  opts.SettleDelay,
		ReleaseDelay: opts.ReleaseDelay,
		Deadline:     opts.Deadline,
	})
	l.tip.SetGuard(l.machine.KeepOpen)
	l.tip.OnClose(l.machine.TooltipClosed)
	l.sel.OnSelect(l.begin)
	l.sel.OnAbort(l.aborted)
	return l
}

// Activate asks the loop to arm selection mode. Safe from any goroutine.
func (l *Loop) Activate() {
	select {
	case l.activateCh <- struct{}{}:
	default:
	}
}

// Cancel asks the loop to cancel a selection gesture. Safe from any goroutine.
func (l *Loop) Cancel() {
	select {
	case l.cancelCh <- struct{}{}:
	default:
	}
}

// Do runs fn on the loop goroutine and waits for it.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case l.calls <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot is a read-only view of loop state for callers outside the loop.
type Snapshot struct {
	Phase        session.Phase
	Selection    selection.State
	TooltipOpen  bool
	TooltipState tooltip.DisplayState
	TooltipHTML  string
	Listeners    int
	Waiting      int
}

func (l *Loop) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := l.Do(ctx, func() {
		s = Snapshot{
			Phase:        l.machine.Phase(),
			Selection:    l.sel.State(),
			TooltipOpen:  l.tip.IsOpen(),
			TooltipState: l.tip.State(),
			TooltipHTML:  l.tip.HTML(),
			Listeners:    l.reg.Count(),
			Waiting:      len(l.waiting),
		}
	})
	return s, err
}

// Run starts the singleinstance server and processes everything until ctx
// is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.ctx = ctx
	if err := l.srv.Start(ctx); err != nil {
		return err
	}
	if p := l.srv.Port(); p > 0 {
		log.Printf("Resident listening on 127.0.0.1:%d", p)
	}
	defer l.pool.Close()

	// Accept loop in background to avoid blocking result handling
	reqCh := make(chan singleinstance.Conn, 4)
	go func() {
		for {
			conn, err := l.srv.Next(ctx)
			if err != nil || conn == nil {
				close(reqCh)
				return
			}
			reqCh <- conn
		}
	}()

	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return ctx.Err()
		case <-l.activateCh:
			if err := l.activate(); err != nil {
				l.toast(err.Error())
			}
		case <-l.cancelCh:
			l.sel.Cancel()
		case fn := <-l.calls:
			fn()
		case conn, ok := <-reqCh:
			if !ok {
				reqCh = nil
				continue
			}
			l.handleConn(conn)
		case ev, ok := <-l.pageEvents:
			if !ok {
				l.pageEvents = nil
				continue
			}
			l.handlePageEvent(ev)
		case res := <-l.captureCh:
			l.handleCapture(res)
		case res := <-l.analyzeCh:
			l.machine.AnalyzeDone(res)
		}
		l.updateStatus()
	}
}

// activate arms selection mode. It refuses while a cycle is pending.
func (l *Loop) activate() error {
	if l.machine.Phase().Pending() {
		log.Printf("eventloop: activation refused while %s", l.machine.Phase())
		return session.ErrBusy
	}
	if l.sel.Active() {
		log.Printf("eventloop: selection already active")
		return nil
	}
	if err := l.sel.Activate(); err != nil {
		return fmt.Errorf("Failed to start selection: %w", err)
	}
	return nil
}

func (l *Loop) handleConn(conn singleinstance.Conn) {
	req := conn.Request()
	log.Printf("eventloop: client request mode=%s", req.Mode)
	if err := l.activate(); err != nil {
		l.toast(err.Error())
		_ = conn.RespondError(err.Error())
		_ = conn.Close()
		return
	}
	if req.Mode == singleinstance.ModeWait {
		l.waiting = append(l.waiting, conn)
		return
	}
	_ = conn.RespondSuccess("")
	_ = conn.Close()
}

func (l *Loop) handlePageEvent(ev events.Event) {
	if ev.Kind == events.KeyDown && ev.Alt && strings.EqualFold(ev.Key, "m") {
		if err := l.activate(); err != nil {
			l.toast(err.Error())
		}
		return
	}
	l.reg.Dispatch(ev)
}

// begin is the selection callback. It runs inside a registry dispatch.
func (l *Loop) begin(r transform.SelectionRect) {
	job, err := l.machine.Begin(r)
	if err != nil {
		l.toast(err.Error())
		return
	}
	ok := l.pool.Submit(l.ctx, "capture", func(ctx context.Context) {
		res := job.Run(ctx)
		select {
		case l.captureCh <- res:
		case <-ctx.Done():
		}
	})
	if !ok {
		l.handleCapture(session.CaptureResult{ID: job.ID, Sel: r, Err: session.ErrBusy})
	}
}

func (l *Loop) handleCapture(res session.CaptureResult) {
	aj := l.machine.CaptureDone(res)
	if aj == nil {
		return
	}
	ok := l.pool.Submit(l.ctx, "analyze", func(ctx context.Context) {
		res := aj.Run(ctx)
		select {
		case l.analyzeCh <- res:
		case <-ctx.Done():
		}
	})
	if !ok {
		l.machine.AnalyzeDone(session.AnalyzeResult{ID: aj.ID, Err: session.ErrBusy})
	}
}

// aborted answers waiting clients when a gesture ends without a selection.
func (l *Loop) aborted(reason string) {
	if l.machine.Phase().Pending() {
		return
	}
	for _, c := range l.takeWaiting() {
		_ = c.RespondError(reason)
		_ = c.Close()
	}
}

func (l *Loop) takeWaiting() []singleinstance.Conn {
	w := l.waiting
	l.waiting = nil
	return w
}

func (l *Loop) targets() session.Targets {
	ts := session.Targets{l.clipboard}
	for _, c := range l.takeWaiting() {
		ts = append(ts, session.DelegatedTarget{Conn: c})
	}
	return ts
}

// loopTarget fans a finished cycle out to the clipboard and waiting clients.
type loopTarget struct{ l *Loop }

func (t loopTarget) OnSuccess(a *llm.Analysis) error { return t.l.targets().OnSuccess(a) }
func (t loopTarget) OnFailure(err error) error       { return t.l.targets().OnFailure(err) }

func (l *Loop) toast(msg string) {
	if l.toaster != nil {
		l.toaster.Toast(msg)
	}
}

func (l *Loop) updateStatus() {
	busy := l.machine.Phase().Pending()
	if busy == l.busy {
		return
	}
	l.busy = busy
	if l.status == nil {
		return
	}
	if busy {
		l.status("Manga Dissector: analyzing...")
	} else {
		l.status("Manga Dissector")
	}
}

func (l *Loop) shutdown() {
	l.sel.Cancel()
	l.sel.Release()
	l.tip.Close()
	for _, c := range l.takeWaiting() {
		_ = c.RespondError("resident shutting down")
		_ = c.Close()
	}
	if err := l.srv.Close(); err != nil {
		log.Printf("eventloop: closing server: %v", err)
	}
}
