package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"9fans.net/go/acme"
	"go.uber.org/zap"

	"github.com/cptaffe/acme-hilite/highlight"
	"github.com/cptaffe/acme-hilite/internal/compositor"
	"github.com/cptaffe/acme-hilite/logger"
	"github.com/cptaffe/acme-hilite/style"
)

// coalesceDelay is the window during which multiple renders are batched
// into a single write to acme.
const coalesceDelay = 20 * time.Millisecond

// callTimeout is the maximum time call() will wait for the window goroutine
// to process a closure.  This guards 9P handlers against an unresponsive
// run() goroutine (e.g. one stuck in a slow 9P call to acme).
const callTimeout = 5 * time.Second

// ErrUnresponsive is returned when the window goroutine did not run a
// request, either because it timed out or because the window is gone.
var ErrUnresponsive = errors.New("window unresponsive")

// edit is a body insertion or deletion of runes [q0, q1).
type edit struct {
	op     rune
	q0, q1 int
}

// WinState is the actor for one acme window.
//
// The fields ID, ctx, cancel, cmdCh, and srv are set once at construction and
// may be read from any goroutine without a lock.
//
// All remaining fields are owned exclusively by the run() goroutine and must
// not be accessed from any other goroutine.
type WinState struct {
	ID     int
	ctx    context.Context
	cancel context.CancelFunc
	cmdCh  chan func(*WinState)
	srv    *Server

	// Owned by run(); do not access from other goroutines.
	win        *acme.Win
	comp       *compositor.Compositor
	bodyLen    int
	syntaxRuns []style.Run
	prev       []Entry
	pending    []Entry
	hasPending bool
	flushTimer *time.Timer
	// editCh delivers body edits from the window's event file.  It is nil
	// until the first client request for this window (lazy connection).
	editCh <-chan edit
	// editChCh receives editCh once startEvents completes.  It is nil before
	// edit tracking starts and nil again once editCh is set.
	editChCh    chan (<-chan edit)
	eventsTried bool
}

// view adapts the window goroutine's state to the compositor's
// collaborators.  Its methods run only on the window goroutine.
type view struct{ ws *WinState }

func (v view) Len() int { return v.ws.bodyLen }

func (v view) Render(seq style.Sequence) {
	v.ws.pending = entriesFor(seq, v.ws.srv.styles)
	v.ws.hasPending = true
	resetTimer(v.ws.flushTimer, coalesceDelay)
}

// HighlightNow rebuilds the syntax highlighting from the runs kept since the
// last publish, shifted by every edit since.
func (v view) HighlightNow(n int) (style.Sequence, bool) {
	if _, ok := v.ws.comp.Syntax(); !ok {
		return nil, false
	}
	return style.FromRuns(v.ws.syntaxRuns, n), true
}

// offsetInterval is a node written by a client.  It is detached once it no
// longer fits in the body.
type offsetInterval struct {
	pos highlight.Position
	ws  *WinState
}

func (o offsetInterval) Position() (highlight.Position, bool) {
	if o.pos.End > o.ws.bodyLen {
		return highlight.Position{}, false
	}
	return o.pos, true
}

// submit enqueues fn to run in the window's goroutine.  Returns immediately;
// fn runs asynchronously.  Drops the fn silently if ctx is already cancelled.
func (ws *WinState) submit(fn func(*WinState)) {
	select {
	case ws.cmdCh <- fn:
	case <-ws.ctx.Done():
	}
}

// call enqueues fn and blocks until it has run, ctx is cancelled, or
// callTimeout elapses.  Returns true if fn ran to completion.
func (ws *WinState) call(fn func(*WinState)) bool {
	done := make(chan struct{})
	ws.submit(func(ws *WinState) {
		fn(ws)
		close(done)
	})
	select {
	case <-done:
		return true
	case <-ws.ctx.Done():
		return false
	case <-time.After(callTimeout):
		logger.L(ws.ctx).Warn("call timed out; window goroutine unresponsive")
		return false
	}
}

// do runs fn on the window goroutine and returns its error.
func (ws *WinState) do(fn func(*WinState) error) error {
	var err error
	if !ws.call(func(ws *WinState) { err = fn(ws) }) {
		return fmt.Errorf("window %d: %w", ws.ID, ErrUnresponsive)
	}
	return err
}

// run is the window goroutine.  It owns all mutable WinState fields and is
// the only goroutine that touches them.
func (ws *WinState) run() {
	defer ws.srv.wg.Done()
	log := logger.L(ws.ctx)

	ws.flushTimer = time.NewTimer(coalesceDelay)
	ws.flushTimer.Stop()

	// Clear styles left over from a previous run.
	if ws.win != nil {
		if err := ws.win.Ctl("style 0"); err != nil {
			log.Debug("clear style", zap.Error(err))
		}
	}
	ws.measure()

	for {
		select {
		case ch := <-ws.editChCh:
			ws.editCh = ch
			ws.editChCh = nil // nil channel blocks forever; remove from select
			ws.measure()
			log.Debug("tracking edits", zap.Bool("ok", ws.editCh != nil))

		case fn := <-ws.cmdCh:
			fn(ws)

		case e, ok := <-ws.editCh:
			if !ok {
				// Event file closed; the window is about to be deleted via the
				// global acme log.  Keep running so in-flight commands finish.
				ws.editCh = nil
				continue
			}
			ws.applyEdit(e)

		case <-ws.flushTimer.C:
			if ws.hasPending {
				ws.doFlush()
			}

		case <-ws.ctx.Done():
			ws.flushTimer.Stop()
			if ws.win != nil {
				ws.win.CloseFiles()
				ws.win = nil
			}
			return
		}
	}
}

// startEvents opens the window's event file and returns a channel that
// delivers body edits.  acme allows one reader of the event file, so it is
// opened lazily and only events we do not consume are written back.
func (ws *WinState) startEvents() <-chan edit {
	log := logger.L(ws.ctx)
	w, err := acme.Open(ws.ID, nil)
	if err != nil {
		log.Error("open win for events", zap.Error(err))
		return nil
	}
	if err := w.OpenEvent(); err != nil {
		log.Warn("open event file; edits will not be tracked", zap.Error(err))
		w.CloseFiles()
		return nil
	}
	ch := make(chan edit)
	go func() {
		defer w.CloseFiles()
		defer close(ch)
		for {
			ev, err := w.ReadEvent()
			if err != nil {
				return
			}
			switch ev.C2 {
			case 'I', 'D':
				select {
				case ch <- edit{op: ev.C2, q0: ev.Q0, q1: ev.Q1}:
				case <-ws.ctx.Done():
					return
				}
			case 'x', 'X', 'l', 'L':
				if err := w.WriteEvent(ev); err != nil {
					return
				}
			}
		}
	}()
	return ch
}

// maybeStartEvents starts edit tracking once per window; if the event file
// is held by another program, body lengths are measured instead.
// Must be called from within run().
func (ws *WinState) maybeStartEvents() {
	if ws.win == nil || ws.eventsTried {
		return
	}
	ws.eventsTried = true
	ws.editChCh = make(chan (<-chan edit), 1)
	go func() { ws.editChCh <- ws.startEvents() }()
}

// ---- internal goroutine-owned helpers ----

// measure reads the body length from acme.  It is only needed while edits
// are not being tracked.
func (ws *WinState) measure() {
	if ws.win == nil {
		return
	}
	b, err := ws.win.ReadAll("body")
	if err != nil {
		logger.L(ws.ctx).Warn("read body", zap.Error(err))
		return
	}
	ws.bodyLen = utf8.RuneCount(b)
}

// prepare brings the body length up to date and starts edit tracking ahead
// of a client request.
func (ws *WinState) prepare() {
	if ws.editCh == nil {
		ws.measure()
	}
	ws.maybeStartEvents()
}

func (ws *WinState) applyEdit(e edit) {
	n := e.q1 - e.q0
	switch e.op {
	case 'I':
		ws.bodyLen += n
		adjustRunsInsert(ws.syntaxRuns, e.q0, n)
	case 'D':
		ws.bodyLen -= n
		ws.syntaxRuns = adjustRunsDelete(ws.syntaxRuns, e.q0, e.q1)
	default:
		return
	}
	// acme moved its copy of the styles; what we last wrote is no longer
	// an exact record of it.
	ws.prev = nil
	var err error
	if _, ok := ws.comp.Syntax(); ok {
		err = ws.comp.PublishSyntaxHighlight(style.FromRuns(ws.syntaxRuns, ws.bodyLen))
	} else {
		err = ws.comp.Refresh()
	}
	if err != nil {
		logger.L(ws.ctx).Error("recompose after edit", zap.Error(err))
	}
}

// doFlush writes the pending entries to acme if they differ from the last
// write.  Must be called from within the window goroutine.
func (ws *WinState) doFlush() {
	pending := ws.pending
	ws.pending, ws.hasPending = nil, false
	if ws.win == nil {
		return
	}
	q0, q1, changed := diffEntries(ws.prev, pending)
	if !changed && ws.prev != nil {
		return
	}
	logger.L(ws.ctx).Debug("writing styles",
		zap.Int("entries", len(pending)),
		zap.Int("q0", q0), zap.Int("q1", q1))
	if err := writeCtl(ws.win, pending); err != nil {
		logger.L(ws.ctx).Error("write styles", zap.Error(err))
		ws.prev = nil
		return
	}
	ws.prev = pending
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// ctlChunk is the number of entries per ctl write, to stay well within the
// iounit.
const ctlChunk = 200

// writeCtl replaces the window's styles.  "style 0" clears acme's single
// layer; subsequent "style" commands fill it.
func writeCtl(win *acme.Win, entries []Entry) error {
	if err := win.Ctl("style 0"); err != nil {
		return err
	}
	for _, cmd := range styleCommands(entries) {
		if err := win.Ctl("%s", cmd); err != nil {
			return err
		}
	}
	return nil
}

func styleCommands(entries []Entry) []string {
	var cmds []string
	for i := 0; i < len(entries); i += ctlChunk {
		end := min(i+ctlChunk, len(entries))
		var sb strings.Builder
		sb.WriteString("style")
		for _, e := range entries[i:end] {
			fmt.Fprintf(&sb, " %d %d %d", e.Idx, e.Start, e.Length)
		}
		cmds = append(cmds, sb.String())
	}
	return cmds
}

// ---- public API for 9P handlers (safe to call from any goroutine) ----

// SetNodes styles nodes in layer id, replacing the layer if reset is set and
// merging into it otherwise.
func (ws *WinState) SetNodes(id compositor.LayerID, nodes []highlight.Position, reset bool) error {
	return ws.do(func(ws *WinState) error {
		ws.prepare()
		intervals := make([]highlight.Interval, 0, len(nodes))
		for _, p := range nodes {
			intervals = append(intervals, offsetInterval{pos: p, ws: ws})
		}
		return ws.comp.SetLayerContent(id, intervals, reset)
	})
}

// ClearLayer empties layer id.
func (ws *WinState) ClearLayer(id compositor.LayerID) error {
	return ws.do(func(ws *WinState) error {
		ws.prepare()
		return ws.comp.ClearLayer(id)
	})
}

// ClearAll empties every layer and drops the syntax highlighting.
func (ws *WinState) ClearAll() error {
	return ws.do(func(ws *WinState) error {
		ws.prepare()
		ws.syntaxRuns = nil
		return ws.comp.ClearAllLayers()
	})
}

// PublishSyntax replaces the window's syntax highlighting.
func (ws *WinState) PublishSyntax(seq style.Sequence) error {
	return ws.do(func(ws *WinState) error {
		ws.prepare()
		if seq.Validate() == nil {
			ws.syntaxRuns = seq.Runs()
		}
		return ws.comp.PublishSyntaxHighlight(seq)
	})
}

// Refresh recomposes and rewrites the window's styles.
func (ws *WinState) Refresh() error {
	return ws.do(func(ws *WinState) error {
		ws.prepare()
		ws.prev = nil
		return ws.comp.Refresh()
	})
}

// SyntaxText returns the held syntax highlighting in wire format.
func (ws *WinState) SyntaxText() string {
	var result string
	ws.call(func(ws *WinState) {
		if seq, ok := ws.comp.Syntax(); ok {
			result = style.Format(seq)
		}
	})
	return result
}

// SpansText returns the last composed sequence in wire format.
func (ws *WinState) SpansText() string {
	var result string
	ws.call(func(ws *WinState) {
		result = style.Format(ws.comp.Last())
	})
	return result
}

// NodesText returns the snapshots held by layer id, one per line.
func (ws *WinState) NodesText(id compositor.LayerID) string {
	var result string
	ws.call(func(ws *WinState) {
		c, err := ws.comp.Registry().Collection(id)
		if err != nil {
			return
		}
		result = formatNodes(c.Snapshots())
	})
	return result
}
