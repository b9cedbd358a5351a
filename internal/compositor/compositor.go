// Package compositor merges the highlight layers of one buffer and its
// syntax highlighting into a single span sequence.
//
// A Compositor is not safe for concurrent use.  It is meant to be owned by
// the goroutine that also applies edits to the buffer; the only hazard it
// handles is temporal: syntax highlighting arrives asynchronously and may
// describe an older version of the buffer.
package compositor

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cptaffe/acme-hilite/highlight"
	"github.com/cptaffe/acme-hilite/style"
)

// Buffer reports the live length of the text being highlighted.
type Buffer interface {
	Len() int
}

// Renderer receives every successfully composed sequence.  The sequence may
// briefly disagree with the live buffer length; the next update corrects it.
type Renderer interface {
	Render(style.Sequence)
}

// SyntaxHighlighter recomputes syntax highlighting on demand, for a buffer
// of the given length.  It reports false if it cannot.
type SyntaxHighlighter interface {
	HighlightNow(bufLen int) (style.Sequence, bool)
}

// Config holds the optional collaborators of a Compositor.
type Config struct {
	// Layers lists the layers to register; all declared layers if empty.
	Layers []LayerID
	// Cache is shared by every layer; a fresh one is made if nil.
	Cache *style.TagCache
	// Highlighter refreshes stale syntax highlighting.  If nil, stale
	// syntax highlighting is dropped instead.
	Highlighter SyntaxHighlighter
	Logger      *zap.Logger
}

// Compositor owns the highlight layers of one buffer.
type Compositor struct {
	registry    *Registry
	buf         Buffer
	renderer    Renderer
	highlighter SyntaxHighlighter
	log         *zap.Logger

	syntax    style.Sequence
	hasSyntax bool
	last      style.Sequence
}

// New returns a Compositor for buf that publishes to r.
func New(buf Buffer, r Renderer, cfg Config) (*Compositor, error) {
	cache := cfg.Cache
	if cache == nil {
		cache = style.NewTagCache()
	}
	reg, err := NewRegistry(cache, cfg.Layers...)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Compositor{
		registry:    reg,
		buf:         buf,
		renderer:    r,
		highlighter: cfg.Highlighter,
		log:         log,
	}, nil
}

// Registry returns the layers of c.  Callers must not mutate it directly.
func (c *Compositor) Registry() *Registry { return c.registry }

// Last returns the last sequence handed to the renderer.
func (c *Compositor) Last() style.Sequence { return c.last }

// Syntax returns the syntax highlighting currently held.
func (c *Compositor) Syntax() (style.Sequence, bool) { return c.syntax, c.hasSyntax }

// SetLayerContent styles intervals in layer id, replacing the layer's
// content if reset is set and adding to it otherwise.  Pass an empty,
// non-nil slice to represent "no highlights".
func (c *Compositor) SetLayerContent(id LayerID, intervals []highlight.Interval, reset bool) error {
	return c.update("set layer "+id.String(), func() error {
		return c.registry.ReplaceOrMerge(id, intervals, reset)
	})
}

// ClearLayer empties layer id.
func (c *Compositor) ClearLayer(id LayerID) error {
	return c.update("clear layer "+id.String(), func() error {
		return c.registry.Clear(id)
	})
}

// ClearAllLayers empties every layer and drops the syntax highlighting.
func (c *Compositor) ClearAllLayers() error {
	return c.update("clear all", func() error {
		c.registry.ClearAll()
		c.syntax, c.hasSyntax = nil, false
		return nil
	})
}

// PublishSyntaxHighlight replaces the syntax highlighting.  A sequence with
// negative lengths is a product of an edit race and is ignored.
func (c *Compositor) PublishSyntaxHighlight(seq style.Sequence) error {
	if err := seq.Validate(); err != nil {
		c.log.Debug("ignoring syntax highlight", zap.Error(err))
		return nil
	}
	return c.update("publish syntax", func() error {
		c.syntax, c.hasSyntax = seq, true
		return nil
	})
}

// Refresh recomposes and republishes without changing any layer, e.g.
// after the buffer was edited.
func (c *Compositor) Refresh() error {
	return c.update("refresh", func() error { return nil })
}

// update applies a mutation, recomposes and renders.  Stale results are
// dropped; a later update supersedes them.  Any other failure is returned.
func (c *Compositor) update(op string, mutate func() error) error {
	if err := mutate(); err != nil {
		return err
	}
	seq, err := c.Recompute(c.syntax, c.hasSyntax, c.buf.Len())
	if errors.Is(err, style.ErrStale) {
		c.log.Debug("discarding stale recompute", zap.String("op", op), zap.Error(err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("recompute after %s: %w", op, err)
	}
	c.last = seq
	c.renderer.Render(seq)
	return nil
}

// Recompute overlays every non-empty layer and the syntax highlighting into
// one sequence covering bufLen characters.
//
// If syntax describes a buffer of a different length it is refreshed
// synchronously first, so that stale syntax highlighting is never mixed
// with fresh layers; if it still does not fit it is left out.  Layer
// sequences longer than the buffer are left out too.
func (c *Compositor) Recompute(syntax style.Sequence, hasSyntax bool, bufLen int) (style.Sequence, error) {
	if bufLen < 0 {
		return nil, fmt.Errorf("%w: buffer length %d", style.ErrNegativeLength, bufLen)
	}
	seqs, err := c.registry.Sequences()
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		if hasSyntax {
			return syntax, nil
		}
		return style.Empty(bufLen), nil
	}

	if hasSyntax && syntax.Len() != bufLen && c.highlighter != nil {
		c.log.Debug("syntax highlight stale; refreshing",
			zap.Int("syntaxLen", syntax.Len()),
			zap.Int("bufLen", bufLen))
		if fresh, ok := c.highlighter.HighlightNow(bufLen); ok {
			syntax = fresh
			c.syntax = fresh
		}
	}
	if hasSyntax {
		if err := fitsExactly(syntax, bufLen); err != nil {
			c.log.Debug("leaving out syntax highlight", zap.Error(err))
		} else {
			seqs = append(seqs, syntax)
		}
	}

	out := style.Empty(bufLen)
	for _, seq := range seqs {
		if seq.Len() > bufLen {
			c.log.Debug("leaving out layer",
				zap.Error(fmt.Errorf("%w: %d > %d", style.ErrRange, seq.Len(), bufLen)))
			continue
		}
		if out, err = style.OverlayAdditive(out, seq); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func fitsExactly(seq style.Sequence, n int) error {
	if l := seq.Len(); l != n {
		return fmt.Errorf("%w: length %d, buffer %d", style.ErrRange, l, n)
	}
	return nil
}
