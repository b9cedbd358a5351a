package highlight

import (
	"errors"
	"fmt"
	"slices"

	"github.com/cptaffe/acme-hilite/style"
)

var (
	// ErrPartialOverlap means two intervals of one collection overlap
	// without one containing the other.  Collections require a tree of
	// intervals; this is a caller bug, not an edit race.
	ErrPartialOverlap = errors.New("intervals partially overlap")
	// ErrStyleMismatch is returned when merging collections with
	// different base styles.
	ErrStyleMismatch = errors.New("merging collections of different styles")
)

// Collection is a set of intervals that share one base style.  Nested
// intervals additionally get a "depth-N" tag, N being the number of
// intervals of the collection that contain them.
//
// A Collection is immutable once built; its span sequence is computed on
// first use and cached.  It is not safe for concurrent use.
type Collection struct {
	cache *style.TagCache
	base  style.TagSet
	snaps []Snapshot // document order: begin ascending, end descending

	built bool
	spans style.Sequence
	err   error
}

// NewCollection returns a collection of snaps styled with base.  Snapshots
// with the same position are kept once.
func NewCollection(cache *style.TagCache, base style.TagSet, snaps []Snapshot) *Collection {
	sorted := slices.Clone(snaps)
	slices.SortStableFunc(sorted, compareDocumentOrder)
	sorted = slices.CompactFunc(sorted, func(a, b Snapshot) bool {
		return a.Position == b.Position
	})
	return &Collection{cache: cache, base: base, snaps: sorted}
}

// Empty returns a collection with no intervals.
func Empty(cache *style.TagCache, base style.TagSet) *Collection {
	return &Collection{cache: cache, base: base}
}

func compareDocumentOrder(a, b Snapshot) int {
	switch {
	case a.Begin != b.Begin:
		return a.Begin - b.Begin
	case a.End != b.End:
		return b.End - a.End
	case a.SingleLine != b.SingleLine:
		if a.SingleLine {
			return 1
		}
		return -1
	}
	return 0
}

func (c *Collection) IsEmpty() bool         { return len(c.snaps) == 0 }
func (c *Collection) Base() style.TagSet    { return c.base }
func (c *Collection) Snapshots() []Snapshot { return slices.Clone(c.snaps) }

// Merge returns a collection holding the intervals of both c and o.  When
// either side is empty the other is returned unchanged.
func (c *Collection) Merge(o *Collection) (*Collection, error) {
	if !c.base.Equal(o.base) {
		return nil, fmt.Errorf("%w: %v and %v", ErrStyleMismatch, c.base, o.base)
	}
	switch {
	case o.IsEmpty():
		return c, nil
	case c.IsEmpty():
		return o, nil
	}
	return NewCollection(c.cache, c.base, append(slices.Clone(c.snaps), o.snaps...)), nil
}

// Spans returns the span sequence of the collection.
//
// The sequence starts at offset 0 and ends at the end of the last interval;
// covering the rest of the buffer is left to the caller.  The intervals must
// form a tree: any two are disjoint or one contains the other.
func (c *Collection) Spans() (style.Sequence, error) {
	if !c.built {
		c.spans, c.err = c.build()
		c.built = true
	}
	return c.spans, c.err
}

func (c *Collection) style(depth int, p Position) style.TagSet {
	return c.cache.Canonicalize(c.base, depth, p.SingleLine)
}

// gapStyle is the style between the children of the innermost open interval.
func (c *Collection) gapStyle(open []Snapshot) style.TagSet {
	if len(open) == 0 {
		return style.TagSet{}
	}
	return c.style(len(open)-1, open[len(open)-1].Position)
}

// build sweeps the intervals in document order.  open holds the intervals
// enclosing prev, innermost last; lastEnd is where the emitted spans stop.
func (c *Collection) build() (style.Sequence, error) {
	var b style.Builder
	switch len(c.snaps) {
	case 0:
		return style.Empty(0), nil
	case 1:
		s := c.snaps[0]
		b.Add(style.TagSet{}, s.Begin)
		b.Add(c.style(0, s.Position), s.Len())
		return b.Sequence()
	}

	var (
		open    []Snapshot
		prev    = c.snaps[0]
		lastEnd = prev.Begin
	)
	b.Add(style.TagSet{}, prev.Begin)

	for _, cur := range c.snaps[1:] {
		if cur.Begin < prev.End {
			// cur is nested in prev: [_[cur] ]
			if cur.End > prev.End {
				return nil, overlapError(prev, cur)
			}
			b.Add(c.gapStyle(open), prev.Begin-lastEnd)
			b.Add(c.style(len(open), prev.Position), cur.Begin-prev.Begin)
			lastEnd = cur.Begin
			open = append(open, prev)
			prev = cur
			continue
		}

		b.Add(c.gapStyle(open), prev.Begin-lastEnd)
		b.Add(c.style(len(open), prev.Position), prev.Len())
		lastEnd = prev.End
		prev = cur

		// Close the enclosing intervals that end before cur: [ [prev]_] [cur]
		for len(open) > 0 && open[len(open)-1].End <= cur.Begin {
			enc := open[len(open)-1]
			open = open[:len(open)-1]
			b.Add(c.style(len(open), enc.Position), enc.End-lastEnd)
			lastEnd = enc.End
		}
		if len(open) > 0 && cur.End > open[len(open)-1].End {
			return nil, overlapError(open[len(open)-1], cur)
		}
	}

	b.Add(c.gapStyle(open), prev.Begin-lastEnd)
	b.Add(c.style(len(open), prev.Position), prev.Len())
	lastEnd = prev.End

	for len(open) > 0 {
		enc := open[len(open)-1]
		open = open[:len(open)-1]
		b.Add(c.style(len(open), enc.Position), enc.End-lastEnd)
		lastEnd = enc.End
	}
	return b.Sequence()
}

func overlapError(a, b Snapshot) error {
	return fmt.Errorf("%w: [%d,%d) and [%d,%d)", ErrPartialOverlap, a.Begin, a.End, b.Begin, b.End)
}
