package style

import (
	"fmt"
	"slices"
)

// Span is a run of Length characters sharing one tag set.
type Span struct {
	Length int
	Tags   TagSet
}

// Sequence is an ordered, non-overlapping list of spans starting at offset 0.
type Sequence []Span

// Empty returns a single empty-tag span of length n.
func Empty(n int) Sequence {
	return Sequence{{Length: n}}
}

// Len returns the total length covered by s.
func (s Sequence) Len() int {
	n := 0
	for _, sp := range s {
		n += sp.Length
	}
	return n
}

// Equal reports whether s and o hold the same spans.
func (s Sequence) Equal(o Sequence) bool {
	return slices.EqualFunc(s, o, func(a, b Span) bool {
		return a.Length == b.Length && a.Tags.Equal(b.Tags)
	})
}

// Validate returns ErrNegativeLength if any span has a negative length.
func (s Sequence) Validate() error {
	for i, sp := range s {
		if sp.Length < 0 {
			return fmt.Errorf("%w: span %d has length %d", ErrNegativeLength, i, sp.Length)
		}
	}
	return nil
}

// Pad returns s extended with an empty-tag span so that it covers n
// characters.  s is returned unchanged if it already does.
func (s Sequence) Pad(n int) Sequence {
	l := s.Len()
	if l >= n {
		return s
	}
	var b Builder
	for _, sp := range s {
		b.Add(sp.Tags, sp.Length)
	}
	b.Add(TagSet{}, n-l)
	return b.spans
}

// Builder accumulates spans into a Sequence.  Adjacent spans with equal tag
// sets are coalesced and zero-length spans are dropped, except for a leading
// one which is kept until something longer replaces it.  A zero-length span
// covers no character, so dropping it never changes the tags at any offset.
//
// The first negative length poisons the builder: later calls are ignored
// and Sequence returns ErrNegativeLength.
type Builder struct {
	spans Sequence
	err   error
}

// Add appends n characters styled with tags.
func (b *Builder) Add(tags TagSet, n int) *Builder {
	if b.err != nil {
		return b
	}
	if n < 0 {
		b.err = fmt.Errorf("%w: %d at offset %d", ErrNegativeLength, n, b.spans.Len())
		return b
	}
	switch {
	case len(b.spans) == 0:
		b.spans = append(b.spans, Span{Length: n, Tags: tags})
	case n == 0:
	case len(b.spans) == 1 && b.spans[0].Length == 0:
		b.spans[0] = Span{Length: n, Tags: tags}
	default:
		last := &b.spans[len(b.spans)-1]
		if last.Tags.Equal(tags) {
			last.Length += n
		} else {
			b.spans = append(b.spans, Span{Length: n, Tags: tags})
		}
	}
	return b
}

// Sequence returns the accumulated spans.
func (b *Builder) Sequence() (Sequence, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.spans, nil
}

// Overlay merges a and b, combining the tag sets of each overlapping range
// with f.  Past the end of the shorter sequence its tags are taken to be
// empty, so the result covers max(a.Len(), b.Len()) characters.
func Overlay(a, b Sequence, f func(x, y TagSet) TagSet) (Sequence, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	var out Builder
	i, j := 0, 0
	ra, rb := 0, 0 // unconsumed length of a[i] and b[j]
	if len(a) > 0 {
		ra = a[0].Length
	}
	if len(b) > 0 {
		rb = b[0].Length
	}
	for {
		for i < len(a) && ra == 0 {
			if i++; i < len(a) {
				ra = a[i].Length
			}
		}
		for j < len(b) && rb == 0 {
			if j++; j < len(b) {
				rb = b[j].Length
			}
		}
		switch {
		case i == len(a) && j == len(b):
			return out.Sequence()
		case i == len(a):
			out.Add(f(TagSet{}, b[j].Tags), rb)
			rb = 0
		case j == len(b):
			out.Add(f(a[i].Tags, TagSet{}), ra)
			ra = 0
		default:
			n := min(ra, rb)
			out.Add(f(a[i].Tags, b[j].Tags), n)
			ra -= n
			rb -= n
		}
	}
}

// Additive combines two tag sets by union.
func Additive(x, y TagSet) TagSet {
	return x.Union(y)
}

// OverlayAdditive overlays a and b with Additive.
func OverlayAdditive(a, b Sequence) (Sequence, error) {
	return Overlay(a, b, Additive)
}

// Run is a styled range with absolute offsets.  End is exclusive.
type Run struct {
	Start int
	End   int
	Tags  TagSet
}

// Runs converts s to absolute runs, omitting empty-tag and empty ranges.
func (s Sequence) Runs() []Run {
	var runs []Run
	pos := 0
	for _, sp := range s {
		if sp.Length > 0 && !sp.Tags.IsEmpty() {
			runs = append(runs, Run{Start: pos, End: pos + sp.Length, Tags: sp.Tags})
		}
		pos += sp.Length
	}
	return runs
}

// FromRuns builds a sequence of length n from absolute runs.  Runs are
// clipped to [0, n) and to the end of the preceding run.
func FromRuns(runs []Run, n int) Sequence {
	sorted := slices.Clone(runs)
	slices.SortStableFunc(sorted, func(a, b Run) int { return a.Start - b.Start })

	var b Builder
	pos := 0
	for _, r := range sorted {
		start, end := max(r.Start, pos), min(r.End, n)
		if start >= end {
			continue
		}
		b.Add(TagSet{}, start-pos)
		b.Add(r.Tags, end-start)
		pos = end
	}
	b.Add(TagSet{}, n-pos)
	return b.spans
}
