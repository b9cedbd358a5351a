package highlight

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cptaffe/acme-hilite/style"
)

// detached is an interval whose source node has gone away.
type detached struct{}

func (detached) Position() (Position, bool) { return Position{}, false }

func collectionOf(cache *style.TagCache, base string, ps ...Position) *Collection {
	srcs := make([]Interval, len(ps))
	for i, p := range ps {
		srcs[i] = Fixed(p)
	}
	return NewCollection(cache, style.Tags(base), CaptureAll(srcs))
}

func requireSpans(t require.TestingT, want, got style.Sequence) {
	require.True(t, want.Equal(got), "want %v\n got %v", want, got)
}

func TestSpans_Empty(t *testing.T) {
	c := Empty(style.NewTagCache(), style.Tags("x"))
	seq, err := c.Spans()
	require.NoError(t, err)
	require.Equal(t, 0, seq.Len())
}

func TestSpans_SingleInterval(t *testing.T) {
	c := collectionOf(style.NewTagCache(), "x", Position{Begin: 3, End: 7})

	seq, err := c.Spans()
	require.NoError(t, err)
	requireSpans(t, style.Sequence{
		{3, style.TagSet{}},
		{4, style.Tags("x", "depth-0")},
	}, seq)
}

func TestSpans_Nested(t *testing.T) {
	c := collectionOf(style.NewTagCache(), "a",
		Position{Begin: 2, End: 5},
		Position{Begin: 0, End: 10},
	)

	seq, err := c.Spans()
	require.NoError(t, err)
	requireSpans(t, style.Sequence{
		{2, style.Tags("a", "depth-0")},
		{3, style.Tags("a", "depth-1")},
		{5, style.Tags("a", "depth-0")},
	}, seq)
}

func TestSpans_SiblingsInsideParent(t *testing.T) {
	c := collectionOf(style.NewTagCache(), "q",
		Position{Begin: 1, End: 12},
		Position{Begin: 2, End: 4, SingleLine: true},
		Position{Begin: 6, End: 8},
		Position{Begin: 14, End: 15},
	)

	seq, err := c.Spans()
	require.NoError(t, err)
	requireSpans(t, style.Sequence{
		{1, style.TagSet{}},
		{1, style.Tags("q", "depth-0")},
		{2, style.Tags("q", "depth-1", "inline-highlight")},
		{2, style.Tags("q", "depth-0")},
		{2, style.Tags("q", "depth-1")},
		{4, style.Tags("q", "depth-0")},
		{2, style.TagSet{}},
		{1, style.Tags("q", "depth-0")},
	}, seq)
}

func TestSpans_AncestorEndingWhereSiblingBegins(t *testing.T) {
	c := collectionOf(style.NewTagCache(), "q",
		Position{Begin: 0, End: 10},
		Position{Begin: 2, End: 5},
		Position{Begin: 10, End: 12},
	)

	seq, err := c.Spans()
	require.NoError(t, err)
	requireSpans(t, style.Sequence{
		{2, style.Tags("q", "depth-0")},
		{3, style.Tags("q", "depth-1")},
		{7, style.Tags("q", "depth-0")},
	}, seq)
}

func TestSpans_DeepNestingClosesInnermostFirst(t *testing.T) {
	c := collectionOf(style.NewTagCache(), "q",
		Position{Begin: 0, End: 8},
		Position{Begin: 1, End: 7},
		Position{Begin: 2, End: 6},
	)

	seq, err := c.Spans()
	require.NoError(t, err)
	requireSpans(t, style.Sequence{
		{1, style.Tags("q", "depth-0")},
		{1, style.Tags("q", "depth-1")},
		{4, style.Tags("q", "depth-2")},
		{1, style.Tags("q", "depth-1")},
		{1, style.Tags("q", "depth-0")},
	}, seq)
}

func TestSpans_PartialOverlap(t *testing.T) {
	tests := []struct {
		name string
		ps   []Position
	}{
		{"with previous", []Position{{Begin: 0, End: 5}, {Begin: 3, End: 8}}},
		{"with ancestor", []Position{{Begin: 0, End: 10}, {Begin: 2, End: 4}, {Begin: 5, End: 12}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := collectionOf(style.NewTagCache(), "q", tc.ps...).Spans()
			require.ErrorIs(t, err, ErrPartialOverlap)
		})
	}
}

func TestSpans_Cached(t *testing.T) {
	c := collectionOf(style.NewTagCache(), "q", Position{Begin: 0, End: 4}, Position{Begin: 1, End: 2})

	first, err := c.Spans()
	require.NoError(t, err)
	second, err := c.Spans()
	require.NoError(t, err)
	require.Same(t, &first[0], &second[0])
}

func TestCaptureAll_SkipsDetached(t *testing.T) {
	snaps := CaptureAll([]Interval{
		Fixed{Begin: 4, End: 6},
		detached{},
		nil,
		Fixed{Begin: 5, End: 3},
	})
	require.Len(t, snaps, 1)
	require.Equal(t, Position{Begin: 4, End: 6}, snaps[0].Position)
}

func TestMerge(t *testing.T) {
	cache := style.NewTagCache()
	a := collectionOf(cache, "q", Position{Begin: 0, End: 5})
	b := collectionOf(cache, "q", Position{Begin: 0, End: 5}, Position{Begin: 6, End: 8})
	empty := Empty(cache, style.Tags("q"))

	m, err := a.Merge(empty)
	require.NoError(t, err)
	require.Same(t, a, m)

	m, err = empty.Merge(a)
	require.NoError(t, err)
	require.Same(t, a, m)

	m, err = a.Merge(b)
	require.NoError(t, err)
	require.Len(t, m.Snapshots(), 2)

	_, err = a.Merge(Empty(cache, style.Tags("other")))
	require.ErrorIs(t, err, ErrStyleMismatch)
}

// TestSpans_MatchesPerOffsetDepth checks the sweep against a brute force
// computation of the innermost containing interval at every offset.
func TestSpans_MatchesPerOffsetDepth(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		var ps []Position
		drawTree(rt, 0, 60, 3, &ps)

		cache := style.NewTagCache()
		c := collectionOf(cache, "q", ps...)
		seq, err := c.Spans()
		require.NoError(rt, err)

		snaps := c.Snapshots()
		end := 0
		for _, s := range snaps {
			end = max(end, s.End)
		}
		require.Equal(rt, end, seq.Len())

		want := make([]string, end)
		for off := range want {
			depth, inner := -1, Position{}
			for _, s := range snaps {
				if s.Begin <= off && off < s.End {
					depth++
					inner = s.Position
				}
			}
			want[off] = cache.Canonicalize(style.Tags("q"), depth, inner.SingleLine).Key()
		}
		require.Equal(rt, want, perOffset(seq))
	})
}

// drawTree appends to ps a random set of nested intervals within [lo, hi).
func drawTree(rt *rapid.T, lo, hi, depth int, ps *[]Position) {
	if depth == 0 || lo >= hi {
		return
	}
	pos := lo
	for n, i := rapid.IntRange(0, 3).Draw(rt, "children"), 0; i < n; i++ {
		if pos >= hi {
			return
		}
		begin := rapid.IntRange(pos, hi).Draw(rt, "begin")
		end := rapid.IntRange(begin, hi).Draw(rt, "end")
		*ps = append(*ps, Position{Begin: begin, End: end, SingleLine: rapid.Bool().Draw(rt, "single")})
		drawTree(rt, begin, end, depth-1, ps)
		pos = end
	}
}

func perOffset(seq style.Sequence) []string {
	out := []string{}
	for _, sp := range seq {
		for i := 0; i < sp.Length; i++ {
			out = append(out, sp.Tags.Key())
		}
	}
	return out
}
