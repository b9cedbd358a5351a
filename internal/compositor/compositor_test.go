package compositor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cptaffe/acme-hilite/highlight"
	"github.com/cptaffe/acme-hilite/style"
)

type fakeBuffer struct{ n int }

func (b *fakeBuffer) Len() int { return b.n }

type recorder struct{ got []style.Sequence }

func (r *recorder) Render(seq style.Sequence) { r.got = append(r.got, seq) }

func (r *recorder) last(t *testing.T) style.Sequence {
	t.Helper()
	require.NotEmpty(t, r.got, "nothing rendered")
	return r.got[len(r.got)-1]
}

type fakeHighlighter struct {
	calls []int
	seq   func(n int) style.Sequence
}

func (h *fakeHighlighter) HighlightNow(n int) (style.Sequence, bool) {
	h.calls = append(h.calls, n)
	if h.seq == nil {
		return nil, false
	}
	return h.seq(n), true
}

func intervals(ps ...highlight.Position) []highlight.Interval {
	out := []highlight.Interval{}
	for _, p := range ps {
		out = append(out, highlight.Fixed(p))
	}
	return out
}

func newTestCompositor(t *testing.T, n int, cfg Config) (*Compositor, *fakeBuffer, *recorder) {
	t.Helper()
	buf := &fakeBuffer{n: n}
	r := &recorder{}
	c, err := New(buf, r, cfg)
	require.NoError(t, err)
	return c, buf, r
}

func requireSeq(t *testing.T, want, got style.Sequence) {
	t.Helper()
	require.True(t, want.Equal(got), "want %v\n got %v", want, got)
}

func TestSetLayerContent_PadsToBuffer(t *testing.T) {
	c, _, r := newTestCompositor(t, 20, Config{})

	require.NoError(t, c.SetLayerContent(Query, intervals(highlight.Position{Begin: 4, End: 8}), true))
	requireSeq(t, style.Sequence{
		{4, style.TagSet{}},
		{4, style.Tags("query-result", "depth-0")},
		{12, style.TagSet{}},
	}, r.last(t))
	require.Equal(t, 20, c.Last().Len())
}

func TestSetLayerContent_InvalidArguments(t *testing.T) {
	c, _, r := newTestCompositor(t, 20, Config{Layers: []LayerID{Query}})

	require.ErrorIs(t, c.SetLayerContent(Query, nil, true), ErrInvalidArgument)
	require.ErrorIs(t, c.SetLayerContent(Focus, intervals(), true), ErrInvalidArgument)
	require.ErrorIs(t, c.SetLayerContent(LayerID(42), intervals(), true), ErrInvalidArgument)
	require.ErrorIs(t, c.ClearLayer(Error), ErrInvalidArgument)
	require.Empty(t, r.got)
}

func TestSetLayerContent_MergesUnlessReset(t *testing.T) {
	c, _, _ := newTestCompositor(t, 20, Config{})

	require.NoError(t, c.SetLayerContent(Query, intervals(highlight.Position{Begin: 0, End: 2}), true))
	require.NoError(t, c.SetLayerContent(Query, intervals(highlight.Position{Begin: 5, End: 7}), false))
	coll, err := c.Registry().Collection(Query)
	require.NoError(t, err)
	require.Len(t, coll.Snapshots(), 2)

	require.NoError(t, c.SetLayerContent(Query, intervals(highlight.Position{Begin: 9, End: 10}), true))
	coll, err = c.Registry().Collection(Query)
	require.NoError(t, err)
	require.Len(t, coll.Snapshots(), 1)

	require.NoError(t, c.SetLayerContent(Query, intervals(), true))
	coll, err = c.Registry().Collection(Query)
	require.NoError(t, err)
	require.True(t, coll.IsEmpty())
}

func TestDisjointLayersUnion(t *testing.T) {
	c, _, r := newTestCompositor(t, 12, Config{})

	require.NoError(t, c.SetLayerContent(Query, intervals(highlight.Position{Begin: 0, End: 3}), true))
	require.NoError(t, c.SetLayerContent(Focus, intervals(highlight.Position{Begin: 6, End: 8, SingleLine: true}), true))

	requireSeq(t, style.Sequence{
		{3, style.Tags("query-result", "depth-0")},
		{3, style.TagSet{}},
		{2, style.Tags("focus-node", "depth-0", "inline-highlight")},
		{4, style.TagSet{}},
	}, r.last(t))
}

func TestOverlappingLayersUnionTags(t *testing.T) {
	c, _, r := newTestCompositor(t, 10, Config{})

	require.NoError(t, c.SetLayerContent(Query, intervals(highlight.Position{Begin: 0, End: 6}), true))
	require.NoError(t, c.SetLayerContent(Error, intervals(highlight.Position{Begin: 4, End: 8}), true))
	require.NoError(t, c.PublishSyntaxHighlight(style.Sequence{{5, style.Tags("ident")}, {5, style.TagSet{}}}))

	requireSeq(t, style.Sequence{
		{4, style.Tags("query-result", "depth-0", "ident")},
		{1, style.Tags("query-result", "depth-0", "error-node", "ident")},
		{1, style.Tags("query-result", "depth-0", "error-node")},
		{2, style.Tags("error-node", "depth-0")},
		{2, style.TagSet{}},
	}, r.last(t))
}

func TestClearLayer_FallsBackToSyntax(t *testing.T) {
	c, _, r := newTestCompositor(t, 10, Config{})
	syntax := style.Sequence{{3, style.Tags("keyword")}, {7, style.TagSet{}}}

	require.NoError(t, c.PublishSyntaxHighlight(syntax))
	require.NoError(t, c.SetLayerContent(Focus, intervals(highlight.Position{Begin: 1, End: 2}), true))
	require.NoError(t, c.ClearLayer(Focus))
	requireSeq(t, syntax, r.last(t))

	require.NoError(t, c.ClearAllLayers())
	requireSeq(t, style.Empty(10), r.last(t))
	_, ok := c.Syntax()
	require.False(t, ok)
}

func TestStaleSyntaxIsRefreshedSynchronously(t *testing.T) {
	h := &fakeHighlighter{seq: func(n int) style.Sequence {
		return style.Sequence{{n, style.Tags("fresh")}}
	}}
	c, buf, r := newTestCompositor(t, 100, Config{Highlighter: h})

	require.NoError(t, c.PublishSyntaxHighlight(style.Sequence{{100, style.Tags("old")}}))
	require.NoError(t, c.SetLayerContent(Query, intervals(highlight.Position{Begin: 0, End: 10}), true))
	require.Empty(t, h.calls)

	buf.n = 120
	require.NoError(t, c.Refresh())
	require.Equal(t, []int{120}, h.calls)

	got := r.last(t)
	require.Equal(t, 120, got.Len())
	requireSeq(t, style.Sequence{
		{10, style.Tags("query-result", "depth-0", "fresh")},
		{110, style.Tags("fresh")},
	}, got)
	syntax, _ := c.Syntax()
	require.Equal(t, 120, syntax.Len())
}

func TestStaleSyntaxIsLeftOutWhenRefreshFails(t *testing.T) {
	h := &fakeHighlighter{}
	c, buf, r := newTestCompositor(t, 100, Config{Highlighter: h})

	require.NoError(t, c.PublishSyntaxHighlight(style.Sequence{{100, style.Tags("old")}}))
	buf.n = 120
	require.NoError(t, c.SetLayerContent(Query, intervals(highlight.Position{Begin: 0, End: 10}), true))

	require.Equal(t, []int{120}, h.calls)
	requireSeq(t, style.Sequence{
		{10, style.Tags("query-result", "depth-0")},
		{110, style.TagSet{}},
	}, r.last(t))
}

func TestLayerLongerThanBufferIsLeftOut(t *testing.T) {
	c, buf, r := newTestCompositor(t, 30, Config{})

	require.NoError(t, c.SetLayerContent(Query, intervals(highlight.Position{Begin: 20, End: 30}), true))
	buf.n = 15
	require.NoError(t, c.SetLayerContent(Focus, intervals(highlight.Position{Begin: 0, End: 5}), true))

	requireSeq(t, style.Sequence{
		{5, style.Tags("focus-node", "depth-0")},
		{10, style.TagSet{}},
	}, r.last(t))
}

func TestRecompute_StaleIsSwallowed(t *testing.T) {
	c, buf, r := newTestCompositor(t, 10, Config{})
	require.NoError(t, c.SetLayerContent(Query, intervals(highlight.Position{Begin: 0, End: 1}), true))
	rendered := len(r.got)

	buf.n = -1
	require.NoError(t, c.Refresh())
	require.Len(t, r.got, rendered, "stale recompute must not be rendered")

	_, err := c.Recompute(nil, false, -1)
	require.ErrorIs(t, err, style.ErrStale)
}

func TestRecompute_PartialOverlapPropagates(t *testing.T) {
	c, _, r := newTestCompositor(t, 20, Config{})
	require.NoError(t, c.SetLayerContent(Query, intervals(highlight.Position{Begin: 0, End: 5}), true))
	rendered := len(r.got)

	err := c.SetLayerContent(Query, intervals(highlight.Position{Begin: 3, End: 8}), false)
	require.ErrorIs(t, err, highlight.ErrPartialOverlap)
	require.Len(t, r.got, rendered)
}

func TestPublishSyntaxHighlight_IgnoresNegativeLengths(t *testing.T) {
	c, _, r := newTestCompositor(t, 10, Config{})
	require.NoError(t, c.PublishSyntaxHighlight(style.Sequence{{-3, style.Tags("x")}}))
	require.Empty(t, r.got)
	_, ok := c.Syntax()
	require.False(t, ok)
}

func TestRecompute_NoLayersReturnsSyntaxOrEmpty(t *testing.T) {
	c, _, _ := newTestCompositor(t, 10, Config{})

	got, err := c.Recompute(nil, false, 10)
	require.NoError(t, err)
	requireSeq(t, style.Empty(10), got)

	syntax := style.Sequence{{4, style.Tags("s")}}
	got, err = c.Recompute(syntax, true, 10)
	require.NoError(t, err)
	requireSeq(t, syntax, got)
}
