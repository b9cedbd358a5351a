package server

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cptaffe/acme-hilite/style"
)

func TestAdjustRunsInsert(t *testing.T) {
	kw := style.Tags("keyword")
	tests := []struct {
		name  string
		q0, n int
		want  style.Run
	}{
		{"inside extends", 3, 2, style.Run{Start: 2, End: 7, Tags: kw}},
		{"at start shifts", 2, 2, style.Run{Start: 4, End: 7, Tags: kw}},
		{"before shifts", 0, 1, style.Run{Start: 3, End: 6, Tags: kw}},
		{"at end unchanged", 5, 4, style.Run{Start: 2, End: 5, Tags: kw}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs := []style.Run{{Start: 2, End: 5, Tags: kw}}
			adjustRunsInsert(runs, tt.q0, tt.n)
			require.Equal(t, []style.Run{tt.want}, runs)
		})
	}
}

func TestAdjustRunsDelete(t *testing.T) {
	kw := style.Tags("keyword")
	runs := []style.Run{
		{Start: 0, End: 3, Tags: kw},
		{Start: 3, End: 4, Tags: kw},
		{Start: 5, End: 8, Tags: kw},
		{Start: 10, End: 12, Tags: kw},
	}
	got := adjustRunsDelete(runs, 2, 6)
	require.Equal(t, []style.Run{
		{Start: 0, End: 2, Tags: kw},
		{Start: 2, End: 4, Tags: kw},
		{Start: 6, End: 8, Tags: kw},
	}, got)

	spanning := adjustRunsDelete([]style.Run{{Start: 1, End: 9, Tags: kw}}, 2, 4)
	require.Equal(t, []style.Run{{Start: 1, End: 7, Tags: kw}}, spanning)
}

func TestEntriesFor(t *testing.T) {
	cfg, err := ParseConfig("keyword\nquery-result\n")
	require.NoError(t, err)

	seq := style.Sequence{
		{2, style.TagSet{}},
		{3, style.Tags("keyword")},
		{2, style.Tags("keyword", "depth-0")},
		{1, style.Tags("comment")},
		{4, style.Tags("query-result", "depth-0")},
		{0, style.Tags("keyword")},
	}
	require.Equal(t, []Entry{
		{Idx: 1, Start: 2, Length: 5},
		{Idx: 2, Start: 8, Length: 4},
	}, entriesFor(seq, cfg.Styles))
	require.Empty(t, entriesFor(style.Empty(10), cfg.Styles))
}

func TestDiffEntries(t *testing.T) {
	a := []Entry{{1, 0, 2}, {2, 4, 3}, {1, 10, 2}}

	_, _, changed := diffEntries(a, a)
	require.False(t, changed)

	b := []Entry{{1, 0, 2}, {3, 4, 3}, {1, 10, 2}}
	q0, q1, changed := diffEntries(a, b)
	require.True(t, changed)
	require.Equal(t, 4, q0)
	require.Equal(t, 7, q1)

	q0, q1, changed = diffEntries(a, a[:1])
	require.True(t, changed)
	require.Equal(t, 4, q0)
	require.Equal(t, 12, q1)

	q0, q1, changed = diffEntries(nil, a)
	require.True(t, changed)
	require.Equal(t, 0, q0)
	require.Equal(t, 12, q1)
}

func TestStyleCommands(t *testing.T) {
	require.Empty(t, styleCommands(nil))

	entries := make([]Entry, ctlChunk+1)
	for i := range entries {
		entries[i] = Entry{Idx: 1, Start: 2 * i, Length: 1}
	}
	cmds := styleCommands(entries)
	require.Len(t, cmds, 2)
	require.True(t, strings.HasPrefix(cmds[0], "style 1 0 1 1 2 1"))
	require.Equal(t, "style 1 400 1", cmds[1])
}
