package style

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestFormat(t *testing.T) {
	seq := Sequence{{3, TagSet{}}, {4, Tags("keyword", "depth-0")}}
	require.Equal(t, "3\n4 depth-0 keyword\n", Format(seq))
}

func TestParse(t *testing.T) {
	seq, err := Parse("# syntax\n3\n\n4 keyword depth-0\n  2 keyword depth-0 \n")
	require.NoError(t, err)
	require.True(t, seq.Equal(Sequence{{3, TagSet{}}, {6, Tags("depth-0", "keyword")}}), "got %v", seq)
}

func TestParse_ReportsEveryBadLine(t *testing.T) {
	_, err := Parse("x keyword\n3 ok\n-1\n")
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 2)
	require.Contains(t, err.Error(), "line 1")
	require.Contains(t, err.Error(), "line 3")
}
