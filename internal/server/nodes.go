package server

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/multierr"

	"github.com/cptaffe/acme-hilite/highlight"
	"github.com/cptaffe/acme-hilite/internal/compositor"
)

// inlineFlag marks a node that lies on a single line.
const inlineFlag = "inline"

// parseNodes parses the content written to a layer's nodes file: one node
// per line as "begin end [inline]", rune offsets, end exclusive.  Blank
// lines and lines starting with '#' are skipped.  Every malformed line is
// reported.
func parseNodes(text string) ([]highlight.Position, error) {
	nodes := []highlight.Position{}
	var errs error
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := parseNode(line)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("line %d: %w", i+1, err))
			continue
		}
		nodes = append(nodes, p)
	}
	if errs != nil {
		return nil, errs
	}
	return nodes, nil
}

func parseNode(line string) (highlight.Position, error) {
	f := strings.Fields(line)
	if len(f) != 2 && len(f) != 3 {
		return highlight.Position{}, fmt.Errorf("%w: want 2 or 3 fields, got %d", compositor.ErrInvalidArgument, len(f))
	}
	begin, err := strconv.Atoi(f[0])
	if err != nil {
		return highlight.Position{}, fmt.Errorf("%w: bad begin: %v", compositor.ErrInvalidArgument, err)
	}
	end, err := strconv.Atoi(f[1])
	if err != nil {
		return highlight.Position{}, fmt.Errorf("%w: bad end: %v", compositor.ErrInvalidArgument, err)
	}
	if begin < 0 || end < begin {
		return highlight.Position{}, fmt.Errorf("%w: bad range %d %d", compositor.ErrInvalidArgument, begin, end)
	}
	p := highlight.Position{Begin: begin, End: end}
	if len(f) == 3 {
		if f[2] != inlineFlag {
			return highlight.Position{}, fmt.Errorf("%w: unknown flag %q", compositor.ErrInvalidArgument, f[2])
		}
		p.SingleLine = true
	}
	return p, nil
}

// formatNodes is the inverse of parseNodes.
func formatNodes(snaps []highlight.Snapshot) string {
	var sb strings.Builder
	for _, s := range snaps {
		fmt.Fprintf(&sb, "%d %d", s.Begin, s.End)
		if s.SingleLine {
			sb.WriteString(" " + inlineFlag)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
