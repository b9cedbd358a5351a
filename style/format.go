package style

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

// Format serialises seq into the acme-hilite wire format: one span per line,
// "length tag tag ...".  A span with no tags is just its length.
func Format(seq Sequence) string {
	var sb strings.Builder
	for _, sp := range seq {
		sb.WriteString(strconv.Itoa(sp.Length))
		for _, t := range sp.Tags.tags {
			sb.WriteByte(' ')
			sb.WriteString(t)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Parse reads a sequence in the format written by Format.  Blank lines and
// lines starting with '#' are skipped.  Every malformed line is reported.
func Parse(text string) (Sequence, error) {
	var (
		b    Builder
		errs error
	)
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		f := strings.Fields(line)
		n, err := strconv.Atoi(f[0])
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("line %d: bad length: %w", i+1, err))
			continue
		}
		if n < 0 {
			errs = multierr.Append(errs, fmt.Errorf("line %d: negative length %d", i+1, n))
			continue
		}
		b.Add(Tags(f[1:]...), n)
	}
	if errs != nil {
		return nil, errs
	}
	return b.Sequence()
}
