package server

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/cptaffe/acme-hilite/internal/compositor"
	"github.com/cptaffe/acme-hilite/style"
)

// Config holds all values parsed from the styles file.
type Config struct {
	// Styles maps composed tag sets to acme style indices.
	Styles StyleMap

	// Layers lists the layers enabled in every window, from "@name" lines.
	// Empty means all of them.
	Layers []compositor.LayerID
}

// styleRule maps a tag pattern to an acme style index.
type styleRule struct {
	pattern style.TagSet
	idx     int
}

// StyleMap resolves the tag set of a span to an acme style index.  Index 0
// is acme's default style and means "leave unstyled".
type StyleMap struct {
	rules []styleRule
}

// ParseConfig parses the styles file.
//
// Each style line starts with a '.'-separated tag pattern such as
// "query-result.depth-1"; the rest of the line is colour data for acme and
// is ignored here.  Style lines are numbered from 1 in file order.  Lines
// of the form "@name" enable a layer.  Unknown layers are reported but do
// not stop parsing.
func ParseConfig(content string) (Config, error) {
	var (
		cfg  Config
		errs error
	)
	for i, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if name, ok := strings.CutPrefix(line, "@"); ok {
			id, err := compositor.ParseLayer(strings.TrimSpace(name))
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("line %d: %w", i+1, err))
				continue
			}
			cfg.Layers = append(cfg.Layers, id)
			continue
		}
		pattern := strings.Split(strings.Fields(line)[0], ".")
		cfg.Styles.rules = append(cfg.Styles.rules, styleRule{
			pattern: style.Tags(pattern...),
			idx:     len(cfg.Styles.rules) + 1,
		})
	}
	return cfg, errs
}

// Len returns the number of style lines.
func (m StyleMap) Len() int { return len(m.rules) }

// Resolve returns the index of the rule whose pattern is contained in tags
// and has the most tags.  Later rules win ties.
func (m StyleMap) Resolve(tags style.TagSet) int {
	if tags.IsEmpty() {
		return 0
	}
	best, bestLen := 0, -1
	for _, r := range m.rules {
		if r.pattern.Len() < bestLen || !containsAll(tags, r.pattern) {
			continue
		}
		best, bestLen = r.idx, r.pattern.Len()
	}
	return best
}

func containsAll(set, sub style.TagSet) bool {
	for _, t := range sub.Slice() {
		if !set.Has(t) {
			return false
		}
	}
	return true
}
