// Package style defines the shared types of the acme-hilite compositor: tag
// sets, span sequences and their wire format.
//
// A span sequence is an ordered list of (length, tag set) pairs covering a
// buffer from offset 0 with no overlaps.  Layers produce sequences, the
// compositor overlays them by unioning tag sets, and the result is what gets
// painted.  Producers that publish syntax highlighting through the 9P tree
// build a Sequence and serialise it with Format.
package style

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Stale-geometry errors.  They arise when a computation races with edits to
// the buffer and are recovered by discarding the result.
var (
	ErrStale          = errors.New("stale geometry")
	ErrNegativeLength = fmt.Errorf("%w: negative span length", ErrStale)
	ErrRange          = fmt.Errorf("%w: sequence exceeds buffer", ErrStale)
)

// TagSet is an immutable set of style identifiers.  Identifiers must not
// contain white space.  The zero value is the empty set.
type TagSet struct {
	tags []string // sorted, unique, never modified after construction
}

// Tags returns the set of the given identifiers.  Empty strings are ignored.
func Tags(tags ...string) TagSet {
	if len(tags) == 0 {
		return TagSet{}
	}
	s := slices.Clone(tags)
	slices.Sort(s)
	s = slices.Compact(s)
	s = slices.DeleteFunc(s, func(t string) bool { return t == "" })
	if len(s) == 0 {
		return TagSet{}
	}
	return TagSet{tags: s}
}

func (t TagSet) Len() int      { return len(t.tags) }
func (t TagSet) IsEmpty() bool { return len(t.tags) == 0 }

// Has reports whether tag is in the set.
func (t TagSet) Has(tag string) bool {
	_, ok := slices.BinarySearch(t.tags, tag)
	return ok
}

// Slice returns a copy of the identifiers in sorted order.
func (t TagSet) Slice() []string {
	return slices.Clone(t.tags)
}

// Equal reports whether t and u hold the same identifiers.
func (t TagSet) Equal(u TagSet) bool {
	return slices.Equal(t.tags, u.tags)
}

// Union returns t ∪ u.  When one side is a subset of the other the larger
// set is returned as is, so canonical sets stay shared.
func (t TagSet) Union(u TagSet) TagSet {
	switch {
	case u.IsEmpty():
		return t
	case t.IsEmpty():
		return u
	}
	out := make([]string, 0, len(t.tags)+len(u.tags))
	i, j := 0, 0
	for i < len(t.tags) && j < len(u.tags) {
		switch c := strings.Compare(t.tags[i], u.tags[j]); {
		case c < 0:
			out = append(out, t.tags[i])
			i++
		case c > 0:
			out = append(out, u.tags[j])
			j++
		default:
			out = append(out, t.tags[i])
			i++
			j++
		}
	}
	out = append(out, t.tags[i:]...)
	out = append(out, u.tags[j:]...)
	switch len(out) {
	case len(t.tags):
		return t
	case len(u.tags):
		return u
	}
	return TagSet{tags: out}
}

// Key returns a canonical string form of the set, usable as a map key.
func (t TagSet) Key() string {
	return strings.Join(t.tags, " ")
}

func (t TagSet) String() string {
	return "{" + t.Key() + "}"
}
