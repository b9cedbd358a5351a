package server

import "github.com/cptaffe/acme-hilite/style"

// adjustRunsInsert shifts and extends runs for an insertion of n runes at
// q0.  Characters inserted strictly inside a run extend it; insertions at a
// boundary fall into the right neighbour.
func adjustRunsInsert(runs []style.Run, q0, n int) {
	for i := range runs {
		r := &runs[i]
		switch {
		case q0 <= r.Start:
			r.Start += n
			r.End += n
		case q0 < r.End:
			r.End += n
		}
	}
}

// adjustRunsDelete applies deletion of runes [q0, q1) to runs, returning
// the updated slice.
func adjustRunsDelete(runs []style.Run, q0, q1 int) []style.Run {
	n := q1 - q0
	out := runs[:0]
	for _, r := range runs {
		switch {
		case r.End <= q0:
			out = append(out, r)
		case r.Start >= q1:
			out = append(out, style.Run{Start: r.Start - n, End: r.End - n, Tags: r.Tags})
		case r.Start < q0 && r.End > q1:
			out = append(out, style.Run{Start: r.Start, End: r.End - n, Tags: r.Tags})
		case r.Start < q0:
			out = append(out, style.Run{Start: r.Start, End: q0, Tags: r.Tags})
		case r.End > q1:
			out = append(out, style.Run{Start: q0, End: r.End - n, Tags: r.Tags})
		default:
			// completely inside deletion: discard
		}
	}
	return out
}

// Entry is one acme style command triple: style index, start, length.
type Entry struct {
	Idx    int
	Start  int
	Length int
}

// End returns the exclusive end offset of e.
func (e Entry) End() int { return e.Start + e.Length }

// entriesFor maps seq to acme style entries through styles.  Spans that
// resolve to index 0 are left out; adjacent spans resolving to the same
// index are joined.
func entriesFor(seq style.Sequence, styles StyleMap) []Entry {
	var out []Entry
	pos := 0
	for _, sp := range seq {
		start := pos
		pos += sp.Length
		if sp.Length <= 0 {
			continue
		}
		idx := styles.Resolve(sp.Tags)
		if idx == 0 {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Idx == idx && out[n-1].End() == start {
			out[n-1].Length += sp.Length
			continue
		}
		out = append(out, Entry{Idx: idx, Start: start, Length: sp.Length})
	}
	return out
}

// diffEntries finds the minimal dirty interval between two sorted,
// non-overlapping entry slices.
func diffEntries(old, new []Entry) (q0, q1 int, changed bool) {
	i, j := 0, 0
	for i < len(old) && j < len(new) && old[i] == new[j] {
		i++
		j++
	}
	if i == len(old) && j == len(new) {
		return 0, 0, false
	}

	ei, ej := len(old)-1, len(new)-1
	for ei >= i && ej >= j && old[ei] == new[ej] {
		ei--
		ej--
	}

	const maxInt = int(^uint(0) >> 1)
	q0 = maxInt
	for _, e := range old[i : ei+1] {
		q0, q1 = min(q0, e.Start), max(q1, e.End())
	}
	for _, e := range new[j : ej+1] {
		q0, q1 = min(q0, e.Start), max(q1, e.End())
	}
	if q0 == maxInt || q0 >= q1 {
		return 0, 0, false
	}
	return q0, q1, true
}
