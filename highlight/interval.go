// Package highlight turns a set of nested intervals sharing one style into a
// flat span sequence that encodes nesting depth.
//
// Intervals are captured as Snapshots at the moment a layer is updated.  The
// sources they come from (syntax tree nodes, tracked buffer ranges) move or
// disappear as the buffer is edited, so nothing downstream reads them again.
package highlight

// Position is the extent of an interval at one instant.  End is exclusive.
type Position struct {
	Begin      int
	End        int
	SingleLine bool
}

// Len returns End - Begin.
func (p Position) Len() int { return p.End - p.Begin }

// Interval is a live region of a buffer.
type Interval interface {
	// Position returns the current extent, or false if the interval has been
	// detached from the buffer.
	Position() (Position, bool)
}

// Fixed is an Interval that never moves.
type Fixed Position

func (f Fixed) Position() (Position, bool) { return Position(f), true }

// Snapshot is an immutable copy of an Interval's extent.
type Snapshot struct {
	Position
	Source Interval
}

// Capture snapshots src.  It reports false for nil or detached sources and
// for extents that are not a valid range.
func Capture(src Interval) (Snapshot, bool) {
	if src == nil {
		return Snapshot{}, false
	}
	p, ok := src.Position()
	if !ok || p.Begin < 0 || p.End < p.Begin {
		return Snapshot{}, false
	}
	return Snapshot{Position: p, Source: src}, true
}

// CaptureAll snapshots every capturable interval in srcs, skipping the rest.
func CaptureAll(srcs []Interval) []Snapshot {
	snaps := make([]Snapshot, 0, len(srcs))
	for _, src := range srcs {
		if s, ok := Capture(src); ok {
			snaps = append(snaps, s)
		}
	}
	return snaps
}
