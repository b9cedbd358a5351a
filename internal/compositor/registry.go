package compositor

import (
	"fmt"

	"github.com/cptaffe/acme-hilite/highlight"
	"github.com/cptaffe/acme-hilite/style"
)

// Registry holds one highlight collection per layer.  The set of layers is
// fixed at construction.
type Registry struct {
	cache  *style.TagCache
	ids    []LayerID
	layers map[LayerID]*highlight.Collection
}

// NewRegistry returns a registry of the given layers, all empty.  With no
// ids, every declared layer is registered.
func NewRegistry(cache *style.TagCache, ids ...LayerID) (*Registry, error) {
	if len(ids) == 0 {
		ids = Layers()
	}
	r := &Registry{
		cache:  cache,
		layers: make(map[LayerID]*highlight.Collection, len(ids)),
	}
	for _, id := range ids {
		if !id.Valid() {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, id)
		}
		if _, dup := r.layers[id]; dup {
			continue
		}
		r.ids = append(r.ids, id)
		r.layers[id] = r.empty(id)
	}
	return r, nil
}

func (r *Registry) empty(id LayerID) *highlight.Collection {
	return highlight.Empty(r.cache, style.Tags(id.StyleClass()))
}

func (r *Registry) check(id LayerID) error {
	if _, ok := r.layers[id]; !ok {
		return fmt.Errorf("%w: layer %v is not registered", ErrInvalidArgument, id)
	}
	return nil
}

// IDs returns the registered layers in registration order.
func (r *Registry) IDs() []LayerID {
	return append([]LayerID(nil), r.ids...)
}

// Collection returns the current collection of layer id.
func (r *Registry) Collection(id LayerID) (*highlight.Collection, error) {
	if err := r.check(id); err != nil {
		return nil, err
	}
	return r.layers[id], nil
}

// ReplaceOrMerge snapshots intervals into a new collection styled with the
// layer's class, then replaces the layer with it (reset) or merges it in.
// Intervals that cannot be captured are skipped.  An empty, non-nil
// intervals with reset clears the layer; a nil intervals is rejected.  If
// the result cannot be rendered, e.g. because intervals partially overlap,
// the layer is left unchanged.
func (r *Registry) ReplaceOrMerge(id LayerID, intervals []highlight.Interval, reset bool) error {
	if err := r.check(id); err != nil {
		return err
	}
	if intervals == nil {
		return fmt.Errorf("%w: nil intervals for layer %v; pass an empty slice to clear", ErrInvalidArgument, id)
	}
	if len(intervals) == 0 && reset {
		r.layers[id] = r.empty(id)
		return nil
	}

	c := highlight.NewCollection(r.cache, style.Tags(id.StyleClass()), highlight.CaptureAll(intervals))
	if !reset {
		merged, err := r.layers[id].Merge(c)
		if err != nil {
			return fmt.Errorf("layer %v: %w", id, err)
		}
		c = merged
	}
	// Build now so a layer never holds intervals it cannot render.
	if _, err := c.Spans(); err != nil {
		return fmt.Errorf("layer %v: %w", id, err)
	}
	r.layers[id] = c
	return nil
}

// Clear empties layer id.
func (r *Registry) Clear(id LayerID) error {
	if err := r.check(id); err != nil {
		return err
	}
	r.layers[id] = r.empty(id)
	return nil
}

// ClearAll empties every layer.
func (r *Registry) ClearAll() {
	for _, id := range r.ids {
		r.layers[id] = r.empty(id)
	}
}

// Sequences returns the span sequence of every non-empty layer, in
// registration order.
func (r *Registry) Sequences() ([]style.Sequence, error) {
	var seqs []style.Sequence
	for _, id := range r.ids {
		c := r.layers[id]
		if c.IsEmpty() {
			continue
		}
		seq, err := c.Spans()
		if err != nil {
			return nil, fmt.Errorf("layer %v: %w", id, err)
		}
		seqs = append(seqs, seq)
	}
	return seqs, nil
}
