package compositor

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument reports a usage error by the caller: an unknown layer
// or a missing interval list.
var ErrInvalidArgument = errors.New("invalid argument")

// LayerID identifies one of the fixed highlight layers.
type LayerID uint8

const (
	// Query holds the nodes matched by the last query.
	Query LayerID = iota
	// Focus holds the node under the cursor.
	Focus
	// Error holds the nodes that failed to parse.
	Error

	numLayers
)

var styleClasses = [numLayers]string{
	Query: "query-result",
	Focus: "focus-node",
	Error: "error-node",
}

// Layers returns every layer in enumeration order.
func Layers() []LayerID {
	ids := make([]LayerID, 0, numLayers)
	for id := LayerID(0); id < numLayers; id++ {
		ids = append(ids, id)
	}
	return ids
}

// Valid reports whether id is one of the declared layers.
func (id LayerID) Valid() bool { return id < numLayers }

// StyleClass returns the style tag given to every interval of the layer.
func (id LayerID) StyleClass() string {
	if !id.Valid() {
		return ""
	}
	return styleClasses[id]
}

func (id LayerID) String() string {
	if !id.Valid() {
		return fmt.Sprintf("LayerID(%d)", uint8(id))
	}
	return styleClasses[id]
}

// ParseLayer returns the layer whose style class is name.
func ParseLayer(name string) (LayerID, error) {
	for id, class := range styleClasses {
		if class == name {
			return LayerID(id), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown layer %q", ErrInvalidArgument, name)
}
