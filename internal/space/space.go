// Package space describes the typed action and observation schemas that
// devices advertise. These are declarative only: agents introspect them,
// the SDK itself uses them to tell acting-capable devices from passive
// ones.
package space

// Space is one node of an action or observation schema.
type Space interface {
	space()
}

// Box is a bounded numeric field with a fixed shape. An empty shape means
// a scalar.
type Box struct {
	Low   float64
	High  float64
	Shape []int
}

// Discrete is an integer field in [0, N).
type Discrete struct {
	N int
}

// MultiBinary is a vector of N independent bits.
type MultiBinary struct {
	N int
}

// Dict is a named mapping of sub-spaces. Device schemas are always Dicts
// at the top level.
type Dict map[string]Space

func (Box) space()         {}
func (Discrete) space()    {}
func (MultiBinary) space() {}
func (Dict) space()        {}

// Empty reports whether the dict has no fields. A device with an empty
// action Dict is passive: it can never carry an action in a step.
func (d Dict) Empty() bool {
	return len(d) == 0
}
