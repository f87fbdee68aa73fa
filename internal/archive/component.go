package archive

import "fmt"

// Component is a licensing/support tier grouping packages in an archive.
type Component string

const (
	ComponentMain       Component = "main"
	ComponentRestricted Component = "restricted"
	ComponentUniverse   Component = "universe"
	ComponentMultiverse Component = "multiverse"
	ComponentPartner    Component = "partner"
)

// DefaultComponent is used for sources with no ancestry in the primary archive.
const DefaultComponent = ComponentUniverse

// componentDependencies lists, per component, the components a build in it
// may pull build-dependencies from. Populated once, never mutated.
var componentDependencies = map[Component][]Component{
	ComponentMain:       {ComponentMain},
	ComponentRestricted: {ComponentMain, ComponentRestricted},
	ComponentUniverse:   {ComponentMain, ComponentUniverse},
	ComponentMultiverse: {ComponentMain, ComponentRestricted, ComponentUniverse, ComponentMultiverse},
	ComponentPartner:    {ComponentPartner},
}

// Components returns all known components in canonical order.
func Components() []Component {
	return []Component{ComponentMain, ComponentRestricted, ComponentUniverse, ComponentMultiverse, ComponentPartner}
}

// ParseComponent validates a component name.
func ParseComponent(s string) (Component, error) {
	c := Component(s)
	if _, ok := componentDependencies[c]; !ok {
		return "", fmt.Errorf("unknown component %q", s)
	}
	return c, nil
}

// ComponentDependencies returns the layered component set for c, or nil if
// c is unknown. The returned slice is a copy.
func ComponentDependencies(c Component) []Component {
	deps, ok := componentDependencies[c]
	if !ok {
		return nil
	}
	out := make([]Component, len(deps))
	copy(out, deps)
	return out
}

// ComponentsForContext returns the components a build of a source in
// component c, targeting pocket p, may read from. Backports may see every
// component since components change across series.
func ComponentsForContext(c Component, p Pocket) []Component {
	if p == PocketBackports {
		return ComponentDependencies(ComponentMultiverse)
	}
	return ComponentDependencies(c)
}
