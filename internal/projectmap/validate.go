package projectmap

import "fmt"

// Validate returns every structural problem found in m. An empty result
// means the map is sound.
func (m *Map) Validate() []string {
	var problems []string
	if m.ProjectName == "" {
		problems = append(problems, "project name is empty")
	}
	if m.RootPath == "" {
		problems = append(problems, "root path is empty")
	}
	if len(m.nodes) == 0 {
		return append(problems, "map has no root node")
	}
	if m.nodes[0].Parent != noParent {
		problems = append(problems, "first node is not a root")
	}

	for i := range m.nodes {
		n := &m.nodes[i]
		label := n.Path
		if n.Name == "" {
			problems = append(problems, fmt.Sprintf("node %s has no name", label))
		}
		if !n.Kind.IsValid() {
			problems = append(problems, fmt.Sprintf("node %s has invalid kind %q", label, n.Kind))
		}
		if n.Confidence < 0 || n.Confidence > 100 {
			problems = append(problems, fmt.Sprintf("node %s has confidence %d outside [0,100]", label, n.Confidence))
		}
		if i == 0 {
			continue
		}
		if n.Parent < 0 || int(n.Parent) >= len(m.nodes) || n.Parent >= n.ID {
			problems = append(problems, fmt.Sprintf("node %s is orphaned", label))
			continue
		}
		if !contains(m.nodes[n.Parent].Children, n.ID) {
			problems = append(problems, fmt.Sprintf("node %s is not listed by its parent", label))
		}
	}

	for _, s := range m.Onboarding.Steps {
		if s.Title == "" {
			problems = append(problems, fmt.Sprintf("onboarding step %d has no title", s.Step))
		}
		if s.Path == "" {
			problems = append(problems, fmt.Sprintf("onboarding step %d has no path", s.Step))
		}
	}
	return problems
}

func contains(ids []NodeID, id NodeID) bool {
	for _, c := range ids {
		if c == id {
			return true
		}
	}
	return false
}
