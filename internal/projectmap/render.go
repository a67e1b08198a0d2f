package projectmap

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/steveyegge/digin/internal/types"
)

var (
	colorAccent  = lipgloss.Color("#20B9B4")
	colorMuted   = lipgloss.Color("#6C7A89")
	colorWarning = lipgloss.Color("#F4D03F")
	colorHard    = lipgloss.Color("#E74C3C")

	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	sectionStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	nameStyle     = lipgloss.NewStyle().Bold(true)
	kindStyle     = lipgloss.NewStyle().Foreground(colorAccent)
	mutedStyle    = lipgloss.NewStyle().Foreground(colorMuted)
	markerStyle   = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorAccent).Padding(0, 1)
	difficultyFor = map[Difficulty]lipgloss.Style{
		DifficultyEasy:   lipgloss.NewStyle().Foreground(colorAccent),
		DifficultyMedium: lipgloss.NewStyle().Foreground(colorWarning),
		DifficultyHard:   lipgloss.NewStyle().Foreground(colorHard),
	}
)

const summaryWidth = 72

// Render draws the map as an indented tree followed by the onboarding path
// and recommended reading. Onboarding nodes carry a "*" marker and
// recommended ones a "+".
func (m *Map) Render() string {
	var sb strings.Builder
	header := titleStyle.Render(m.ProjectName) + "\n" +
		mutedStyle.Render(fmt.Sprintf("%d modules, average confidence %.1f%%", m.Stats.TotalModules, m.Stats.AverageConfidence))
	sb.WriteString(boxStyle.Render(header))
	sb.WriteString("\n\n")

	if root := m.Root(); root != nil {
		m.renderNode(&sb, root, "", true, true)
	}

	if len(m.Onboarding.Steps) > 0 {
		sb.WriteString("\n")
		diff := difficultyFor[m.Onboarding.Difficulty].Render(string(m.Onboarding.Difficulty))
		sb.WriteString(sectionStyle.Render("Onboarding path"))
		fmt.Fprintf(&sb, " (%s, %s)\n", diff, m.Onboarding.EstimatedTime)
		for _, s := range m.Onboarding.Steps {
			fmt.Fprintf(&sb, "  %d. %s %s %s\n", s.Step, nameStyle.Render(s.Title),
				mutedStyle.Render(s.Path),
				difficultyFor[s.Difficulty].Render(fmt.Sprintf("[%s, %s]", s.Difficulty, s.EstimatedTime)))
			if s.Description != "" {
				fmt.Fprintf(&sb, "     %s\n", truncate(s.Description, summaryWidth))
			}
		}
	}

	if len(m.Reading) > 0 {
		sb.WriteString("\n")
		sb.WriteString(sectionStyle.Render("Recommended reading"))
		sb.WriteString("\n")
		for _, r := range m.Reading {
			fmt.Fprintf(&sb, "  - %s %s: %s\n", nameStyle.Render(r.Title), mutedStyle.Render(r.Path), r.Reason)
		}
	}
	return sb.String()
}

func (m *Map) renderNode(sb *strings.Builder, n *Node, prefix string, last, isRoot bool) {
	branch := ""
	childPrefix := prefix
	if !isRoot {
		if last {
			branch = "└── "
			childPrefix += "    "
		} else {
			branch = "├── "
			childPrefix += "│   "
		}
	}

	marker := ""
	if n.Onboarding {
		marker += "*"
	}
	if n.Recommended {
		marker += "+"
	}
	if marker != "" {
		marker = " " + markerStyle.Render(marker)
	}

	line := fmt.Sprintf("%s%s%s %s %s%s", prefix, branch,
		nameStyle.Render(n.Name),
		kindStyle.Render("["+string(n.Kind)+"]"),
		mutedStyle.Render(fmt.Sprintf("%d%%", n.Confidence)),
		marker)
	sb.WriteString(line)
	if n.Summary != "" {
		sb.WriteString(" ")
		sb.WriteString(mutedStyle.Render(truncate(n.Summary, summaryWidth)))
	}
	sb.WriteString("\n")

	for i, c := range n.Children {
		m.renderNode(sb, m.Node(c), childPrefix, i == len(n.Children)-1, false)
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// jsonNode is the nested wire form of a Node.
type jsonNode struct {
	Name         string           `json:"name"`
	Path         string           `json:"path"`
	Kind         types.Kind       `json:"kind"`
	Summary      string           `json:"summary,omitempty"`
	Capabilities []string         `json:"capabilities,omitempty"`
	Confidence   int              `json:"confidence"`
	Importance   float64          `json:"importance_score"`
	Onboarding   bool             `json:"is_onboarding_path,omitempty"`
	Recommended  bool             `json:"is_recommended_reading,omitempty"`
	Virtual      bool             `json:"virtual,omitempty"`
	Narrative    *types.Narrative `json:"narrative,omitempty"`
	Children     []jsonNode       `json:"children,omitempty"`
}

type jsonMap struct {
	ProjectName string        `json:"project_name"`
	RootPath    string        `json:"root_path"`
	Tree        jsonNode      `json:"tree"`
	Onboarding  Onboarding    `json:"onboarding_path"`
	Reading     []ReadingItem `json:"recommended_reading"`
	Statistics  Statistics    `json:"statistics"`
	GeneratedAt time.Time     `json:"generated_at"`
	Version     string        `json:"version"`
}

// MarshalJSON renders the map with a nested tree.
func (m *Map) MarshalJSON() ([]byte, error) {
	out := jsonMap{
		ProjectName: m.ProjectName,
		RootPath:    m.RootPath,
		Onboarding:  m.Onboarding,
		Reading:     m.Reading,
		Statistics:  m.Stats,
		GeneratedAt: m.GeneratedAt,
		Version:     FormatVersion,
	}
	if root := m.Root(); root != nil {
		out.Tree = m.toJSON(root)
	}
	return json.Marshal(out)
}

func (m *Map) toJSON(n *Node) jsonNode {
	j := jsonNode{
		Name:         n.Name,
		Path:         n.Path,
		Kind:         n.Kind,
		Summary:      n.Summary,
		Capabilities: n.Capabilities,
		Confidence:   n.Confidence,
		Importance:   n.Importance,
		Onboarding:   n.Onboarding,
		Recommended:  n.Recommended,
		Virtual:      n.Virtual,
		Narrative:    n.Narrative,
	}
	for _, c := range n.Children {
		j.Children = append(j.Children, m.toJSON(m.Node(c)))
	}
	return j
}
