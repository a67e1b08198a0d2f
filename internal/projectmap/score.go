package projectmap

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/steveyegge/digin/internal/types"
)

const (
	maxOnboardingSteps = 7
	maxReadingItems    = 10
	readingCapPreview  = 3

	readingMinConfidence   = 70
	readingMinCapabilities = 2
)

// kindWeights rank what a newcomer should look at first.
var kindWeights = map[types.Kind]float64{
	types.KindService: 10,
	types.KindLib:     8,
	types.KindInfra:   7,
	types.KindUI:      6,
	types.KindConfig:  4,
	types.KindTest:    3,
	types.KindDocs:    2,
}

var entryKeywords = []string{"main", "index", "app", "server", "client", "core"}

// Difficulty grades how hard a module is to pick up.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Step is one stop on the onboarding path.
type Step struct {
	Step          int        `json:"step"`
	Title         string     `json:"title"`
	Path          string     `json:"path"`
	Kind          types.Kind `json:"kind"`
	Description   string     `json:"description,omitempty"`
	MinMinutes    int        `json:"min_minutes"`
	MaxMinutes    int        `json:"max_minutes"`
	EstimatedTime string     `json:"estimated_time"`
	Difficulty    Difficulty `json:"difficulty"`
	Handshake     string     `json:"handshake,omitempty"`
	NextSteps     string     `json:"next_steps,omitempty"`
}

// Onboarding is the suggested order for reading the most important modules.
type Onboarding struct {
	Steps         []Step     `json:"steps"`
	EstimatedTime string     `json:"estimated_time"`
	Difficulty    Difficulty `json:"difficulty"`
}

// ReadingItem is a module worth reading in depth.
type ReadingItem struct {
	Title        string     `json:"title"`
	Path         string     `json:"path"`
	Kind         types.Kind `json:"kind"`
	Summary      string     `json:"summary,omitempty"`
	Capabilities []string   `json:"capabilities,omitempty"`
	Confidence   int        `json:"confidence"`
	Reason       string     `json:"reason"`
}

// Statistics summarize the map.
type Statistics struct {
	TotalModules      int                `json:"total_modules"`
	TotalDigests      int                `json:"total_digests"`
	KindDistribution  map[types.Kind]int `json:"kind_distribution"`
	AverageConfidence float64            `json:"average_confidence"`
	MaxDepth          int                `json:"max_depth"`
	OnboardingLength  int                `json:"onboarding_path_length"`
	ReadingCount      int                `json:"recommended_reading_count"`
}

// Importance scores a node: confidence, breadth of capabilities, kind,
// number of child modules and whether the name looks like an entry point.
func Importance(n *Node) float64 {
	s := float64(n.Confidence) * 0.1
	s += float64(len(n.Capabilities)) * 2
	if w, ok := kindWeights[n.Kind]; ok {
		s += w
	} else {
		s++
	}
	s += float64(len(n.Children)) * 1.5
	name := strings.ToLower(n.Name)
	for _, kw := range entryKeywords {
		if strings.Contains(name, kw) {
			s += 5
			break
		}
	}
	return s
}

func score(m *Map) {
	for i := range m.nodes {
		m.nodes[i].Importance = Importance(&m.nodes[i])
	}
}

// ranked returns the IDs of nodes accepted by keep, most important first.
// Ties go to the shallower node, then to the smaller path.
func ranked(m *Map, keep func(*Node) bool) []NodeID {
	var ids []NodeID
	for i := range m.nodes {
		if keep(&m.nodes[i]) {
			ids = append(ids, m.nodes[i].ID)
		}
	}
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := &m.nodes[ids[i]], &m.nodes[ids[j]]
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		return a.Path < b.Path
	})
	return ids
}

// StepDifficulty grades one module by confidence and capability count.
func StepDifficulty(n *Node) Difficulty {
	caps := len(n.Capabilities)
	switch {
	case n.Confidence >= 80 && caps <= 3:
		return DifficultyEasy
	case n.Confidence >= 60 && caps <= 6:
		return DifficultyMedium
	default:
		return DifficultyHard
	}
}

// readingMinutes estimates how long a module takes to read.
func readingMinutes(n *Node) (int, int) {
	total := 10 + float64(len(n.Capabilities))*3 + float64(100-n.Confidence)/100*5
	return int(total), int(total * 1.5)
}

// overallDifficulty is hard when at least 40% of the steps are hard and
// medium when at least 60% are medium or hard.
func overallDifficulty(steps []Step) Difficulty {
	if len(steps) == 0 {
		return DifficultyEasy
	}
	var hard, medium int
	for _, s := range steps {
		switch s.Difficulty {
		case DifficultyHard:
			hard++
		case DifficultyMedium:
			medium++
		}
	}
	n := float64(len(steps))
	switch {
	case float64(hard) >= n*0.4:
		return DifficultyHard
	case float64(medium+hard) >= n*0.6:
		return DifficultyMedium
	default:
		return DifficultyEasy
	}
}

func onboardingPath(m *Map) Onboarding {
	ids := ranked(m, func(n *Node) bool { return n.Parent != noParent })
	if len(ids) > maxOnboardingSteps {
		ids = ids[:maxOnboardingSteps]
	}

	o := Onboarding{Steps: []Step{}}
	for i, id := range ids {
		n := m.Node(id)
		n.Onboarding = true
		lo, hi := readingMinutes(n)
		step := Step{
			Step:          i + 1,
			Title:         n.Name,
			Path:          n.Path,
			Kind:          n.Kind,
			Description:   n.Summary,
			MinMinutes:    lo,
			MaxMinutes:    hi,
			EstimatedTime: fmt.Sprintf("%d-%d min", lo, hi),
			Difficulty:    StepDifficulty(n),
		}
		if n.Narrative != nil {
			step.Handshake = n.Narrative.Handshake
			step.NextSteps = n.Narrative.NextSteps
		}
		o.Steps = append(o.Steps, step)
	}
	o.EstimatedTime = fmt.Sprintf("%d-%d min", len(o.Steps)*15, len(o.Steps)*30)
	o.Difficulty = overallDifficulty(o.Steps)
	return o
}

func recommendedReading(m *Map) []ReadingItem {
	ids := ranked(m, func(n *Node) bool {
		return !n.Virtual && n.Confidence >= readingMinConfidence && len(n.Capabilities) >= readingMinCapabilities
	})
	if len(ids) > maxReadingItems {
		ids = ids[:maxReadingItems]
	}

	items := []ReadingItem{}
	for _, id := range ids {
		n := m.Node(id)
		n.Recommended = true
		caps := n.Capabilities
		if len(caps) > readingCapPreview {
			caps = caps[:readingCapPreview]
		}
		items = append(items, ReadingItem{
			Title:        n.Name,
			Path:         n.Path,
			Kind:         n.Kind,
			Summary:      n.Summary,
			Capabilities: caps,
			Confidence:   n.Confidence,
			Reason:       readingReason(n),
		})
	}
	return items
}

func readingReason(n *Node) string {
	var reasons []string
	if n.Confidence >= 90 {
		reasons = append(reasons, "high analysis confidence")
	}
	if len(n.Capabilities) >= 4 {
		reasons = append(reasons, "rich functionality")
	}
	if n.Kind == types.KindService || n.Kind == types.KindLib {
		reasons = append(reasons, "core module")
	}
	if n.Importance >= 15 {
		reasons = append(reasons, "architecturally central")
	}
	if len(reasons) == 0 {
		return "worth a closer look"
	}
	return strings.Join(reasons, ", ")
}

func statistics(m *Map) Statistics {
	s := Statistics{
		TotalModules:     len(m.nodes),
		TotalDigests:     m.digests,
		KindDistribution: make(map[types.Kind]int),
		OnboardingLength: len(m.Onboarding.Steps),
		ReadingCount:     len(m.Reading),
	}
	var sum int
	for i := range m.nodes {
		n := &m.nodes[i]
		s.KindDistribution[n.Kind]++
		sum += n.Confidence
		s.MaxDepth = max(s.MaxDepth, n.Depth)
	}
	if len(m.nodes) > 0 {
		s.AverageConfidence = math.Round(float64(sum)/float64(len(m.nodes))*10) / 10
	}
	return s
}
