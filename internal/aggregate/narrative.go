package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/steveyegge/digin/internal/types"
)

var kindIntros = map[types.Kind]string{
	types.KindService: "home of the running services",
	types.KindLib:     "the shared library code",
	types.KindUI:      "the user-facing interface",
	types.KindInfra:   "where services and shared libraries meet",
	types.KindConfig:  "the configuration hub",
	types.KindTest:    "the test suites",
	types.KindDocs:    "the documentation corner",
	types.KindUnknown: "a mixed bag of modules",
}

var domainHints = []struct {
	label    string
	keywords []string
}{
	{"a web service", []string{"http", "api", "endpoint", "route", "server", "rest", "request"}},
	{"data processing", []string{"data", "etl", "pipeline", "parse", "parsing", "transform", "ingest"}},
	{"a command-line tool", []string{"cli", "command", "flag", "terminal"}},
	{"a user interface", []string{"ui", "component", "render", "page", "view"}},
	{"storage", []string{"database", "storage", "cache", "persist", "sql", "query"}},
}

// detectDomain guesses what the capabilities add up to, or "".
func detectDomain(caps []string) string {
	best, bestHits := "", 0
	for _, hint := range domainHints {
		hits := 0
		for _, c := range caps {
			words := wordSet(c)
			for _, k := range hint.keywords {
				if words[k] {
					hits++
				}
			}
		}
		if hits > bestHits {
			best, bestHits = hint.label, hits
		}
	}
	return best
}

// readingOrder ranks children by confidence plus weighted capability count.
func (a *Aggregator) readingOrder(children []*types.Digest) []*types.Digest {
	ranked := append([]*types.Digest(nil), children...)
	score := func(d *types.Digest) int {
		return d.Confidence + len(d.Capabilities)*a.policy.NarrativeCapabilityWeight
	}
	sort.SliceStable(ranked, func(i, j int) bool { return score(ranked[i]) > score(ranked[j]) })
	return ranked
}

func (a *Aggregator) buildNarrative(name string, kind types.Kind, children []*types.Digest, caps []string) *types.Narrative {
	intro := kindIntros[kind]
	top := ""
	if len(caps) > 0 {
		top = caps[0]
	}

	var summary strings.Builder
	fmt.Fprintf(&summary, "In short, %s is %s", name, intro)
	if domain := detectDomain(caps); domain != "" {
		fmt.Fprintf(&summary, ", and it reads like %s", domain)
	}
	if top != "" {
		fmt.Fprintf(&summary, ". Its strongest theme is %s.", top)
	} else {
		summary.WriteString(".")
	}

	handshake := fmt.Sprintf("👋 Welcome to %s, %s.", name, intro)
	switch len(children) {
	case 0:
		handshake += " Nothing below it has been digested yet."
	case 1:
		handshake += " It wraps a single module."
	default:
		handshake += fmt.Sprintf(" It brings together %d modules.", len(children))
	}

	var next string
	ranked := a.readingOrder(children)
	switch {
	case len(ranked) == 0:
		next = "The directory is empty of sub-modules; read its direct files first."
	case len(ranked) == 1:
		next = fmt.Sprintf("Start with %s.", describeChild(ranked[0]))
	default:
		next = fmt.Sprintf("Start with %s, then move on to %s.", describeChild(ranked[0]), describeChild(ranked[1]))
	}

	return &types.Narrative{Summary: summary.String(), Handshake: handshake, NextSteps: next}
}

func describeChild(d *types.Digest) string {
	if len(d.Capabilities) > 0 {
		return fmt.Sprintf("%s (%s)", d.Name, d.Capabilities[0])
	}
	return d.Name
}
