// Package aggregate synthesizes a parent directory's digest from its
// children's digests and its own direct files. It never calls the leaf
// analyzer.
package aggregate

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/steveyegge/digin/internal/config"
	"github.com/steveyegge/digin/internal/types"
)

// Aggregator builds parent digests under a fixed Policy.
type Aggregator struct {
	policy    config.Policy
	narrative bool
	now       func() time.Time
}

// New creates an Aggregator from the run settings.
func New(settings *config.Settings) *Aggregator {
	if settings == nil {
		settings = config.DefaultSettings()
	}
	return &Aggregator{
		policy:    settings.Policy,
		narrative: settings.NarrativeEnabled,
		now:       types.Now,
	}
}

// Aggregate builds the digest for dir from the completed child digests and
// the directory's own files. Children are considered in path order.
func (a *Aggregator) Aggregate(dir, relPath string, children []*types.Digest, files []types.FileRecord) (*types.Digest, error) {
	for i, c := range children {
		if c == nil {
			return nil, fmt.Errorf("child digest %d of %s is nil", i, dir)
		}
	}
	children = append([]*types.Digest(nil), children...)
	sort.SliceStable(children, func(i, j int) bool { return children[i].Path < children[j].Path })

	kind := a.Classify(children)
	caps := a.mergeCapabilities(children)

	d := &types.Digest{
		Name:             filepath.Base(dir),
		Path:             relPath,
		Kind:             kind,
		Summary:          a.summarize(kind, children, caps),
		Capabilities:     caps,
		Dependencies:     mergeDependencies(children),
		PublicInterfaces: a.mergeInterfaces(children),
		Configuration:    mergeConfiguration(children),
		Risks:            a.mergeRisks(children),
		Evidence:         a.evidence(children, files),
		Confidence:       a.Confidence(children),
		AnalyzedAt:       a.now(),
		AnalyzerVersion:  types.AnalyzerVersion(),
	}
	if a.narrative {
		d.Narrative = a.buildNarrative(d.Name, kind, children, caps)
	}
	return d.Compact(), nil
}

// Classify derives the parent classification from the children.
//
// No children gives unknown and a unanimous set inherits its kind.
// Otherwise a majority share of service, lib or test wins, in that order.
// A mix containing both service and lib is infra. Anything else falls back
// to the most common kind, ties broken by canonical kind order.
func (a *Aggregator) Classify(children []*types.Digest) types.Kind {
	if len(children) == 0 {
		return types.KindUnknown
	}
	counts := make(map[types.Kind]int)
	for _, c := range children {
		counts[c.Kind]++
	}
	if len(counts) == 1 {
		return children[0].Kind
	}

	n := float64(len(children))
	for _, k := range []types.Kind{types.KindService, types.KindLib, types.KindTest} {
		if float64(counts[k])/n >= a.policy.MajorityThreshold {
			return k
		}
	}
	if counts[types.KindService] > 0 && counts[types.KindLib] > 0 {
		return types.KindInfra
	}

	best, bestCount := types.KindUnknown, -1
	for _, k := range types.Kinds {
		if counts[k] > bestCount {
			best, bestCount = k, counts[k]
		}
	}
	return best
}

// Confidence is the mean child confidence, lowered by a capped penalty
// proportional to the variance and raised by a capped bonus per child,
// clamped to [0,100].
func (a *Aggregator) Confidence(children []*types.Digest) int {
	if len(children) == 0 {
		return 0
	}
	n := float64(len(children))
	var sum float64
	for _, c := range children {
		sum += float64(types.ClampConfidence(c.Confidence))
	}
	mean := sum / n

	var sq float64
	for _, c := range children {
		diff := float64(types.ClampConfidence(c.Confidence)) - mean
		sq += diff * diff
	}
	variance := sq / n

	penalty := math.Min(variance*a.policy.VariancePenaltyFactor, a.policy.MaxVariancePenalty)
	bonus := math.Min(n*a.policy.ChildBonusPerChild, a.policy.MaxChildBonus)
	return types.ClampConfidence(int(math.Round(mean - penalty + bonus)))
}

var kindPhrases = map[types.Kind][2]string{
	types.KindService: {"service module", "service modules"},
	types.KindLib:     {"library module", "library modules"},
	types.KindUI:      {"UI module", "UI modules"},
	types.KindInfra:   {"infrastructure component", "infrastructure components"},
	types.KindConfig:  {"configuration module", "configuration modules"},
	types.KindTest:    {"test suite", "test suites"},
	types.KindDocs:    {"documentation section", "documentation sections"},
	types.KindUnknown: {"module", "modules"},
}

func (a *Aggregator) summarize(kind types.Kind, children []*types.Digest, caps []string) string {
	if len(children) == 0 {
		return "Contains no analyzed modules."
	}
	phrase := kindPhrases[kind][1]
	if len(children) == 1 {
		phrase = kindPhrases[kind][0]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Contains %d %s", len(children), phrase)
	if top := firstN(caps, a.policy.SummaryCapabilities); len(top) > 0 {
		sb.WriteString(" providing ")
		sb.WriteString(strings.Join(top, ", "))
	}
	sb.WriteString(". Includes ")

	limit := a.policy.SummaryChildren
	var names []string
	for i, c := range children {
		if i == limit {
			break
		}
		names = append(names, c.Name)
	}
	sb.WriteString(strings.Join(names, ", "))
	if extra := len(children) - len(names); extra > 0 {
		fmt.Fprintf(&sb, " and %d more", extra)
	}
	sb.WriteString(".")
	return sb.String()
}

func (a *Aggregator) evidence(children []*types.Digest, files []types.FileRecord) *types.Evidence {
	var refs []string
	for _, c := range children {
		refs = append(refs, filepath.ToSlash(filepath.Join(c.Path, types.DigestFileName)))
	}
	for _, f := range files {
		refs = append(refs, f.Name)
	}
	return &types.Evidence{Files: firstN(refs, a.policy.MaxEvidence)}
}

func firstN(items []string, n int) []string {
	if n >= 0 && len(items) > n {
		return items[:n]
	}
	return items
}
