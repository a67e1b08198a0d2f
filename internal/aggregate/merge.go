package aggregate

import (
	"sort"
	"strings"
	"unicode"

	"github.com/steveyegge/digin/internal/types"
)

// tally counts how many children mention a phrase. Phrases compare
// case-insensitively; the first spelling seen is kept.
type tally struct {
	text  string
	count int
	first int
}

func countPhrases(children []*types.Digest, pick func(*types.Digest) []string) []tally {
	index := make(map[string]int)
	var out []tally
	for _, c := range children {
		seen := make(map[string]bool)
		for _, raw := range pick(c) {
			text := strings.TrimSpace(raw)
			key := strings.ToLower(text)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			if i, ok := index[key]; ok {
				out[i].count++
				continue
			}
			index[key] = len(out)
			out = append(out, tally{text: text, count: 1, first: len(out)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].first < out[j].first
	})
	return out
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true,
	"for": true, "to": true, "in": true, "on": true, "with": true, "by": true,
	"from": true, "via": true,
}

func wordSet(phrase string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(phrase), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		if !stopWords[w] {
			set[w] = true
		}
	}
	return set
}

func overlaps(a, b map[string]bool) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for w := range a {
		if b[w] {
			return true
		}
	}
	return false
}

// mergeCapabilities picks the most frequent capabilities, skipping any whose
// words overlap one already picked.
func (a *Aggregator) mergeCapabilities(children []*types.Digest) []string {
	var picked []string
	var pickedWords []map[string]bool
	for _, t := range countPhrases(children, func(d *types.Digest) []string { return d.Capabilities }) {
		if len(picked) == a.policy.MaxCapabilities {
			break
		}
		words := wordSet(t.text)
		if len(words) == 0 {
			continue
		}
		dup := false
		for _, prev := range pickedWords {
			if overlaps(words, prev) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		picked = append(picked, t.text)
		pickedWords = append(pickedWords, words)
	}
	return picked
}

// mergeRisks keeps every risk raised by at least two children, tops up with
// single mentions until MinRisks is reached and caps at MaxRisks.
func (a *Aggregator) mergeRisks(children []*types.Digest) []string {
	var out []string
	for _, t := range countPhrases(children, func(d *types.Digest) []string { return d.Risks }) {
		if len(out) == a.policy.MaxRisks {
			break
		}
		if t.count >= 2 || len(out) < a.policy.MinRisks {
			out = append(out, t.text)
		}
	}
	return out
}

func sortedUnion(lists ...[]string) []string {
	set := make(map[string]bool)
	for _, list := range lists {
		for _, s := range list {
			if s = strings.TrimSpace(s); s != "" {
				set[s] = true
			}
		}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func mergeDependencies(children []*types.Digest) *types.Dependencies {
	var internal, external [][]string
	for _, c := range children {
		if c.Dependencies != nil {
			internal = append(internal, c.Dependencies.Internal)
			external = append(external, c.Dependencies.External)
		}
	}
	d := &types.Dependencies{
		Internal: sortedUnion(internal...),
		External: sortedUnion(external...),
	}
	if d.IsEmpty() {
		return nil
	}
	return d
}

func mergeConfiguration(children []*types.Digest) *types.Configuration {
	var env, files [][]string
	for _, c := range children {
		if c.Configuration != nil {
			env = append(env, c.Configuration.Env)
			files = append(files, c.Configuration.Files)
		}
	}
	cfg := &types.Configuration{
		Env:   sortedUnion(env...),
		Files: sortedUnion(files...),
	}
	if cfg.IsEmpty() {
		return nil
	}
	return cfg
}

// mergeInterfaces concatenates each category in child order, drops exact
// duplicates and caps the category.
func (a *Aggregator) mergeInterfaces(children []*types.Digest) *types.PublicInterfaces {
	merged := &types.PublicInterfaces{}
	for _, cat := range types.InterfaceCategories {
		seen := make(map[types.InterfaceEntry]bool)
		var entries []types.InterfaceEntry
		for _, c := range children {
			for _, e := range c.PublicInterfaces.Category(cat) {
				if seen[e] || e == (types.InterfaceEntry{}) {
					continue
				}
				if len(entries) == a.policy.MaxInterfacesPerCategory {
					break
				}
				seen[e] = true
				entries = append(entries, e)
			}
		}
		merged.SetCategory(cat, entries)
	}
	if merged.IsEmpty() {
		return nil
	}
	return merged
}
