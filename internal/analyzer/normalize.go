package analyzer

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/steveyegge/digin/internal/types"
)

// rawDigest is the loosely typed shape models actually return. Lists may
// arrive as strings, arrays of strings or arrays of objects; confidence may
// be a number, a numeric string or a 0-1 fraction.
type rawDigest struct {
	Name             string                   `json:"name"`
	Path             string                   `json:"path"`
	Kind             string                   `json:"kind"`
	Summary          string                   `json:"summary"`
	Capabilities     stringList               `json:"capabilities"`
	PublicInterfaces map[string]interfaceList `json:"public_interfaces"`
	Dependencies     *rawDependencies         `json:"dependencies"`
	Configuration    *rawConfiguration        `json:"configuration"`
	Risks            stringList               `json:"risks"`
	Evidence         *rawEvidence             `json:"evidence"`
	Confidence       flexNumber               `json:"confidence"`
}

type rawDependencies struct {
	Internal stringList `json:"internal"`
	External stringList `json:"external"`
}

type rawConfiguration struct {
	Env   stringList `json:"env"`
	Files stringList `json:"files"`
}

type rawEvidence struct {
	Files stringList `json:"files"`
}

// stringList accepts a string, an array of strings or an array of objects
// (using their name, description or first string field).
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*s = nil
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single = strings.TrimSpace(single); single != "" {
			*s = stringList{single}
		}
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	var out stringList
	for _, item := range items {
		var str string
		if err := json.Unmarshal(item, &str); err == nil {
			if str = strings.TrimSpace(str); str != "" {
				out = append(out, str)
			}
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(item, &obj); err == nil {
			if v := pickString(obj, "name", "description", "value", "path"); v != "" {
				out = append(out, v)
			}
		}
	}
	*s = out
	return nil
}

func pickString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := obj[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	// fall back to the alphabetically first string field
	var names []string
	for k := range obj {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if v, ok := obj[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// interfaceList accepts an array of entry objects or plain strings.
type interfaceList []types.InterfaceEntry

func (l *interfaceList) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		// tolerate a single object or string
		items = []json.RawMessage{data}
	}
	var out interfaceList
	for _, item := range items {
		var str string
		if err := json.Unmarshal(item, &str); err == nil {
			if str = strings.TrimSpace(str); str != "" {
				out = append(out, types.InterfaceEntry{Name: str})
			}
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(item, &obj); err != nil {
			continue
		}
		e := types.InterfaceEntry{
			Name:        pickString(obj, "name", "command", "function"),
			Method:      strings.ToUpper(pickStringOnly(obj, "method")),
			Path:        pickStringOnly(obj, "path", "route", "endpoint"),
			Handler:     pickStringOnly(obj, "handler"),
			Description: pickStringOnly(obj, "description"),
		}
		if e.Name == e.Path || e.Name == e.Method || e.Name == e.Handler || e.Name == e.Description {
			e.Name = pickStringOnly(obj, "name", "command", "function")
		}
		if e != (types.InterfaceEntry{}) {
			out = append(out, e)
		}
	}
	*l = out
	return nil
}

func pickStringOnly(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := obj[k].(string); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// flexNumber accepts 85, 85.0, "85" and 0.85.
type flexNumber struct {
	value float64
	set   bool
}

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(strings.TrimSpace(string(data)), `"`)
	trimmed = strings.TrimSuffix(trimmed, "%")
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return nil
	}
	n.value, n.set = v, true
	return nil
}

func (n flexNumber) confidence() int {
	if !n.set || math.IsNaN(n.value) {
		return 0
	}
	v := n.value
	if v > 0 && v <= 1 && v != math.Trunc(v) {
		v *= 100
	}
	return types.ClampConfidence(int(math.Round(v)))
}

// normalize converts a rawDigest into a digest for req. The directory name
// and relative path always come from the request, never from the model.
func normalize(raw *rawDigest, req Request) *types.Digest {
	d := &types.Digest{
		Name:            req.Dir.Name,
		Path:            req.RelPath,
		Kind:            types.ParseKind(strings.ToLower(strings.TrimSpace(raw.Kind))),
		Summary:         strings.TrimSpace(raw.Summary),
		Capabilities:    dedupe(raw.Capabilities),
		Risks:           dedupe(raw.Risks),
		Confidence:      raw.Confidence.confidence(),
		AnalyzedAt:      types.Now(),
		AnalyzerVersion: types.AnalyzerVersion(),
	}
	if raw.Dependencies != nil {
		d.Dependencies = &types.Dependencies{
			Internal: sortedSet(raw.Dependencies.Internal),
			External: sortedSet(raw.Dependencies.External),
		}
	}
	if raw.Configuration != nil {
		d.Configuration = &types.Configuration{
			Env:   sortedSet(raw.Configuration.Env),
			Files: sortedSet(raw.Configuration.Files),
		}
	}
	if len(raw.PublicInterfaces) > 0 {
		pi := &types.PublicInterfaces{}
		for _, cat := range types.InterfaceCategories {
			pi.SetCategory(cat, dedupeEntries(raw.PublicInterfaces[cat]))
		}
		d.PublicInterfaces = pi
	}

	var evidence []string
	if raw.Evidence != nil {
		evidence = dedupe(raw.Evidence.Files)
	}
	if len(evidence) == 0 {
		for _, f := range req.Dir.Files {
			evidence = append(evidence, f.Name)
		}
	}
	d.Evidence = &types.Evidence{Files: evidence}

	applyManifestHints(d, req.Dir)
	return d.Compact()
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, s := range items {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func sortedSet(items []string) []string {
	out := dedupe(items)
	sort.Strings(out)
	return out
}

func dedupeEntries(entries []types.InterfaceEntry) []types.InterfaceEntry {
	seen := make(map[types.InterfaceEntry]bool, len(entries))
	var out []types.InterfaceEntry
	for _, e := range entries {
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}
