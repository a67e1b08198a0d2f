// Package types holds the data model shared by every stage of the digest
// pipeline: digests, file and directory records, and run statistics.
package types

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Version is the producer version stamped on every digest.
const Version = "0.4.0"

// Cache artifacts written next to every analyzed directory.
const (
	DigestFileName      = "digest.json"
	FingerprintFileName = ".digin_hash"

	// StateDirName holds per-project state such as the run index.
	StateDirName = ".digin"

	// TempPrefix starts the name of every in-flight artifact write.
	TempPrefix = ".digin-tmp-"
)

// IsArtifactName reports whether name is one of the files or directories
// digin itself writes into an analyzed tree. Artifacts never take part in
// traversal, hashing or analysis.
func IsArtifactName(name string) bool {
	switch name {
	case DigestFileName, FingerprintFileName, StateDirName:
		return true
	}
	return strings.HasPrefix(name, TempPrefix)
}

// AnalyzerVersion returns the producer tag for digests built by this binary.
func AnalyzerVersion() string {
	return "digin-" + Version
}

// Kind classifies what a directory is for.
type Kind string

const (
	KindService Kind = "service"
	KindLib     Kind = "lib"
	KindUI      Kind = "ui"
	KindInfra   Kind = "infra"
	KindConfig  Kind = "config"
	KindTest    Kind = "test"
	KindDocs    Kind = "docs"
	KindUnknown Kind = "unknown"
)

// Kinds lists every classification in canonical order. The order is used to
// break ties deterministically.
var Kinds = []Kind{KindService, KindLib, KindUI, KindInfra, KindConfig, KindTest, KindDocs, KindUnknown}

// IsValid reports whether k is one of the fixed classifications.
func (k Kind) IsValid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind maps free text onto a Kind, returning KindUnknown for anything
// outside the enumeration.
func ParseKind(s string) Kind {
	k := Kind(s)
	if k.IsValid() {
		return k
	}
	switch s {
	case "library", "libs", "utils", "shared":
		return KindLib
	case "tests", "testing":
		return KindTest
	case "doc", "documentation":
		return KindDocs
	case "frontend", "web":
		return KindUI
	case "api", "server", "backend":
		return KindService
	}
	return KindUnknown
}

// Dependencies are the modules a directory relies on.
type Dependencies struct {
	Internal []string `json:"internal,omitempty"`
	External []string `json:"external,omitempty"`
}

// IsEmpty reports whether neither list has entries.
func (d *Dependencies) IsEmpty() bool {
	return d == nil || (len(d.Internal) == 0 && len(d.External) == 0)
}

// InterfaceEntry describes one public entry point. Which fields are set
// depends on the category: HTTP routes carry Method and Path, CLI commands
// carry Name, and so on. The struct is comparable so entries can be
// deduplicated by value.
type InterfaceEntry struct {
	Name        string `json:"name,omitempty"`
	Method      string `json:"method,omitempty"`
	Path        string `json:"path,omitempty"`
	Handler     string `json:"handler,omitempty"`
	Description string `json:"description,omitempty"`
}

// PublicInterfaces groups entry points by category.
type PublicInterfaces struct {
	HTTP []InterfaceEntry `json:"http,omitempty"`
	RPC  []InterfaceEntry `json:"rpc,omitempty"`
	CLI  []InterfaceEntry `json:"cli,omitempty"`
	API  []InterfaceEntry `json:"api,omitempty"`
}

// InterfaceCategories lists the fixed categories in serialization order.
var InterfaceCategories = []string{"http", "rpc", "cli", "api"}

// Category returns the entries for a category name.
func (p *PublicInterfaces) Category(name string) []InterfaceEntry {
	if p == nil {
		return nil
	}
	switch name {
	case "http":
		return p.HTTP
	case "rpc":
		return p.RPC
	case "cli":
		return p.CLI
	case "api":
		return p.API
	}
	return nil
}

// SetCategory replaces the entries for a category name.
func (p *PublicInterfaces) SetCategory(name string, entries []InterfaceEntry) {
	switch name {
	case "http":
		p.HTTP = entries
	case "rpc":
		p.RPC = entries
	case "cli":
		p.CLI = entries
	case "api":
		p.API = entries
	}
}

// IsEmpty reports whether no category has entries.
func (p *PublicInterfaces) IsEmpty() bool {
	return p == nil || (len(p.HTTP) == 0 && len(p.RPC) == 0 && len(p.CLI) == 0 && len(p.API) == 0)
}

// Configuration lists the knobs a directory reads.
type Configuration struct {
	Env   []string `json:"env,omitempty"`
	Files []string `json:"files,omitempty"`
}

// IsEmpty reports whether neither list has entries.
func (c *Configuration) IsEmpty() bool {
	return c == nil || (len(c.Env) == 0 && len(c.Files) == 0)
}

// Evidence points at what a digest was built from.
type Evidence struct {
	Files []string `json:"files,omitempty"`
}

// IsEmpty reports whether no evidence was recorded.
func (e *Evidence) IsEmpty() bool {
	return e == nil || len(e.Files) == 0
}

// Narrative is the colloquial, reader-facing companion to a summary.
type Narrative struct {
	Summary   string `json:"summary,omitempty"`
	Handshake string `json:"handshake,omitempty"`
	NextSteps string `json:"next_steps,omitempty"`
}

// IsEmpty reports whether all narrative strings are blank.
func (n *Narrative) IsEmpty() bool {
	return n == nil || (n.Summary == "" && n.Handshake == "" && n.NextSteps == "")
}

// Digest is the unit of knowledge about one directory. It is produced once
// per directory per run (or loaded from cache) and never mutated after it is
// handed to the cache or to a parent aggregation.
type Digest struct {
	Name             string            `json:"name"`
	Path             string            `json:"path"`
	Kind             Kind              `json:"kind"`
	Summary          string            `json:"summary,omitempty"`
	Capabilities     []string          `json:"capabilities,omitempty"`
	Dependencies     *Dependencies     `json:"dependencies,omitempty"`
	PublicInterfaces *PublicInterfaces `json:"public_interfaces,omitempty"`
	Configuration    *Configuration    `json:"configuration,omitempty"`
	Risks            []string          `json:"risks,omitempty"`
	Evidence         *Evidence         `json:"evidence,omitempty"`
	Confidence       int               `json:"confidence"`
	AnalyzedAt       time.Time         `json:"analyzed_at"`
	AnalyzerVersion  string            `json:"analyzer_version,omitempty"`
	Narrative        *Narrative        `json:"narrative,omitempty"`
}

// Compact drops empty optional fields so that "present" always means
// "has content". It returns d for chaining.
func (d *Digest) Compact() *Digest {
	if d == nil {
		return nil
	}
	if len(d.Capabilities) == 0 {
		d.Capabilities = nil
	}
	if len(d.Risks) == 0 {
		d.Risks = nil
	}
	if d.Dependencies != nil {
		if len(d.Dependencies.Internal) == 0 {
			d.Dependencies.Internal = nil
		}
		if len(d.Dependencies.External) == 0 {
			d.Dependencies.External = nil
		}
		if d.Dependencies.IsEmpty() {
			d.Dependencies = nil
		}
	}
	if d.PublicInterfaces != nil {
		for _, cat := range InterfaceCategories {
			if len(d.PublicInterfaces.Category(cat)) == 0 {
				d.PublicInterfaces.SetCategory(cat, nil)
			}
		}
		if d.PublicInterfaces.IsEmpty() {
			d.PublicInterfaces = nil
		}
	}
	if d.Configuration != nil {
		if len(d.Configuration.Env) == 0 {
			d.Configuration.Env = nil
		}
		if len(d.Configuration.Files) == 0 {
			d.Configuration.Files = nil
		}
		if d.Configuration.IsEmpty() {
			d.Configuration = nil
		}
	}
	if d.Evidence.IsEmpty() {
		d.Evidence = nil
	}
	if d.Narrative.IsEmpty() {
		d.Narrative = nil
	}
	return d
}

// Validate checks the invariants a persisted digest must satisfy.
func (d *Digest) Validate() error {
	if d == nil {
		return fmt.Errorf("digest is nil")
	}
	if !d.Kind.IsValid() {
		return fmt.Errorf("invalid kind %q", d.Kind)
	}
	if d.Confidence < 0 || d.Confidence > 100 {
		return fmt.Errorf("confidence %d out of range [0,100]", d.Confidence)
	}
	return nil
}

// EmptyDigest is the well-defined result for a directory that produced
// nothing: classification unknown, confidence zero.
func EmptyDigest(dir, relPath, reason string) *Digest {
	return (&Digest{
		Name:            filepath.Base(dir),
		Path:            relPath,
		Kind:            KindUnknown,
		Summary:         reason,
		Confidence:      0,
		AnalyzedAt:      Now(),
		AnalyzerVersion: AnalyzerVersion(),
	}).Compact()
}

// Now returns the current time in the precision digests persist.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// ClampConfidence bounds a score to [0,100].
func ClampConfidence(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
