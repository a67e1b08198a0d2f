// Package projectmap turns the digests persisted under a root into an
// onboarding aid: a tree of modules ranked by importance, a suggested
// reading order and a few statistics.
package projectmap

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/steveyegge/digin/internal/config"
	"github.com/steveyegge/digin/internal/logging"
	"github.com/steveyegge/digin/internal/traverse"
	"github.com/steveyegge/digin/internal/types"
)

// FormatVersion is stamped on the JSON rendering.
const FormatVersion = "1.0"

// NodeID indexes a node in a Map.
type NodeID int

const noParent NodeID = -1

// Node is one digested directory. A map whose root has no digest gets a
// synthetic root with Virtual set.
type Node struct {
	ID       NodeID
	Parent   NodeID
	Children []NodeID
	Depth    int

	Name         string
	Path         string // root-relative, "." for the root
	Kind         types.Kind
	Summary      string
	Capabilities []string
	Confidence   int
	Narrative    *types.Narrative
	Virtual      bool

	Importance  float64
	Onboarding  bool
	Recommended bool
}

// Map is the full project map.
type Map struct {
	ProjectName string
	RootPath    string
	GeneratedAt time.Time

	Onboarding Onboarding
	Reading    []ReadingItem
	Stats      Statistics

	nodes   []Node
	digests int
}

// Root returns the root node.
func (m *Map) Root() *Node {
	if len(m.nodes) == 0 {
		return nil
	}
	return &m.nodes[0]
}

// Node returns the node for id.
func (m *Map) Node(id NodeID) *Node {
	return &m.nodes[id]
}

// Len returns the number of nodes, including a virtual root.
func (m *Map) Len() int {
	return len(m.nodes)
}

// Lookup finds a node by root-relative path.
func (m *Map) Lookup(rel string) (*Node, bool) {
	rel = filepath.Clean(rel)
	for i := range m.nodes {
		if m.nodes[i].Path == rel {
			return &m.nodes[i], true
		}
	}
	return nil, false
}

// Builder reads digests from disk and assembles maps.
type Builder struct {
	traverser *traverse.Traverser
	logger    *slog.Logger
	now       func() time.Time
}

// NewBuilder returns a builder that visits the same directories a run
// would, using settings' ignore rules and depth limit.
func NewBuilder(settings *config.Settings, logger *slog.Logger) *Builder {
	logger = logging.OrDiscard(logger)
	return &Builder{
		traverser: traverse.New(settings, logger),
		logger:    logger.With("component", "projectmap"),
		now:       types.Now,
	}
}

// Build collects every digest.json under root and derives the map. A tree
// without digests yields a map with a single unknown root.
func (b *Builder) Build(root string) (*Map, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("cannot map %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	m := &Map{
		ProjectName: filepath.Base(root),
		RootPath:    root,
		GeneratedAt: b.now(),
	}
	b.collect(m, root)
	b.logger.Info("collected digests", "root", root, "digests", m.digests)

	score(m)
	m.Onboarding = onboardingPath(m)
	m.Reading = recommendedReading(m)
	m.Stats = statistics(m)
	return m, nil
}

// collect adds one node per digest, attaching each to its nearest digested
// ancestor. The traverse tree lists parents before children, so that
// ancestor is always already in the map.
func (b *Builder) collect(m *Map, root string) {
	tree := b.traverser.BuildTree(root)
	mapped := make(map[traverse.NodeID]NodeID, tree.Len())

	rootDigest, ok := b.load(tree.Root().Path)
	if ok {
		m.add(rootDigest, ".", noParent, false)
	} else {
		summary := fmt.Sprintf("Root directory of %s.", m.ProjectName)
		m.add(&types.Digest{Name: m.ProjectName, Kind: types.KindInfra, Summary: summary}, ".", noParent, true)
	}
	mapped[tree.Root().ID] = 0

	for i := 1; i < tree.Len(); i++ {
		tn := tree.Node(traverse.NodeID(i))
		d, ok := b.load(tn.Path)
		if !ok {
			continue
		}
		parent := NodeID(0)
		for p := tn.Parent; p != traverse.NoParent; p = tree.Node(p).Parent {
			if id, ok := mapped[p]; ok {
				parent = id
				break
			}
		}
		mapped[tn.ID] = m.add(d, tn.Rel, parent, false)
	}

	if m.nodes[0].Virtual && len(m.nodes) == 1 {
		m.nodes[0].Kind = types.KindUnknown
		m.nodes[0].Summary = "No analysis results for this project yet."
	}
}

// load reads and validates the digest persisted in dir.
func (b *Builder) load(dir string) (*types.Digest, bool) {
	data, err := os.ReadFile(filepath.Join(dir, types.DigestFileName))
	if err != nil {
		if !os.IsNotExist(err) {
			b.logger.Warn("failed to read digest", "dir", dir, "error", err)
		}
		return nil, false
	}
	var d types.Digest
	if err := json.Unmarshal(data, &d); err != nil {
		b.logger.Warn("failed to parse digest", "dir", dir, "error", err)
		return nil, false
	}
	if err := d.Validate(); err != nil {
		b.logger.Warn("skipping invalid digest", "dir", dir, "error", err)
		return nil, false
	}
	return &d, true
}

func (m *Map) add(d *types.Digest, rel string, parent NodeID, virtual bool) NodeID {
	id := NodeID(len(m.nodes))
	name := d.Name
	if name == "" {
		name = filepath.Base(rel)
		if rel == "." {
			name = m.ProjectName
		}
	}
	depth := 0
	if parent != noParent {
		depth = m.nodes[parent].Depth + 1
	}
	m.nodes = append(m.nodes, Node{
		ID:           id,
		Parent:       parent,
		Depth:        depth,
		Name:         name,
		Path:         rel,
		Kind:         d.Kind,
		Summary:      d.Summary,
		Capabilities: d.Capabilities,
		Confidence:   d.Confidence,
		Narrative:    d.Narrative,
		Virtual:      virtual,
	})
	if parent != noParent {
		m.nodes[parent].Children = append(m.nodes[parent].Children, id)
	}
	if !virtual {
		m.digests++
	}
	return id
}
