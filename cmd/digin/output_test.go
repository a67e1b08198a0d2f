package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/digin/internal/config"
	"github.com/steveyegge/digin/internal/orchestrator"
	"github.com/steveyegge/digin/internal/types"
)

func init() {
	color.NoColor = true
}

func TestPrintTreeOrdersRootFirst(t *testing.T) {
	digests := map[string]*types.Digest{
		filepath.Join("src", "api"): {Name: "api", Kind: types.KindService, Confidence: 80, Summary: "HTTP handlers"},
		".":       {Name: "shop", Kind: types.KindService, Confidence: 75},
		"docs":    {Name: "docs", Kind: types.KindDocs, Confidence: 60},
		"src":     {Name: "src", Kind: types.KindLib, Confidence: 70},
	}
	var buf bytes.Buffer
	printTree(&buf, digests)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Equal(t, []string{
		"shop [service] 75%",
		"  docs/ [docs] 60%",
		"  src/ [lib] 70%",
		"    api/ [service] 80%",
		"      HTTP handlers",
	}, lines)
}

func TestPrintResultWithoutDigest(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, &orchestrator.Result{}, formatSummary)
	assert.Contains(t, buf.String(), "No digest was produced")
}

func TestPrintResultJSON(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, &orchestrator.Result{Digest: &types.Digest{Name: "shop", Kind: types.KindLib, Confidence: 42}}, formatJSON)
	assert.Contains(t, buf.String(), `"kind": "lib"`)
	assert.Contains(t, buf.String(), `"confidence": 42`)
}

func TestPrintSummary(t *testing.T) {
	d := &types.Digest{
		Name:         "shop",
		Kind:         types.KindService,
		Summary:      "Online shop backend.",
		Confidence:   81,
		Capabilities: []string{"checkout", "catalog"},
		PublicInterfaces: &types.PublicInterfaces{
			HTTP: []types.InterfaceEntry{{Method: "GET", Path: "/items", Description: "list items"}},
			CLI:  []types.InterfaceEntry{{Name: "migrate"}},
		},
		Risks:     []string{"no rate limiting"},
		Narrative: &types.Narrative{Handshake: "Open api/server.go"},
	}
	var buf bytes.Buffer
	printSummary(&buf, d)
	out := buf.String()

	assert.Contains(t, out, "shop (service)")
	assert.Contains(t, out, "Confidence: 81%")
	assert.Contains(t, out, "  • checkout")
	assert.Contains(t, out, "HTTP GET /items - list items")
	assert.Contains(t, out, "CLI migrate")
	assert.Contains(t, out, "  • no rate limiting")
	assert.Contains(t, out, "Start here: Open api/server.go")
}

func TestShorten(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"collapses   inner\nwhitespace", 40, "collapses inner whitespace"},
		{"abcdefghijkl", 8, "abcde..."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shorten(tt.in, tt.width))
	}
}

func TestDescribeChanges(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "repo")
	abs := func(p string) string { return filepath.Join(root, p) }

	assert.Equal(t, "a.go", describeChanges(root, []string{abs("a.go")}))
	assert.Equal(t, "a.go, b.go, c.go and 2 more",
		describeChanges(root, []string{abs("a.go"), abs("b.go"), abs("c.go"), abs("d.go"), abs("e.go")}))
}

func TestApplyAnalyzeFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "analyze"}
	addAnalyzeFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--provider", "gemini", "--workers", "4", "--no-cache", "--narrative"}))

	s := config.DefaultSettings()
	applyAnalyzeFlags(cmd, s)
	assert.Equal(t, "gemini", s.Provider)
	assert.Equal(t, 4, s.ParallelWorkers)
	assert.False(t, s.CacheEnabled)
	assert.True(t, s.NarrativeEnabled)
}
