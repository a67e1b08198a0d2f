package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/steveyegge/digin/internal/orchestrator"
	"github.com/steveyegge/digin/internal/types"
)

const treeSummaryWidth = 72

// printResult writes the run's digest to w in the requested format.
func printResult(w io.Writer, res *orchestrator.Result, format string) {
	if res == nil || res.Digest == nil {
		fmt.Fprintf(w, "%s No digest was produced for the root directory\n", yellow("!"))
		return
	}
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(res.Digest, "", "  ")
		if err != nil {
			fatal("failed to encode digest: %v", err)
		}
		fmt.Fprintln(w, string(data))
	case formatTree:
		printTree(w, res.Digests)
	default:
		printSummary(w, res.Digest)
	}
}

// printTree lists every digest of the run, indented by depth.
func printTree(w io.Writer, digests map[string]*types.Digest) {
	rels := make([]string, 0, len(digests))
	for rel := range digests {
		rels = append(rels, rel)
	}
	sort.Slice(rels, func(i, j int) bool {
		if rels[i] == "." || rels[j] == "." {
			return rels[i] == "."
		}
		return rels[i] < rels[j]
	})

	for _, rel := range rels {
		d := digests[rel]
		depth := 0
		name := d.Name
		if rel != "." {
			depth = strings.Count(rel, string(filepath.Separator)) + 1
			name = filepath.Base(rel) + "/"
		}
		fmt.Fprintf(w, "%s%s %s %s\n", strings.Repeat("  ", depth), bold(name),
			cyan("["+string(d.Kind)+"]"), gray(fmt.Sprintf("%d%%", d.Confidence)))
		if d.Summary != "" {
			fmt.Fprintf(w, "%s  %s\n", strings.Repeat("  ", depth), shorten(d.Summary, treeSummaryWidth))
		}
	}
}

// printSummary renders the root digest for a human reader.
func printSummary(w io.Writer, d *types.Digest) {
	fmt.Fprintf(w, "\n%s %s\n", bold(d.Name), cyan("("+string(d.Kind)+")"))
	fmt.Fprintf(w, "%s %d%%\n", gray("Confidence:"), d.Confidence)
	if d.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", d.Summary)
	}
	if d.Narrative != nil && d.Narrative.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", d.Narrative.Summary)
	}

	printList(w, "Capabilities", d.Capabilities)
	if d.PublicInterfaces != nil {
		var entries []string
		for _, cat := range types.InterfaceCategories {
			for _, e := range d.PublicInterfaces.Category(cat) {
				entries = append(entries, describeInterface(cat, e))
			}
		}
		printList(w, "Public interfaces", entries)
	}
	if d.Dependencies != nil {
		printList(w, "External dependencies", d.Dependencies.External)
	}
	if d.Configuration != nil {
		printList(w, "Environment", d.Configuration.Env)
	}
	printList(w, "Risks", d.Risks)

	if d.Narrative != nil {
		if d.Narrative.Handshake != "" {
			fmt.Fprintf(w, "\n%s %s\n", green("Start here:"), d.Narrative.Handshake)
		}
		if d.Narrative.NextSteps != "" {
			fmt.Fprintf(w, "%s %s\n", green("Then:"), d.Narrative.NextSteps)
		}
	}
}

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", bold(title+":"))
	for _, item := range items {
		fmt.Fprintf(w, "  • %s\n", item)
	}
}

func describeInterface(category string, e types.InterfaceEntry) string {
	var label string
	switch {
	case e.Method != "" || e.Path != "":
		label = strings.TrimSpace(e.Method + " " + e.Path)
	case e.Name != "":
		label = e.Name
	default:
		label = e.Handler
	}
	if e.Description != "" {
		label += " - " + e.Description
	}
	return fmt.Sprintf("%s %s", gray(strings.ToUpper(category)), label)
}

// printStats writes the run counters to w.
func printStats(w io.Writer, s types.RunStatistics) {
	fmt.Fprintf(w, "\n%s %s\n", green("✓"), s.Summary())
	if s.DirectoriesVisited > 0 {
		fmt.Fprintf(w, "  Cache hit rate: %.0f%%, %s files read, finished %s\n",
			s.HitRate()*100, humanize.Comma(int64(s.FilesProcessed)),
			humanize.RelTime(s.EndedAt, time.Now(), "ago", "from now"))
	}
	if s.Errors > 0 {
		fmt.Fprintf(w, "  %s %d directories failed, run with --verbose for details\n", yellow("!"), s.Errors)
	}
}

func shorten(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}
