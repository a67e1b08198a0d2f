package orchestrator

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
)

// dryRunSampleSize bounds how many directories a dry run lists files for.
const dryRunSampleSize = 25

// DryRunSummary previews a run without analyzing or persisting anything.
type DryRunSummary struct {
	Root        string
	Order       []string // root-relative, in processing order
	Directories int
	Leaves      int
	Parents     int
	MaxDepth    int

	SampledDirectories int
	EstimatedFiles     int
	EstimatedBytes     int64
}

// DryRun computes the processing order and leaf/parent split for root and
// estimates the file volume by listing a sample of directories. It reads
// nothing but directory listings and never touches cache artifacts.
func (o *Orchestrator) DryRun(ctx context.Context, root string) (*DryRunSummary, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	tree := o.traverser.BuildTree(root)
	sum := &DryRunSummary{Root: root, Directories: tree.Len()}

	for _, level := range tree.Levels() {
		for _, id := range level {
			n := tree.Node(id)
			sum.Order = append(sum.Order, n.Rel)
			if n.IsLeaf() {
				sum.Leaves++
			} else {
				sum.Parents++
			}
			sum.MaxDepth = max(sum.MaxDepth, n.Depth)
		}
	}

	// Evenly spaced sample over the processing order.
	step := max(1, tree.Len()/dryRunSampleSize)
	var files int
	var size int64
	for i := 0; i < tree.Len(); i += step {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		listing := o.traverser.ListDirectory(filepath.Join(root, sum.Order[i]))
		for _, f := range listing.Files {
			files++
			size += f.Size
		}
		sum.SampledDirectories++
	}
	if sum.SampledDirectories > 0 {
		scale := float64(sum.Directories) / float64(sum.SampledDirectories)
		sum.EstimatedFiles = int(math.Round(float64(files) * scale))
		sum.EstimatedBytes = int64(math.Round(float64(size) * scale))
	}
	return sum, nil
}

// Describe is a one-line human summary of the dry run.
func (s *DryRunSummary) Describe() string {
	return fmt.Sprintf("Would process %d directories (%d leaves, %d parents, depth %d), about %d files",
		s.Directories, s.Leaves, s.Parents, s.MaxDepth, s.EstimatedFiles)
}
