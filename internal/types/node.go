package types

import (
	"fmt"
	"strings"
	"time"
)

// FileRecord describes one included file in a directory listing.
type FileRecord struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Extension string    `json:"extension,omitempty"`
	Size      int64     `json:"size"`
	ModTime   time.Time `json:"mod_time"`
	IsText    bool      `json:"is_text"`

	// ContentPreview is a bounded prefix of the file, set only for small
	// text files.
	ContentPreview string `json:"content_preview,omitempty"`
	LineCount      int    `json:"line_count,omitempty"`
}

// DirectoryNode is one level of a directory listing after ignore rules are
// applied. It is rebuilt from the file system on every run.
type DirectoryNode struct {
	Path    string       `json:"path"`
	Name    string       `json:"name"`
	Files   []FileRecord `json:"files"`
	Subdirs []string     `json:"subdirs"`
}

// TotalSize sums the sizes of the included files.
func (n DirectoryNode) TotalSize() int64 {
	var total int64
	for _, f := range n.Files {
		total += f.Size
	}
	return total
}

// IsEmpty reports whether the listing has neither files nor subdirectories.
func (n DirectoryNode) IsEmpty() bool {
	return len(n.Files) == 0 && len(n.Subdirs) == 0
}

// RunStatistics are the counters for one orchestrator run. Each directory
// contributes exactly one outcome.
type RunStatistics struct {
	DirectoriesVisited int       `json:"directories_visited"`
	CacheHits          int       `json:"cache_hits"`
	CacheMisses        int       `json:"cache_misses"`
	AnalyzerCalls      int       `json:"analyzer_calls"`
	Aggregations       int       `json:"aggregations"`
	Errors             int       `json:"errors"`
	Skipped            int       `json:"skipped"`
	FilesProcessed     int       `json:"files_processed"`
	Cancelled          bool      `json:"cancelled,omitempty"`
	StartedAt          time.Time `json:"started_at"`
	EndedAt            time.Time `json:"ended_at"`
}

// Duration returns how long the run took.
func (s RunStatistics) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// HitRate is the share of visited directories served from cache.
func (s RunStatistics) HitRate() float64 {
	if s.DirectoriesVisited == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(s.DirectoriesVisited)
}

// Summary returns a one-paragraph report of the run.
func (s RunStatistics) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Visited %d directories in %v", s.DirectoriesVisited, s.Duration().Round(time.Millisecond))
	fmt.Fprintf(&sb, " (%d cached, %d analyzed, %d aggregated", s.CacheHits, s.AnalyzerCalls, s.Aggregations)
	if s.Skipped > 0 {
		fmt.Fprintf(&sb, ", %d skipped", s.Skipped)
	}
	fmt.Fprintf(&sb, ", %d errors)", s.Errors)
	if s.Cancelled {
		sb.WriteString(" - cancelled before completion")
	}
	return sb.String()
}
