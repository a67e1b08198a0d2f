package types

import "time"

// Outcome is what happened to one directory during a run.
type Outcome string

const (
	OutcomeHit        Outcome = "hit"        // served from cache
	OutcomeAnalyzed   Outcome = "analyzed"   // leaf analyzer produced a digest
	OutcomeAggregated Outcome = "aggregated" // built from child digests
	OutcomeFailed     Outcome = "failed"     // analysis, aggregation or persistence failed
	OutcomeSkipped    Outcome = "skipped"    // nothing to analyze
	OutcomeCancelled  Outcome = "cancelled"  // run stopped before the directory finished
)

// Succeeded reports whether the outcome produced a digest.
func (o Outcome) Succeeded() bool {
	return o == OutcomeHit || o == OutcomeAnalyzed || o == OutcomeAggregated
}

// DirectoryOutcome records the result for one directory.
type DirectoryOutcome struct {
	Path     string        `json:"path"`
	Outcome  Outcome       `json:"outcome"`
	Kind     Kind          `json:"kind,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunRecord is the durable summary of one orchestrator run.
type RunRecord struct {
	ID             string             `json:"id"`
	Root           string             `json:"root"`
	Provider       string             `json:"provider"`
	Stats          RunStatistics      `json:"stats"`
	RootKind       Kind               `json:"root_kind"`
	RootConfidence int                `json:"root_confidence"`
	Outcomes       []DirectoryOutcome `json:"outcomes,omitempty"`
}
