package schema

import "time"

// Phase names a trigger point in the run or document lifecycle.
type Phase string

// Block phases, triggered by the run orchestrator.
const (
	PhaseRunStart      Phase = "onRunStart"
	PhaseSectionEnter  Phase = "onSectionEnter"
	PhaseSectionSubmit Phase = "onSectionSubmit"
	PhaseNext          Phase = "onNext"
	PhaseRunComplete   Phase = "onRunComplete"
)

// Lifecycle hook phases, triggered during page/document generation.
const (
	PhaseBeforePage         Phase = "beforePage"
	PhaseAfterPage          Phase = "afterPage"
	PhaseBeforeFinalBlock   Phase = "beforeFinalBlock"
	PhaseAfterDocsGenerated Phase = "afterDocumentsGenerated"
)

// BlockPhases lists the five block trigger points in lifecycle order.
var BlockPhases = []Phase{
	PhaseRunStart, PhaseSectionEnter, PhaseSectionSubmit, PhaseNext, PhaseRunComplete,
}

// HookPhases lists the four page/document lifecycle trigger points.
var HookPhases = []Phase{
	PhaseBeforePage, PhaseAfterPage, PhaseBeforeFinalBlock, PhaseAfterDocsGenerated,
}

// IsBlockPhase reports whether p is one of the block trigger points.
func (p Phase) IsBlockPhase() bool {
	for _, bp := range BlockPhases {
		if p == bp {
			return true
		}
	}
	return false
}

// IsHookPhase reports whether p is one of the lifecycle hook trigger points.
func (p Phase) IsHookPhase() bool {
	for _, hp := range HookPhases {
		if p == hp {
			return true
		}
	}
	return false
}

// Valid reports whether p is any of the nine known trigger points.
func (p Phase) Valid() bool {
	return p.IsBlockPhase() || p.IsHookPhase()
}

// Run is one instantiated execution of a workflow. It owns its variable values
// (step ID to value) and progress. Once Completed is set the run is sealed:
// script-driven writes are rejected.
type Run struct {
	ID               string         `json:"id"`
	WorkflowID       string         `json:"workflow_id"`
	CreatedBy        string         `json:"created_by,omitempty"`
	Completed        bool           `json:"completed"`
	CurrentSectionID string         `json:"current_section_id,omitempty"`
	Progress         float64        `json:"progress"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Values           map[string]any `json:"values,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}
