// Package artifact defines the clinical artifact model: patient identity,
// the closed set of artifact kinds, the generation request, the prompt
// template registry, and the append-only encounter store.
package artifact

import (
	"time"

	"github.com/google/uuid"
)

// PatientIdentity carries the display data attached to a session. It is
// supplied once at session creation and never changes afterwards. The name
// is display data only; sessions are keyed by their own UUID.
type PatientIdentity struct {
	DisplayName    string `json:"display_name"`
	ExternalID     string `json:"external_id,omitempty"`
	ContactAddress string `json:"contact_address,omitempty"`
}

// Kind identifies one of the supported clinical artifact kinds.
type Kind string

const (
	KindTriage              Kind = "triage"
	KindTreatmentPlan       Kind = "treatment_plan"
	KindLabSummary          Kind = "lab_summary"
	KindDiagnosisSuggestion Kind = "diagnosis_suggestion"
	KindDocumentQA          Kind = "document_qa"
)

var validKinds = map[Kind]bool{
	KindTriage:              true,
	KindTreatmentPlan:       true,
	KindLabSummary:          true,
	KindDiagnosisSuggestion: true,
	KindDocumentQA:          true,
}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	return validKinds[k]
}

// DependsOn returns the kind an artifact of kind k must be derived from,
// if any. DiagnosisSuggestion is the only dependent kind: it requires an
// existing Triage artifact for the same session.
func (k Kind) DependsOn() (Kind, bool) {
	if k == KindDiagnosisSuggestion {
		return KindTriage, true
	}
	return "", false
}

// EncounterArtifact is one generated clinical artifact. Immutable once
// appended to a store.
type EncounterArtifact struct {
	ID               uuid.UUID  `json:"id"`
	Kind             Kind       `json:"kind"`
	CreatedAt        time.Time  `json:"created_at"`
	RawInput         string     `json:"raw_input"`
	GeneratedContent string     `json:"generated_content"`
	DerivedFrom      *uuid.UUID `json:"derived_from,omitempty"`
}

// GenerationRequest is the fully built request handed to the generation
// client. Transient; never persisted.
type GenerationRequest struct {
	Kind        Kind
	Prompt      string
	Model       string
	Temperature float32
}
