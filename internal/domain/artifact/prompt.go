package artifact

import (
	"fmt"
	"strings"
)

// PromptBuilder combines a registered template, the clinician's raw text and
// an optional prior artifact into a generation request. The raw text is
// substituted verbatim; it is never truncated or escaped.
type PromptBuilder struct {
	registry *Registry
}

// NewPromptBuilder creates a PromptBuilder backed by the given registry.
func NewPromptBuilder(registry *Registry) *PromptBuilder {
	return &PromptBuilder{registry: registry}
}

// promptFence is the delimiter the templates use to wrap untrusted text.
// Raw input carrying the fence could break out of the quoted block, so it
// is rejected up front.
const promptFence = `"""`

// Build produces the generation request for kind from rawInput. For the
// dependent DiagnosisSuggestion kind, prior must be an existing Triage
// artifact; Build fails with ErrMissingDependency otherwise. reportText is
// only consulted for DocumentQA.
func (b *PromptBuilder) Build(kind Kind, rawInput string, prior *EncounterArtifact, reportText string) (GenerationRequest, error) {
	if strings.TrimSpace(rawInput) == "" {
		return GenerationRequest{}, ErrEmptyInput
	}
	if strings.Contains(rawInput, promptFence) {
		return GenerationRequest{}, ErrUnsafeInput
	}

	tpl, err := b.registry.TemplateFor(kind)
	if err != nil {
		return GenerationRequest{}, err
	}

	if dep, ok := kind.DependsOn(); ok {
		if prior == nil || prior.Kind != dep {
			return GenerationRequest{}, fmt.Errorf("%w: %s requires a prior %s artifact", ErrMissingDependency, kind, dep)
		}
	}
	if kind == KindDocumentQA && strings.TrimSpace(reportText) == "" {
		return GenerationRequest{}, fmt.Errorf("%w: %s requires an attached report", ErrMissingDependency, kind)
	}

	priorContent := ""
	if prior != nil {
		priorContent = prior.GeneratedContent
	}

	// All placeholders are expanded in a single pass over the template, so
	// placeholder tokens occurring literally inside the substituted text
	// stay verbatim.
	prompt := strings.NewReplacer(
		"{{input}}", rawInput,
		"{{prior}}", priorContent,
		"{{report}}", reportText,
	).Replace(tpl.Prompt)

	return GenerationRequest{
		Kind:        kind,
		Prompt:      prompt,
		Model:       tpl.Model,
		Temperature: tpl.Temperature,
	}, nil
}
