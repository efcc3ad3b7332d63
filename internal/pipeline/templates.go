package pipeline

import "fmt"

// Template is the structural instruction set handed to the protocol
// generator. Its content shapes the LLM prompt; rendering semantics live
// with the generator, not here.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// TemplateLibrary resolves template IDs to their content.
type TemplateLibrary struct {
	templates map[string]Template
}

// NewTemplateLibrary returns the built-in library.
func NewTemplateLibrary() *TemplateLibrary {
	lib := &TemplateLibrary{templates: make(map[string]Template)}
	for _, t := range builtinTemplates {
		lib.templates[t.ID] = t
	}
	return lib
}

// Get resolves a template by ID.
func (l *TemplateLibrary) Get(id string) (Template, error) {
	t, ok := l.templates[id]
	if !ok {
		return Template{}, fmt.Errorf("pipeline: unknown template %q", id)
	}
	return t, nil
}

// IDs lists the available template IDs.
func (l *TemplateLibrary) IDs() []string {
	ids := make([]string, 0, len(l.templates))
	for id := range l.templates {
		ids = append(ids, id)
	}
	return ids
}

var builtinTemplates = []Template{
	{
		ID:   "standard",
		Name: "Standard meeting protocol",
		Content: `# Meeting Protocol

## Summary
A concise overview of what the meeting covered.

## Participants
List every participant with their role where known.

## Discussion
The main discussion points, grouped by topic, attributed to speakers.

## Decisions
Each decision made, with who made it.

## Action Items
Each action item with assignee and due date where stated.`,
	},
	{
		ID:   "standup",
		Name: "Daily standup notes",
		Content: `# Standup Notes

For each participant: what they did, what they plan to do, and any
blockers they raised.`,
	},
	{
		ID:   "decision_log",
		Name: "Decision log",
		Content: `# Decision Log

Only the decisions: what was decided, who decided, the stated rationale,
and any follow-ups.`,
	},
}
