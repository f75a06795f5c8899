// Package prompts loads the six named prompt templates the Planner's
// LLM-calling actions render before invoking the LLM Gateway, with simple
// {{.Field}} variable substitution via the standard library's text/template.
package prompts

import (
	"bytes"
	"fmt"
	"text/template"
)

// Name identifies one of the fixed prompt templates.
type Name string

const (
	IntentClassification   Name = "intent_classification"
	RequirementsExtraction Name = "requirements_extraction"
	CodeGeneration         Name = "code_generation"
	LibraryExtraction      Name = "library_extraction"
	CodeFix                Name = "code_fix"
	ConversationalAnswer   Name = "conversational_answer"
)

// Catalog holds the parsed form of every named template.
type Catalog struct {
	templates map[Name]*template.Template
}

// New parses the fixed template set. A parse failure here is a programming
// error (the templates are a compile-time constant), so it panics rather
// than threading an error through every call site that constructs a
// Catalog.
func New() *Catalog {
	c := &Catalog{templates: make(map[Name]*template.Template, len(rawTemplates))}
	for name, body := range rawTemplates {
		t, err := template.New(string(name)).Parse(body)
		if err != nil {
			panic(fmt.Sprintf("prompts: template %q failed to parse: %v", name, err))
		}
		c.templates[name] = t
	}
	return c
}

// Render substitutes data into the named template.
func (c *Catalog) Render(name Name, data any) (string, error) {
	t, ok := c.templates[name]
	if !ok {
		return "", fmt.Errorf("prompts: unknown template %q", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("prompts: render %q: %w", name, err)
	}
	return buf.String(), nil
}

var rawTemplates = map[Name]string{
	IntentClassification: `Classify the following smart-home assistant message.

Message: {{.Message}}
{{if .History}}
Conversation so far:
{{range .History}}{{.Role}}: {{.Content}}
{{end}}{{end}}
Decide whether this is a request to create or modify an automation
(automation_request), a question about the current state of the smart-home
(question), small talk (chat), or none of the above (unknown). Extract any
entities mentioned (device names, rooms, times).

Respond with JSON: {"type": "...", "description": "...", "confidence": 0.0,
"entities": {"key": "value"}}.`,

	RequirementsExtraction: `The user wants an automation. Extract structured requirements from their
request, using the available context below to ground device/topic names.

Request: {{.Message}}

Available topics: {{.AvailableTopics}}

Respond with JSON describing: description, triggers (topic patterns or
events that start the automation), actions (what it should do), conditions
(optional guards), suggestedName, needsSchedule (true if it is time-based
rather than event-based), schedule (cron-like string if needsSchedule),
globalStateWrites (any shared state keys it writes). triggers must be
non-empty unless needsSchedule is true.`,

	CodeGeneration: `Generate a smart-home automation script satisfying these requirements.

Requirements: {{.Requirements}}

Relevant context:
{{.Context}}

You may call tools to look up topics, existing automations, library modules,
or semantically similar code before producing your answer. When ready,
respond with JSON: {"files": [{"code": "...", "filename": "...", "kind":
"automation"}], "summary": "..."}.`,

	LibraryExtraction: `Review the generated automation below. If part of its logic is reusable
(e.g. a helper that blinks a light, or computes a schedule), extract it into
a separate library file under lib/, and rewrite the automation to import it.
If nothing is meaningfully reusable, leave the code unchanged.

Generated code: {{.GeneratedCode}}

Respond with JSON: {"files": [{"code": "...", "filename": "...", "kind":
"automation"|"library"}, ...], "summary": "...", "extractionPerformed":
true|false}.`,

	CodeFix: `The following file failed validation against the execution engine. Fix it.

Filename: {{.Filename}}
Code:
{{.Code}}

Validation errors:
{{range .Errors}}- {{.}}
{{end}}
Respond with JSON: {"files": [{"code": "...", "filename": "...", "kind":
"automation"|"library"}], "summary": "..."}.`,

	ConversationalAnswer: `Answer the user's question about their smart-home, using the tools available
to you to look up current topics, automations, and library modules as
needed. Be concise and specific — name real topics/automations where you can.

Question: {{.Message}}
{{if .History}}
Conversation so far:
{{range .History}}{{.Role}}: {{.Content}}
{{end}}{{end}}`,
}
