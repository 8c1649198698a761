package heuristic

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/cmejo/AI-Scholar-sub007/internal/agent"
	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
)

const (
	technicalTmpl = `{{if .Detailed}}Here is a detailed technical answer{{else}}Short answer{{end}} on {{.Topic}}.
{{- if eq .Strategy "stepwise"}} Let's take it one step at a time, starting with the part most likely to matter.{{end}}
{{- if .Examples}} I'll anchor this with a concrete example you can adapt.{{end}}`

	explanatoryTmpl = `Let's unpack {{.Topic}}.
{{- if .Analogies}} Think of it like a recipe: each step builds on the previous one.{{end}}
{{- range $i := .Levels}} Layer {{inc $i}} adds more detail to the picture.{{end}}`

	creativeTmpl = `Here are some {{if .Bold}}unconventional{{else}}practical{{end}} directions for {{.Topic}}. Try one, see how it feels, and we can iterate.`

	clarifyingTmpl = `Before I answer, I want to be sure I understand {{.Topic}}.
{{- range $i := .Levels}}{{if eq $i 0}} What outcome are you hoping for?{{else if eq $i 1}} What have you tried so far?{{else}} Are there constraints I should know about?{{end}}{{end}}`

	supportiveTmpl = `{{if .Warm}}That sounds genuinely hard, and it makes sense to feel that way.{{else}}I hear you.{{end}} We can work through {{.Topic}} together, one piece at a time.`

	summarizingTmpl = `Here's where we are so far:
{{- range .Points}}
- {{.}}{{end}}
{{- if not .Points}} we are just getting started on {{.Topic}}.{{end}}`
)

// view is the data passed to templates.
type view struct {
	Topic     string
	Strategy  string
	Detailed  bool
	Examples  bool
	Analogies bool
	Bold      bool
	Warm      bool
	Levels    []int
	Points    []string
}

// TemplateRenderer renders each action kind from a fixed text template.
type TemplateRenderer struct {
	templates map[conversation.ActionKind]*template.Template
}

var _ agent.Renderer = (*TemplateRenderer)(nil)

// NewTemplateRenderer parses the built-in templates.
func NewTemplateRenderer() *TemplateRenderer {
	funcs := template.FuncMap{"inc": func(i int) int { return i + 1 }}
	parse := func(name, text string) *template.Template {
		return template.Must(template.New(name).Funcs(funcs).Parse(text))
	}
	return &TemplateRenderer{templates: map[conversation.ActionKind]*template.Template{
		conversation.KindTechnical:   parse("technical", technicalTmpl),
		conversation.KindExplanatory: parse("explanatory", explanatoryTmpl),
		conversation.KindCreative:    parse("creative", creativeTmpl),
		conversation.KindClarifying:  parse("clarifying", clarifyingTmpl),
		conversation.KindSupportive:  parse("supportive", supportiveTmpl),
		conversation.KindSummarizing: parse("summarizing", summarizingTmpl),
	}}
}

// Render implements agent.Renderer. The topic is taken from the pending
// turn, the last one in state.
func (r *TemplateRenderer) Render(ctx context.Context, action conversation.Action, state *conversation.State, p agent.Personalization) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tmpl, ok := r.templates[action.Kind()]
	if !ok {
		return "", fmt.Errorf("no template for %q", action.Kind())
	}

	v := view{Strategy: action.Common().Strategy, Topic: "your question"}
	if last, ok := state.LastTurn(); ok {
		if t := topic(last.Input); t != "" {
			v.Topic = t
		}
	}

	switch a := action.(type) {
	case conversation.TechnicalAction:
		v.Detailed = a.DetailLevel >= 0.5 || (p.Applied && p.Verbosity >= 0.6)
		v.Examples = a.IncludeExamples
	case conversation.ExplanatoryAction:
		v.Analogies = a.UseAnalogies
		v.Levels = levels(a.Depth - 1)
	case conversation.CreativeAction:
		v.Bold = a.Novelty >= 0.7
	case conversation.ClarifyingAction:
		v.Levels = levels(a.Questions)
	case conversation.SupportiveAction:
		v.Warm = a.Empathy >= 0.7
	case conversation.SummarizingAction:
		v.Points = points(state, a.MaxPoints)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("render %s: %w", action.Kind(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// topic trims input to a short phrase usable inside a sentence.
func topic(input string) string {
	t := strings.TrimSpace(input)
	t = strings.TrimRight(t, "?!. ")
	const maxTopic = 80
	if r := []rune(t); len(r) > maxTopic {
		t = string(r[:maxTopic])
	}
	if t == "" {
		return ""
	}
	return `"` + t + `"`
}

func levels(n int) []int {
	if n <= 0 {
		return nil
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// points lists up to limit earlier user inputs, excluding the pending turn.
func points(state *conversation.State, limit int) []string {
	prior := state.Turns
	if len(prior) > 0 {
		prior = prior[:len(prior)-1]
	}
	if len(prior) > limit {
		prior = prior[len(prior)-limit:]
	}
	out := make([]string, 0, len(prior))
	for _, t := range prior {
		if s := topic(t.Input); s != "" {
			out = append(out, "You asked about "+s)
		}
	}
	return out
}
