package agents

import (
	"fmt"
	"strings"
	"text/template"
)

var funcs = template.FuncMap{
	"join": strings.Join,
	"inc":  func(i int) int { return i + 1 },
}

func mustParse(name, text string) *template.Template {
	return template.Must(template.New(name).Funcs(funcs).Parse(strings.TrimSpace(text)))
}

func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return strings.TrimSpace(b.String()), nil
}

const briefBlock = `
Goal: {{.Brief.Goal}}
{{- if .Brief.Context}}

Shared context:
{{.Brief.Context}}
{{- end}}
{{- if .Brief.Style}}

Style guidance:
{{.Brief.Style}}
{{- end}}`

var focus = map[Role]string{
	RoleHTML: "the semantic HTML structure of the site",
	RoleJS:   "the JavaScript behaviour: interactions, state and progressive enhancement",
	RoleCSS:  "the CSS: reusable classes, layout, color scheme and responsive rules",
	RoleText: "the written copy. Reply with the final text itself, organised by section",
}

var generationPrompt = mustParse("generation", `
You are the {{.Role}} agent of a small web design team. You are responsible for {{.Focus}}.
`+briefBlock+`

Work directory: {{.WorkDir}}
{{- if .Files}}
You own these paths and must not modify anything else: {{join .Files ", "}}
{{- end}}

Tasks:
{{range $i, $t := .Tasks}}{{inc $i}}. {{$t.Description}}{{if $t.Files}} (files: {{join $t.Files ", "}}){{end}}
{{end}}
Do the work, then reply with a short summary of what you produced.
`)

var assemblyPrompt = mustParse("assembly", `
You are the assembly agent of a small web design team. Combine the work of the other agents into one working site with {{.EntryPoint}} as its entry point.
`+briefBlock+`

Work directory: {{.WorkDir}}
{{range .Outputs}}
== {{.Category}} ({{.HandlerID}}) ==
{{if .Failed}}This agent failed: {{.Err}}. Fill the gap yourself.{{else}}{{.Content}}{{end}}
{{end}}
{{- if .Instructions}}
Assembly instructions:
{{range $i, $t := .Instructions}}{{inc $i}}. {{$t.Description}}
{{end}}
{{- end}}
Write the final files, then reply with a short summary.
`)

var reviewPrompt = mustParse("review", `
You are a senior front-end reviewer. Review revision {{.Artifact.Revision}} of the site in {{.Artifact.Root}} (entry point {{.Artifact.EntryPoint}}).
`+briefBlock+`

Judge code validity, integration between files, responsiveness, best practices and accessibility. Be specific: name files and elements.
{{- if .Lint.Issues}}

Automated checks reported ({{.LintSummary}}):
{{range .Lint.Issues}}- [{{.Tool}} {{.Severity}}]{{if .Location}} {{.Location}}:{{end}} {{.Message}}
{{end}}
{{- end}}
`)

var scorePrompt = mustParse("score", `
REVIEW TO EVALUATE:
<review>
{{.Feedback}}
</review>

Score the site from 0 to 20 in each category and reply in exactly this XML format:

<review_scores>
    <code_validity><score>0-20</score></code_validity>
    <integration><score>0-20</score></integration>
    <responsiveness><score>0-20</score></responsiveness>
    <best_practices><score>0-20</score></best_practices>
    <accessibility><score>0-20</score></accessibility>
</review_scores>
`)

var taskPrompt = mustParse("tasks", `
Turn this review into concrete revision tasks.

<review>
{{.Feedback}}
</review>

Scores:{{range .Scores}} {{.Name}}={{.Value}}/{{.Threshold}}{{end}}
{{- if .Failing}}
Below threshold: {{join .Failing ", "}}. Prioritise these.
{{- end}}

Reply in exactly this XML format, one <task> per change:

<review>
    <summary>One paragraph overview</summary>
    <tasks>
        <task>
            <files>index.html, style.css</files>
            <description>What to change and why</description>
            <priority>CRITICAL|HIGH|MEDIUM|LOW</priority>
        </task>
    </tasks>
</review>
`)

var revisionPrompt = mustParse("revision", `
You are revising the site in {{.Artifact.Root}} (entry point {{.Artifact.EntryPoint}}).
`+briefBlock+`

Apply these tasks, most urgent first:
{{range $i, $t := .Tasks}}{{inc $i}}. [{{$t.Priority}}] {{$t.Description}}{{if $t.Files}} (files: {{join $t.Files ", "}}){{end}}
{{end}}
Edit the files in place, then reply with a short summary of what changed.
`)

var planPrompt = mustParse("plan", `
You distribute web design work to specialised agents.

Project:
{{.Goal}}

Available agents:
- html_agent: semantic page structure
- js_agent: interactive behaviour
- class_agent: reusable CSS classes, colors and responsive layout
- text_agent: written content
- code_agent: combines everything into the final pages

Reply in exactly this XML format, with a shared <context> describing the design direction:

<task_distribution>
    <context>Palette, tone, layout and anything every agent must agree on</context>
    <class_agent>
        <task>Create a navigation component class</task>
    </class_agent>
    <text_agent>
        <task>Generate hero section headline and tagline</task>
    </text_agent>
    <code_agent>
        <task>Combine all components into final HTML page</task>
    </code_agent>
</task_distribution>
`)

var correctionPrompt = mustParse("correction", `
Your previous reply could not be used: {{.Error}}

Reply again with a single well-formed <{{.Root}}> document and nothing else.

Original request:
{{.Original}}
`)
