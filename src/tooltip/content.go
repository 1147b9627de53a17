package tooltip

import (
	"bytes"
	"fmt"
	"html/template"
	"regexp"

	"github.com/microcosm-cc/bluemonday"

	"manga-dissector/src/llm"
)

type DisplayState int

const (
	Loading DisplayState = iota
	Result
	Error
)

func (s DisplayState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Result:
		return "result"
	case Error:
		return "error"
	}
	return fmt.Sprintf("DisplayState(%d)", int(s))
}

// Content is what the panel shows.
type Content struct {
	State    DisplayState
	Analysis *llm.Analysis
	Message  string
}

func LoadingContent() Content { return Content{State: Loading} }

func ResultContent(a *llm.Analysis) Content { return Content{State: Result, Analysis: a} }

func ErrorContent(msg string) Content { return Content{State: Error, Message: msg} }

const templateText = `
{{define "loading"}}<div class="manga-dissector-loading"><div class="manga-dissector-spinner"></div><span>Analyzing Japanese text...</span></div>{{end}}

{{define "error"}}<div class="manga-dissector-error"><span class="manga-dissector-error-icon">⚠️</span><span>{{.}}</span></div>{{end}}

{{define "noText"}}<div class="manga-dissector-result"><div class="manga-dissector-no-text">No Japanese text detected in the selected region.<br><small>Try selecting a different area.</small></div></div>{{end}}

{{define "section"}}<div class="manga-dissector-section"><div class="manga-dissector-label">{{.Label}}</div><div class="manga-dissector-{{.Class}}">{{.Text}}</div></div>{{end}}

{{define "result"}}<div class="manga-dissector-result">
{{- with .OriginalText}}{{template "section" (section "Original" "original" .)}}{{end}}
{{- with .Reading}}{{template "section" (section "Reading" "reading" .)}}{{end}}
{{- with .Translation}}{{template "section" (section "Translation" "translation" .)}}{{end}}
{{- if .Breakdown}}<details class="manga-dissector-section manga-dissector-collapsible"><summary class="manga-dissector-label manga-dissector-collapse-toggle">Breakdown<span class="manga-dissector-collapse-icon"></span></summary><div class="manga-dissector-breakdown">
{{- range .Breakdown}}<div class="manga-dissector-word"><span class="manga-dissector-word-japanese">{{.Word}}</span>
{{- with .Reading}}<span class="manga-dissector-word-reading">({{.}})</span>{{end -}}
<span class="manga-dissector-word-meaning">— {{.Meaning}}</span>
{{- with .Type}}<span class="manga-dissector-word-type">[{{.}}]</span>{{end -}}
</div>{{end -}}
</div></details>{{end}}
{{- with .Notes}}{{template "section" (section "Notes" "notes" .)}}{{end -}}
</div>{{end}}
`

var templates = template.Must(template.New("tooltip").Funcs(template.FuncMap{
	"section": func(label, class, text string) map[string]string {
		return map[string]string{"Label": label, "Class": class, "Text": text}
	},
}).Parse(templateText))

var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("div", "span", "details", "summary", "small", "br")
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^[a-z0-9 -]+$`)).Globally()
	return p
}

// Render produces sanitized HTML for c. It is deterministic: the same content
// always renders to the same string.
func Render(c Content) (string, error) {
	name, data := "loading", any(nil)
	switch c.State {
	case Error:
		name, data = "error", c.Message
	case Result:
		switch {
		case c.Analysis == nil:
			name, data = "error", "Failed to parse analysis result"
		case c.Analysis.NoText:
			name = "noText"
		default:
			name, data = "result", c.Analysis
		}
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return policy.Sanitize(buf.String()), nil
}
