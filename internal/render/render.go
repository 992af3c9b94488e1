// Package render defines the template rendering capability consumed by the
// catalog (fragment validation at domain-save time) and the locality read
// path (rendering an attribute map). It is injected so tests can substitute
// trivial or failing implementations.
package render

import (
	"strings"
	"text/template"

	dErrors "gazetteer/pkg/domain-errors"
)

// Renderer renders a template fragment against a context mapping.
type Renderer interface {
	Render(fragment string, ctx map[string]any) (string, error)
}

// Func adapts a plain function to the Renderer interface.
type Func func(fragment string, ctx map[string]any) (string, error)

func (f Func) Render(fragment string, ctx map[string]any) (string, error) {
	return f(fragment, ctx)
}

// TemplateRenderer renders fragments with text/template. Unknown variables
// resolve to empty output rather than an error, so a fragment that compiles
// against an empty context stays renderable for any locality.
type TemplateRenderer struct{}

func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{}
}

func (r *TemplateRenderer) Render(fragment string, ctx map[string]any) (string, error) {
	tmpl, err := template.New("fragment").Option("missingkey=zero").Parse(fragment)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeTemplateSyntax, err.Error())
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, ctx); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeTemplateSyntax, err.Error())
	}
	return out.String(), nil
}
