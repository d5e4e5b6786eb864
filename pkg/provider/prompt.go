package provider

import (
	"bytes"
	"embed"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
)

//go:embed prompt/*.md
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompt/*.md"))

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", goerr.Wrap(err, "failed to render prompt", goerr.V("template", name))
	}
	return buf.String(), nil
}
