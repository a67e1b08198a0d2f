package analyzer

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/dustin/go-humanize"

	"github.com/steveyegge/digin/internal/config"
	"github.com/steveyegge/digin/internal/traverse"
)

//go:embed prompt.tmpl
var defaultPromptTemplate string

// maxSnippets bounds how many file previews go into one prompt.
const maxSnippets = 20

type promptFile struct {
	Name     string
	Size     string
	Language string
	Lines    int
}

type promptSnippet struct {
	Name     string
	Language string
	Content  string
}

type promptData struct {
	Name     string
	Path     string
	Files    []promptFile
	Snippets []promptSnippet
}

type promptBuilder struct {
	tmpl *template.Template
}

func newPromptBuilder(settings *config.Settings) (*promptBuilder, error) {
	text := defaultPromptTemplate
	if settings.PromptFile != "" {
		data, err := os.ReadFile(settings.PromptFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt file: %w", err)
		}
		text = string(data)
	}
	tmpl, err := template.New("leaf").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}
	return &promptBuilder{tmpl: tmpl}, nil
}

// Build renders the prompt for one leaf directory.
func (p *promptBuilder) Build(req Request) (string, error) {
	data := promptData{Name: req.Dir.Name, Path: req.RelPath}
	for _, f := range req.Dir.Files {
		lang := traverse.DetectLanguage(f.Name)
		data.Files = append(data.Files, promptFile{
			Name:     f.Name,
			Size:     humanize.IBytes(uint64(f.Size)),
			Language: lang,
			Lines:    f.LineCount,
		})
		if f.ContentPreview != "" && len(data.Snippets) < maxSnippets {
			data.Snippets = append(data.Snippets, promptSnippet{
				Name:     f.Name,
				Language: lang,
				Content:  f.ContentPreview,
			})
		}
	}

	var sb strings.Builder
	if err := p.tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return sb.String(), nil
}
