package outreach

import (
	"github.com/cuongbtq/applyflow/internal/pipeline"
)

// Deps are the collaborators the application steps use.
type Deps struct {
	Generator Generator
	Renderer  Renderer
	Template  HTMLTemplate
	Sender    Sender
	// Artifacts is optional; when nil no upload step is added.
	Artifacts ArtifactStore
}

// Options tune the generated pipeline.
type Options struct {
	// Review adds the critique and refinement stages after the rewrite.
	Review       bool
	MaxTokens    int
	Temperature  float64
	DocumentName string
	Title        string
}

// NewPipeline assembles the application pipeline:
// rewrite, [critique, refine], cover letter, subject, render, [upload], send.
func NewPipeline(d Deps, o Options) *pipeline.Pipeline[Context] {
	g := generation{gen: d.Generator, maxTokens: o.MaxTokens, temperature: o.Temperature}

	fileName := o.DocumentName
	if fileName == "" {
		fileName = "resume.pdf"
	}

	p := pipeline.New[Context](RewriteStep{g})
	if o.Review {
		p.AddStep(CritiqueStep{g}).AddStep(RefineStep{g})
	}
	p.AddStep(CoverLetterStep{g}).
		AddStep(SubjectStep{g}).
		AddStep(RenderStep{renderer: d.Renderer, template: d.Template, title: o.Title, fileName: fileName})
	if d.Artifacts != nil {
		p.AddStep(UploadStep{store: d.Artifacts})
	}
	p.AddStep(SendStep{sender: d.Sender})

	return p
}
