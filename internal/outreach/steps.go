package outreach

import (
	"context"
	"fmt"

	"github.com/cuongbtq/applyflow/internal/costguard"
	"github.com/cuongbtq/applyflow/internal/llm"
	"github.com/cuongbtq/applyflow/internal/mailer"
	"github.com/cuongbtq/applyflow/internal/pipeline"
)

// Step names as they appear in logs and the execution trail.
const (
	StepRewrite     = "RewriteDocument"
	StepCritique    = "CriticalAnalysis"
	StepRefine      = "EvidenceBasedRefinement"
	StepCoverLetter = "GenerateCoverLetter"
	StepSubject     = "GenerateSubjectLine"
	StepRenderPDF   = "RenderPDF"
	StepUpload      = "UploadArtifact"
	StepSendEmail   = "SendApplicationEmail"
)

// Generator is a cost-metered text generator (llm.Metered).
type Generator interface {
	Complete(ctx context.Context, usage costguard.TokenUsage, req llm.Request) (llm.Response, costguard.TokenUsage, error)
}

// Renderer converts HTML to PDF bytes.
type Renderer interface {
	RenderHTMLToPDF(ctx context.Context, html string) ([]byte, error)
}

// HTMLTemplate renders a plain-text document into HTML.
type HTMLTemplate interface {
	Render(title, text string) (string, error)
}

// Sender delivers the application email.
type Sender interface {
	Send(ctx context.Context, m mailer.Mail) error
}

// ArtifactStore keeps a copy of the rendered document.
type ArtifactStore interface {
	Put(ctx context.Context, jobID, name, contentType string, data []byte) (string, error)
}

type generation struct {
	gen         Generator
	maxTokens   int
	temperature float64
}

func (g generation) complete(ctx context.Context, in Context, prompt string) (string, costguard.TokenUsage, error) {
	resp, usage, err := g.gen.Complete(ctx, in.Usage, llm.Request{
		System:      systemWriter,
		Prompt:      prompt,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		return "", usage, err
	}
	return resp.Content, usage, nil
}

// RewriteStep tailors the base document to the job description.
type RewriteStep struct{ generation }

func (RewriteStep) Name() string { return StepRewrite }

func (s RewriteStep) Execute(ctx context.Context, in Context) (Context, error) {
	if in.BaseDocument == "" {
		return in, pipeline.Missing("base document")
	}
	if in.JobDescription == "" {
		return in, pipeline.Missing("job description")
	}

	text, usage, err := s.complete(ctx, in, rewritePrompt(in.BaseDocument, in.JobDescription, in.Role))
	if err != nil {
		in.Usage = usage
		return in, err
	}

	out := in
	out.RewrittenDocument = text
	out.FinalDocument = text
	out.Usage = usage
	return out, nil
}

// CritiqueStep reviews the rewritten document.
type CritiqueStep struct{ generation }

func (CritiqueStep) Name() string { return StepCritique }

func (s CritiqueStep) Execute(ctx context.Context, in Context) (Context, error) {
	if in.RewrittenDocument == "" {
		return in, pipeline.Missing("rewritten document")
	}

	text, usage, err := s.complete(ctx, in, critiquePrompt(in.RewrittenDocument, in.JobDescription))
	if err != nil {
		in.Usage = usage
		return in, err
	}

	out := in
	out.Critique = text
	out.Usage = usage
	return out, nil
}

// RefineStep applies the critique, keeping only evidenced claims.
type RefineStep struct{ generation }

func (RefineStep) Name() string { return StepRefine }

func (s RefineStep) Execute(ctx context.Context, in Context) (Context, error) {
	if in.RewrittenDocument == "" {
		return in, pipeline.Missing("rewritten document")
	}
	if in.Critique == "" {
		return in, pipeline.Missing("critique")
	}

	text, usage, err := s.complete(ctx, in, refinePrompt(in.RewrittenDocument, in.Critique, in.JobDescription))
	if err != nil {
		in.Usage = usage
		return in, err
	}

	out := in
	out.FinalDocument = text
	out.Usage = usage
	return out, nil
}

// CoverLetterStep writes the email body.
type CoverLetterStep struct{ generation }

func (CoverLetterStep) Name() string { return StepCoverLetter }

func (s CoverLetterStep) Execute(ctx context.Context, in Context) (Context, error) {
	if in.FinalDocument == "" {
		return in, pipeline.Missing("final document")
	}

	text, usage, err := s.complete(ctx, in, coverLetterPrompt(in.FinalDocument, in.JobDescription))
	if err != nil {
		in.Usage = usage
		return in, err
	}

	out := in
	out.CoverLetter = text
	out.Usage = usage
	return out, nil
}

// SubjectStep writes the email subject.
type SubjectStep struct{ generation }

func (SubjectStep) Name() string { return StepSubject }

func (s SubjectStep) Execute(ctx context.Context, in Context) (Context, error) {
	if in.FinalDocument == "" {
		return in, pipeline.Missing("final document")
	}

	text, usage, err := s.complete(ctx, in, subjectPrompt(in.FinalDocument, in.JobDescription))
	if err != nil {
		in.Usage = usage
		return in, err
	}

	out := in
	out.Subject = cleanSubject(text)
	out.Usage = usage
	return out, nil
}

// RenderStep renders the final document to PDF.
type RenderStep struct {
	renderer Renderer
	template HTMLTemplate
	title    string
	fileName string
}

func (RenderStep) Name() string { return StepRenderPDF }

func (s RenderStep) Execute(ctx context.Context, in Context) (Context, error) {
	if in.FinalDocument == "" {
		return in, pipeline.Missing("final document")
	}

	html, err := s.template.Render(s.title, in.FinalDocument)
	if err != nil {
		return in, err
	}

	pdf, err := s.renderer.RenderHTMLToPDF(ctx, html)
	if err != nil {
		return in, err
	}

	out := in
	out.PDF = pdf
	out.PDFName = s.fileName
	return out, nil
}

// UploadStep stores the PDF in the artifact store.
type UploadStep struct {
	store ArtifactStore
}

func (UploadStep) Name() string { return StepUpload }

func (s UploadStep) Execute(ctx context.Context, in Context) (Context, error) {
	if len(in.PDF) == 0 {
		return in, pipeline.Missing("pdf")
	}

	uri, err := s.store.Put(ctx, in.JobID, in.PDFName, "application/pdf", in.PDF)
	if err != nil {
		return in, err
	}

	out := in
	out.ArtifactURI = uri
	return out, nil
}

// SendStep emails the application from the sender's own account.
type SendStep struct {
	sender Sender
}

func (SendStep) Name() string { return StepSendEmail }

func (s SendStep) Execute(ctx context.Context, in Context) (Context, error) {
	switch {
	case in.TargetAddress == "":
		return in, pipeline.Missing("target address")
	case in.SenderAddress == "":
		return in, pipeline.Missing("sender address")
	case in.Credential.IsZero():
		return in, pipeline.Missing("credential")
	case len(in.PDF) == 0:
		return in, pipeline.Missing("pdf")
	}

	err := s.sender.Send(ctx, mailer.Mail{
		From:        in.SenderAddress,
		Secret:      in.Credential,
		To:          in.TargetAddress,
		Subject:     in.Subject,
		Body:        in.CoverLetter,
		Attachments: []mailer.Attachment{{Name: in.PDFName, Data: in.PDF}},
	})
	if err != nil {
		return in, fmt.Errorf("send application email: %w", err)
	}

	out := in
	out.EmailSent = true
	return out, nil
}
