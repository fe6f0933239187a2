package outreach

import (
	"github.com/cuongbtq/applyflow/internal/costguard"
	"github.com/cuongbtq/applyflow/internal/domain"
	"github.com/cuongbtq/applyflow/internal/pipeline"
	"github.com/cuongbtq/applyflow/internal/vault"
)

// Context is the value threaded through the application pipeline.
// Inputs are set by the worker; each step fills in its own outputs.
type Context struct {
	JobID          string
	LogID          string
	Role           string
	JobDescription string
	TargetAddress  string
	SenderAddress  string
	Credential     vault.Secret
	BaseDocument   string

	RewrittenDocument string
	Critique          string
	FinalDocument     string
	CoverLetter       string
	Subject           string
	PDF               []byte
	PDFName           string
	ArtifactURI       string
	EmailSent         bool

	Usage costguard.TokenUsage
}

// TokenUsage implements pipeline.UsageReporter.
func (c Context) TokenUsage() costguard.TokenUsage {
	return c.Usage
}

// Validate checks the inputs required before the first step runs.
func (c Context) Validate() error {
	switch {
	case c.JobID == "":
		return pipeline.Missing("job id")
	case c.JobDescription == "":
		return pipeline.Missing("job description")
	case c.TargetAddress == "":
		return pipeline.Missing("target address")
	case c.SenderAddress == "":
		return pipeline.Missing("sender address")
	case c.Credential.IsZero():
		return pipeline.Missing("credential")
	case c.BaseDocument == "":
		return pipeline.Missing("base document")
	}
	return nil
}

// Result is what gets persisted on SUCCESS. The credential is never part of it.
func (c Context) Result() *domain.JobResult {
	return &domain.JobResult{
		Subject:     c.Subject,
		SentTo:      c.TargetAddress,
		CoverLetter: c.CoverLetter,
		Document:    c.FinalDocument,
		ArtifactURI: c.ArtifactURI,
		TokenUsage:  c.Usage,
	}
}
