package outreach

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cuongbtq/applyflow/internal/costguard"
	"github.com/cuongbtq/applyflow/internal/llm"
	"github.com/cuongbtq/applyflow/internal/mailer"
	"github.com/cuongbtq/applyflow/internal/pipeline"
	"github.com/cuongbtq/applyflow/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	replies []string
	prompts []string
	failAt  int
}

func (g *fakeGenerator) Complete(_ context.Context, usage costguard.TokenUsage, req llm.Request) (llm.Response, costguard.TokenUsage, error) {
	g.prompts = append(g.prompts, req.Prompt)
	n := len(g.prompts)
	if g.failAt == n {
		return llm.Response{}, usage, errors.New("provider unavailable")
	}
	reply := "generated"
	if n <= len(g.replies) {
		reply = g.replies[n-1]
	}
	return llm.Response{Content: reply}, usage.Add(costguard.TokenUsage{Input: 100, Output: 50, Total: 150, Cost: 0.01}), nil
}

// pricedClient is a provider that bills a fixed usage on every call.
type pricedClient struct {
	calls int
	usage llm.Usage
}

func (c *pricedClient) Provider() string { return "fake" }
func (c *pricedClient) Model() string    { return "test-model" }

func (c *pricedClient) Complete(_ context.Context, _ llm.Request) (llm.Response, error) {
	c.calls++
	return llm.Response{Content: "generated", Usage: c.usage}, nil
}

func meteredGenerator(client llm.Client) *llm.Metered {
	governor := costguard.NewGovernor(costguard.Config{
		MaxCostPerRun: 1.0,
		Rates:         costguard.RateTable{"test-model": {Input: 1.0, Output: 2.0}},
	})
	return llm.NewMetered(client, governor, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type fakeRenderer struct {
	html string
	err  error
}

func (r *fakeRenderer) RenderHTMLToPDF(_ context.Context, html string) ([]byte, error) {
	r.html = html
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-1.7 test"), nil
}

type fakeTemplate struct{}

func (fakeTemplate) Render(title, text string) (string, error) {
	return "<h1>" + title + "</h1><pre>" + text + "</pre>", nil
}

type fakeSender struct {
	sent []mailer.Mail
	err  error
}

func (s *fakeSender) Send(_ context.Context, m mailer.Mail) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, m)
	return nil
}

type fakeStore struct {
	puts int
}

func (s *fakeStore) Put(_ context.Context, jobID, name, _ string, _ []byte) (string, error) {
	s.puts++
	return "s3://artifacts/" + jobID + "/" + name, nil
}

func input() Context {
	return Context{
		JobID:          "5b1a3f8e-7f43-4a59-9d43-1a2f0f6b8c11",
		Role:           "backend",
		JobDescription: "Go engineer, Postgres, queues",
		TargetAddress:  "hiring@example.com",
		SenderAddress:  "me@example.com",
		Credential:     vault.Secret("app-password"),
		BaseDocument:   "EXPERIENCE\nBuilt things",
	}
}

func TestNewPipeline_DefaultSteps(t *testing.T) {
	p := NewPipeline(Deps{Generator: &fakeGenerator{}, Renderer: &fakeRenderer{}, Template: fakeTemplate{}, Sender: &fakeSender{}}, Options{})

	assert.Equal(t, []string{StepRewrite, StepCoverLetter, StepSubject, StepRenderPDF, StepSendEmail}, p.StepNames())
}

func TestNewPipeline_ReviewAndUpload(t *testing.T) {
	p := NewPipeline(Deps{
		Generator: &fakeGenerator{},
		Renderer:  &fakeRenderer{},
		Template:  fakeTemplate{},
		Sender:    &fakeSender{},
		Artifacts: &fakeStore{},
	}, Options{Review: true})

	assert.Equal(t, []string{
		StepRewrite, StepCritique, StepRefine, StepCoverLetter,
		StepSubject, StepRenderPDF, StepUpload, StepSendEmail,
	}, p.StepNames())
}

func TestPipeline_Success(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"REWRITTEN", "Dear team", `Subject: "Backend Engineer application"`}}
	renderer := &fakeRenderer{}
	sender := &fakeSender{}
	p := NewPipeline(Deps{Generator: gen, Renderer: renderer, Template: fakeTemplate{}, Sender: sender}, Options{Title: "Jane Doe"})

	out, err := p.Execute(context.Background(), input())
	require.NoError(t, err)

	assert.Equal(t, "REWRITTEN", out.FinalDocument)
	assert.Equal(t, "Dear team", out.CoverLetter)
	assert.Equal(t, "Backend Engineer application", out.Subject)
	assert.True(t, out.EmailSent)
	assert.Equal(t, "resume.pdf", out.PDFName)
	assert.Contains(t, renderer.html, "REWRITTEN")
	assert.EqualValues(t, 450, out.Usage.Total)
	assert.InDelta(t, 0.03, out.Usage.Cost, 1e-9)

	require.Len(t, sender.sent, 1)
	m := sender.sent[0]
	assert.Equal(t, "me@example.com", m.From)
	assert.Equal(t, "hiring@example.com", m.To)
	assert.Equal(t, "app-password", m.Secret.Reveal())
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, "resume.pdf", m.Attachments[0].Name)

	res := out.Result()
	assert.Equal(t, "Backend Engineer application", res.Subject)
	assert.Equal(t, "hiring@example.com", res.SentTo)
	assert.EqualValues(t, 450, res.TokenUsage.Total)
}

func TestPipeline_ReviewUsesRefinedDocument(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"REWRITTEN", "- claim X unsupported", "REFINED"}}
	renderer := &fakeRenderer{}
	p := NewPipeline(Deps{Generator: gen, Renderer: renderer, Template: fakeTemplate{}, Sender: &fakeSender{}}, Options{Review: true})

	out, err := p.Execute(context.Background(), input())
	require.NoError(t, err)

	assert.Equal(t, "REWRITTEN", out.RewrittenDocument)
	assert.Equal(t, "- claim X unsupported", out.Critique)
	assert.Equal(t, "REFINED", out.FinalDocument)
	assert.Contains(t, renderer.html, "REFINED")
	assert.Contains(t, gen.prompts[2], "claim X unsupported")
}

func TestPipeline_UploadsArtifact(t *testing.T) {
	store := &fakeStore{}
	p := NewPipeline(Deps{Generator: &fakeGenerator{}, Renderer: &fakeRenderer{}, Template: fakeTemplate{}, Sender: &fakeSender{}, Artifacts: store}, Options{DocumentName: "cv.pdf"})

	out, err := p.Execute(context.Background(), input())
	require.NoError(t, err)

	assert.Equal(t, 1, store.puts)
	assert.Equal(t, "s3://artifacts/"+input().JobID+"/cv.pdf", out.ArtifactURI)
}

func TestPipeline_GenerationFailureStopsBeforeSend(t *testing.T) {
	gen := &fakeGenerator{failAt: 2}
	sender := &fakeSender{}
	p := NewPipeline(Deps{Generator: gen, Renderer: &fakeRenderer{}, Template: fakeTemplate{}, Sender: sender}, Options{})

	out, err := p.Execute(context.Background(), input())
	require.Error(t, err)

	var stepErr *pipeline.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepCoverLetter, stepErr.Step)
	assert.Equal(t, "generated", out.FinalDocument)
	assert.Empty(t, sender.sent)
}

func TestPipeline_CostCeilingStopsRunBeforeSend(t *testing.T) {
	// One call costs exactly the ceiling: 500k in at $1/M plus 250k out at $2/M.
	client := &pricedClient{usage: llm.Usage{PromptTokens: 500_000, CompletionTokens: 250_000, TotalTokens: 750_000}}
	renderer := &fakeRenderer{}
	sender := &fakeSender{}
	p := NewPipeline(Deps{Generator: meteredGenerator(client), Renderer: renderer, Template: fakeTemplate{}, Sender: sender}, Options{})

	out, err := p.Execute(context.Background(), input())
	require.Error(t, err)

	var stepErr *pipeline.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepCoverLetter, stepErr.Step)
	assert.ErrorIs(t, err, costguard.ErrCeilingExceeded)

	assert.Equal(t, 1, client.calls)
	assert.InDelta(t, 1.0, out.Usage.Cost, 1e-9)
	assert.Empty(t, renderer.html)
	assert.Empty(t, sender.sent)
}

func TestPipeline_SpentRunNeverCallsProvider(t *testing.T) {
	client := &pricedClient{}
	sender := &fakeSender{}
	p := NewPipeline(Deps{Generator: meteredGenerator(client), Renderer: &fakeRenderer{}, Template: fakeTemplate{}, Sender: sender}, Options{})

	in := input()
	in.Usage = costguard.TokenUsage{Cost: 1.0}
	_, err := p.Execute(context.Background(), in)

	var stepErr *pipeline.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepRewrite, stepErr.Step)
	assert.ErrorIs(t, err, costguard.ErrCeilingExceeded)
	assert.Zero(t, client.calls)
	assert.Empty(t, sender.sent)
}

func TestPipeline_RenderFailure(t *testing.T) {
	sender := &fakeSender{}
	p := NewPipeline(Deps{Generator: &fakeGenerator{}, Renderer: &fakeRenderer{err: errors.New("renderer down")}, Template: fakeTemplate{}, Sender: sender}, Options{})

	_, err := p.Execute(context.Background(), input())
	require.Error(t, err)
	assert.Contains(t, err.Error(), StepRenderPDF)
	assert.Empty(t, sender.sent)
}

func TestSteps_CheckPreconditions(t *testing.T) {
	g := generation{gen: &fakeGenerator{}}
	tests := []struct {
		name string
		step pipeline.Step[Context]
		in   Context
	}{
		{"rewrite without base document", RewriteStep{g}, Context{JobDescription: "x"}},
		{"critique without rewrite", CritiqueStep{g}, Context{}},
		{"refine without critique", RefineStep{g}, Context{RewrittenDocument: "x"}},
		{"cover letter without document", CoverLetterStep{g}, Context{}},
		{"subject without document", SubjectStep{g}, Context{}},
		{"render without document", RenderStep{renderer: &fakeRenderer{}, template: fakeTemplate{}}, Context{}},
		{"upload without pdf", UploadStep{store: &fakeStore{}}, Context{}},
		{"send without credential", SendStep{sender: &fakeSender{}}, Context{TargetAddress: "a@b.c", SenderAddress: "d@e.f", PDF: []byte("x")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.step.Execute(context.Background(), tt.in)
			assert.ErrorIs(t, err, pipeline.ErrPrecondition)
		})
	}
}

func TestContext_Validate(t *testing.T) {
	assert.NoError(t, input().Validate())

	c := input()
	c.Credential = ""
	assert.ErrorIs(t, c.Validate(), pipeline.ErrPrecondition)

	c = input()
	c.BaseDocument = ""
	assert.ErrorIs(t, c.Validate(), pipeline.ErrPrecondition)
}

func TestCleanSubject(t *testing.T) {
	inputs := []string{
		"Backend role",
		`"Backend role"`,
		"Subject: Backend role",
		"subject: 'Backend role'",
		"  Backend role\nsecond line ignored",
	}
	for _, in := range inputs {
		assert.Equal(t, "Backend role", cleanSubject(in), in)
	}
}

func TestLibrary(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backend.txt"), []byte("backend resume"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data_engineer.md"), []byte("data resume"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.json"), []byte("{}"), 0o600))

	lib, err := LoadLibrary(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"backend", "dataengineer"}, lib.Roles())

	doc, err := lib.ForRole("Back-End")
	require.NoError(t, err)
	assert.Equal(t, "backend resume", doc)

	doc, err = lib.ForRole("data engineer")
	require.NoError(t, err)
	assert.Equal(t, "data resume", doc)

	_, err = lib.ForRole("designer")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "designer"))
}
