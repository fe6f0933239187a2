package outreach

import (
	"fmt"
	"strings"
)

const systemWriter = "You are an expert technical recruiter and resume writer. " +
	"You never invent employers, titles, dates, degrees or metrics that are not present in the source material. " +
	"Answer with the requested content only, without commentary or markdown fences."

func rewritePrompt(base, jobDescription, role string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rewrite the resume below for a %s position so that it targets the job description.\n", role)
	b.WriteString("Rules:\n")
	b.WriteString("- Keep every employer, title and date exactly as given.\n")
	b.WriteString("- Reorder and rephrase bullet points to lead with the skills the job asks for.\n")
	b.WriteString("- Use the job description's terminology where the resume supports it.\n")
	b.WriteString("- Return plain text with section headings in capitals.\n\n")
	fmt.Fprintf(&b, "JOB DESCRIPTION:\n%s\n\nRESUME:\n%s\n", jobDescription, base)
	return b.String()
}

func critiquePrompt(rewritten, jobDescription string) string {
	var b strings.Builder
	b.WriteString("Critically review the tailored resume against the job description.\n")
	b.WriteString("List, as short bullets: requirements that are not evidenced, claims that look unsupported, ")
	b.WriteString("and wording that a hiring manager would find generic. Do not rewrite the resume.\n\n")
	fmt.Fprintf(&b, "JOB DESCRIPTION:\n%s\n\nRESUME:\n%s\n", jobDescription, rewritten)
	return b.String()
}

func refinePrompt(rewritten, critique, jobDescription string) string {
	var b strings.Builder
	b.WriteString("Revise the resume using the review notes. Only strengthen points that the resume already ")
	b.WriteString("provides evidence for; drop claims the review marks as unsupported. ")
	b.WriteString("Return the complete revised resume as plain text.\n\n")
	fmt.Fprintf(&b, "JOB DESCRIPTION:\n%s\n\nREVIEW NOTES:\n%s\n\nRESUME:\n%s\n", jobDescription, critique, rewritten)
	return b.String()
}

func coverLetterPrompt(document, jobDescription string) string {
	var b strings.Builder
	b.WriteString("Write a concise cover letter email body (at most 180 words) for this application. ")
	b.WriteString("Mention two or three concrete strengths from the resume that match the job. ")
	b.WriteString("No placeholders, no subject line, end with a short sign-off.\n\n")
	fmt.Fprintf(&b, "JOB DESCRIPTION:\n%s\n\nRESUME:\n%s\n", jobDescription, document)
	return b.String()
}

func subjectPrompt(document, jobDescription string) string {
	var b strings.Builder
	b.WriteString("Write one email subject line (under 90 characters) for sending this resume to the hiring team. ")
	b.WriteString("Return only the subject text.\n\n")
	fmt.Fprintf(&b, "JOB DESCRIPTION:\n%s\n\nRESUME:\n%s\n", jobDescription, document)
	return b.String()
}

// cleanSubject strips a leading "Subject:" label and wrapping quotes.
func cleanSubject(s string) string {
	s = strings.TrimSpace(s)
	if first, _, ok := strings.Cut(s, "\n"); ok {
		s = strings.TrimSpace(first)
	}
	if len(s) >= 8 && strings.EqualFold(s[:8], "subject:") {
		s = strings.TrimSpace(s[8:])
	}
	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}
