package mailer

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/applyflow/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "  hr@example.com ", want: "hr@example.com"},
		// Mathematical bold letters fold to ASCII.
		{in: "𝐡𝐫@example.com", want: "hr@example.com"},
		// Fullwidth at-sign.
		{in: "hr＠example.com", want: "hr@example.com"},
		{in: "", want: ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeAddress(tt.in))
	}
}

func TestTLSPolicy(t *testing.T) {
	assert.Equal(t, mail.NoTLS, tlsPolicy("none"))
	assert.Equal(t, mail.TLSOpportunistic, tlsPolicy("Opportunistic"))
	assert.Equal(t, mail.TLSMandatory, tlsPolicy(""))
	assert.Equal(t, mail.TLSMandatory, tlsPolicy("mandatory"))
}

func testSMTP(port int) *SMTP {
	return NewSMTP(Config{Host: "127.0.0.1", Port: port, Timeout: 5 * time.Second, TLS: "none"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSMTP_Verify(t *testing.T) {
	srv := startSMTPServer(t, "app-password")
	s := testSMTP(srv.port())

	require.NoError(t, s.Verify(context.Background(), "me@example.com", vault.Secret("app-password")))

	users, commands, data := srv.snapshot()
	assert.Equal(t, []string{"me@example.com"}, users)
	assert.NotContains(t, commands, "MAIL")
	assert.Empty(t, data)
}

func TestSMTP_VerifyRejectedCredential(t *testing.T) {
	srv := startSMTPServer(t, "app-password")
	s := testSMTP(srv.port())

	err := s.Verify(context.Background(), "me@example.com", vault.Secret("wrong"))

	require.ErrorIs(t, err, ErrVerification)
	assert.NotContains(t, err.Error(), "wrong")
	users, _, _ := srv.snapshot()
	assert.Empty(t, users)
}

func TestSMTP_Send(t *testing.T) {
	srv := startSMTPServer(t, "app-password")
	s := testSMTP(srv.port())

	err := s.Send(context.Background(), Mail{
		From:        "me@example.com",
		Secret:      vault.Secret("app-password"),
		To:          " hr＠example.com ",
		Subject:     "Backend Engineer application",
		Body:        "Dear team",
		Attachments: []Attachment{{Name: "resume.pdf", Data: []byte("%PDF-1.7")}},
	})
	require.NoError(t, err)

	users, commands, data := srv.snapshot()
	assert.Equal(t, []string{"me@example.com"}, users)
	assert.Contains(t, commands, "MAIL")
	assert.Contains(t, commands, "RCPT")
	require.Len(t, data, 1)
	assert.Contains(t, data[0], "Subject: Backend Engineer application")
	assert.Contains(t, data[0], "To: <hr@example.com>")
	assert.Contains(t, data[0], `filename="resume.pdf"`)
	assert.NotContains(t, data[0], "app-password")
}

func TestSMTP_SendRequiresTarget(t *testing.T) {
	s := testSMTP(1)

	err := s.Send(context.Background(), Mail{From: "me@example.com", To: "  "})
	assert.ErrorContains(t, err, "target address is required")
}
