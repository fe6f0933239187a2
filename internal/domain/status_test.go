package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	all := []Status{StatusPending, StatusInProgress, StatusSuccess, StatusFailed}

	legal := map[[2]Status]bool{
		{StatusPending, StatusInProgress}: true,
		{StatusPending, StatusFailed}:     true,
		{StatusInProgress, StatusSuccess}: true,
		{StatusInProgress, StatusFailed}:  true,
		{StatusFailed, StatusPending}:     true,
	}

	for _, from := range all {
		for _, to := range all {
			want := legal[[2]Status{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCanTransition_SuccessIsFinal(t *testing.T) {
	for _, to := range []Status{StatusPending, StatusInProgress, StatusSuccess, StatusFailed} {
		assert.False(t, CanTransition(StatusSuccess, to), "SUCCESS -> %s", to)
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusInProgress.IsTerminal())
	assert.True(t, StatusSuccess.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, Status("RUNNING").IsValid())
}

func TestAllowedFrom(t *testing.T) {
	assert.ElementsMatch(t, []Status{StatusPending, StatusInProgress}, AllowedFrom(StatusFailed))

	got := AllowedFrom(StatusSuccess)
	got[0] = StatusPending
	assert.Equal(t, []Status{StatusInProgress}, AllowedFrom(StatusSuccess), "returned slice is a copy")
}

func TestParseQueueMessage(t *testing.T) {
	const jobID = "5f0c7c2e-7a7d-4a8b-9d7e-0d1b2b3c4d5e"

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{
			name: "valid",
			body: `{"job_id":"` + jobID + `","encrypted_credential":"abc","sender_address":"me@example.com","log_id":"01HX"}`,
		},
		{name: "not json", body: `not-json`, wantErr: true},
		{name: "bad uuid", body: `{"job_id":"42","encrypted_credential":"abc","sender_address":"me@example.com"}`, wantErr: true},
		{name: "missing credential", body: `{"job_id":"` + jobID + `","sender_address":"me@example.com"}`, wantErr: true},
		{name: "missing sender", body: `{"job_id":"` + jobID + `","encrypted_credential":"abc"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseQueueMessage([]byte(tt.body))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedMessage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, jobID, msg.JobID)
			assert.Equal(t, "01HX", msg.LogID)
		})
	}
}
