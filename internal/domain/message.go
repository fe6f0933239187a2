package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// QueueMessage is the body published for each job. It is a work
// notification only; the job row is authoritative.
type QueueMessage struct {
	JobID               string `json:"job_id"`
	EncryptedCredential string `json:"encrypted_credential"`
	SenderAddress       string `json:"sender_address"`
	LogID               string `json:"log_id,omitempty"`
	BaseContent         string `json:"base_content,omitempty"`

	// EnqueuedAt is when the message was published. Zero for messages
	// from older producers.
	EnqueuedAt time.Time `json:"enqueued_at,omitempty"`
}

// Validate checks the fields a worker needs.
func (m QueueMessage) Validate() error {
	if _, err := uuid.Parse(m.JobID); err != nil {
		return fmt.Errorf("%w: job_id must be a UUID", ErrMalformedMessage)
	}
	if strings.TrimSpace(m.EncryptedCredential) == "" {
		return fmt.Errorf("%w: encrypted_credential is required", ErrMalformedMessage)
	}
	if strings.TrimSpace(m.SenderAddress) == "" {
		return fmt.Errorf("%w: sender_address is required", ErrMalformedMessage)
	}
	return nil
}

// ParseQueueMessage decodes and validates a message body.
func ParseQueueMessage(body []byte) (QueueMessage, error) {
	var m QueueMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return QueueMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := m.Validate(); err != nil {
		return QueueMessage{}, err
	}
	return m, nil
}

// Encode marshals the message.
func (m QueueMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}
